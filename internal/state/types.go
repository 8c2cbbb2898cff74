package state

import (
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/transform"
)

// JointCount is the number of joints on the arm.
const JointCount = 6

type SafetyMode string

const (
	SafetyNormal         SafetyMode = "normal"
	SafetyReduced        SafetyMode = "reduced"
	SafetyProtectiveStop SafetyMode = "protective_stop"
	SafetyEmergencyStop  SafetyMode = "emergency_stop"
	SafetyFault          SafetyMode = "fault"
)

// Stopped reports whether the mode halts any in-flight command.
func (m SafetyMode) Stopped() bool {
	switch m {
	case SafetyProtectiveStop, SafetyEmergencyStop, SafetyFault:
		return true
	}
	return false
}

// Safety mode codes of the masterboard sub-package on 3.x controllers. Zero
// means the field was not reported.
const (
	BoardSafetyNormal         uint8 = 1
	BoardSafetyReduced        uint8 = 2
	BoardSafetyProtectiveStop uint8 = 3
	BoardSafetyRecovery       uint8 = 4
	BoardSafetySafeguardStop  uint8 = 5
	BoardSafetySystemEStop    uint8 = 6
	BoardSafetyRobotEStop     uint8 = 7
	BoardSafetyViolation      uint8 = 8
	BoardSafetyFault          uint8 = 9
)

// RobotModeData is sub-package 0 of the secondary stream.
type RobotModeData struct {
	ControllerTimestamp uint64  `json:"controller_timestamp"`
	RobotConnected      bool    `json:"robot_connected"`
	RealRobotEnabled    bool    `json:"real_robot_enabled"`
	PowerOn             bool    `json:"power_on"`
	EmergencyStopped    bool    `json:"emergency_stopped"`
	ProtectiveStopped   bool    `json:"protective_stopped"`
	ProgramRunning      bool    `json:"program_running"`
	ProgramPaused       bool    `json:"program_paused"`
	RobotMode           uint8   `json:"robot_mode"`
	SpeedFraction       float64 `json:"speed_fraction"`
	ControlMode         uint8   `json:"control_mode"`
}

type Joint struct {
	QActual   float64 `json:"q_actual"`
	QTarget   float64 `json:"q_target"`
	QdActual  float64 `json:"qd_actual"`
	Current   float32 `json:"current"`
	Voltage   float32 `json:"voltage"`
	MotorTemp float32 `json:"motor_temperature"`
	MicroTemp float32 `json:"micro_temperature"`
	JointMode uint8   `json:"joint_mode"`
}

type JointData [JointCount]Joint

// Positions returns the actual joint angles in radians.
func (j JointData) Positions() []float64 {
	out := make([]float64, JointCount)
	for i := range j {
		out[i] = j[i].QActual
	}
	return out
}

type CartesianInfo struct {
	TCP transform.Pose `json:"tcp"`
	// TCPOffset is only present on controllers that report it.
	TCPOffset    transform.Pose `json:"tcp_offset"`
	HasTCPOffset bool           `json:"has_tcp_offset"`
}

type MasterBoardData struct {
	DigitalInputBits   uint32     `json:"digital_input_bits"`
	DigitalOutputBits  uint32     `json:"digital_output_bits"`
	AnalogInputRange   [2]int8    `json:"analog_input_range"`
	AnalogInput        [2]float64 `json:"analog_input"`
	AnalogOutputDomain [2]int8    `json:"analog_output_domain"`
	AnalogOutput       [2]float64 `json:"analog_output"`
	Temperature        float32    `json:"temperature"`
	RobotVoltage48V    float32    `json:"robot_voltage_48v"`
	RobotCurrent       float32    `json:"robot_current"`
	MasterIOCurrent    float32    `json:"master_io_current"`
	SafetyMode         uint8      `json:"safety_mode"`
	ReducedMode        bool       `json:"reduced_mode"`
}

type ToolData struct {
	AnalogInputRange [2]int8    `json:"analog_input_range"`
	AnalogInput      [2]float64 `json:"analog_input"`
	Voltage48V       float32    `json:"voltage_48v"`
	OutputVoltage    uint8      `json:"output_voltage"`
	Current          float32    `json:"current"`
	Temperature      float32    `json:"temperature"`
	Mode             uint8      `json:"mode"`
}

type JointLimits struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	MaxSpeed float64 `json:"max_speed"`
	MaxAccel float64 `json:"max_accel"`
}

type ConfigurationData struct {
	Joints        [JointCount]JointLimits `json:"joints"`
	VJointDefault float64                 `json:"v_joint_default"`
	AJointDefault float64                 `json:"a_joint_default"`
	VToolDefault  float64                 `json:"v_tool_default"`
	AToolDefault  float64                 `json:"a_tool_default"`
	EqRadius      float64                 `json:"eq_radius"`
}

type VersionInfo struct {
	ProjectName string `json:"project_name"`
	Major       uint8  `json:"major"`
	Minor       uint8  `json:"minor"`
	SVNRevision int32  `json:"svn_revision"`
	BuildDate   string `json:"build_date"`
}

// RealtimeData is everything the real-time interface contributes.
type RealtimeData struct {
	ControllerTime float64             `json:"controller_time"`
	QTarget        [JointCount]float64 `json:"q_target"`
	QActual        [JointCount]float64 `json:"q_actual"`
	QdActual       [JointCount]float64 `json:"qd_actual"`
	CurrentActual  [JointCount]float64 `json:"current_actual"`
	ToolVector     [6]float64          `json:"tool_vector"`
	TCPSpeed       [6]float64          `json:"tcp_speed"`
	TCPForce       [6]float64          `json:"tcp_force"`
	DigitalInputs  uint32              `json:"digital_inputs"`
	RobotMode      float64             `json:"robot_mode"`
	SafetyCode     float64             `json:"safety_code"`
	DigitalOutputs uint32              `json:"digital_outputs"`
	ProgramState   float64             `json:"program_state"`
	FrameSize      int                 `json:"frame_size"`
}

// RobotMessage is a text-bearing message from the controller (type 20).
type RobotMessage struct {
	ControllerTimestamp uint64 `json:"controller_timestamp"`
	Source              int8   `json:"source"`
	MessageType         uint8  `json:"message_type"`
	Code                int32  `json:"code,omitempty"`
	Argument            int32  `json:"argument,omitempty"`
	Title               string `json:"title,omitempty"`
	Text                string `json:"text"`
}

// RobotState is the latest known state of the arm.
type RobotState struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	Mode          RobotModeData     `json:"mode"`
	Joints        JointData         `json:"joints"`
	Cartesian     CartesianInfo     `json:"cartesian"`
	MasterBoard   MasterBoardData   `json:"master_board"`
	Tool          ToolData          `json:"tool"`
	Configuration ConfigurationData `json:"configuration"`
	Version       VersionInfo       `json:"version"`
	LastMessage   *RobotMessage     `json:"last_message,omitempty"`
	Realtime      RealtimeData      `json:"realtime"`

	SafetyMode     SafetyMode `json:"safety_mode"`
	ProgramRunning bool       `json:"program_running"`

	SecondaryAt time.Time `json:"secondary_at"`
	RealtimeAt  time.Time `json:"realtime_at"`
	Stale       bool      `json:"stale"`
	StaleReason string    `json:"stale_reason,omitempty"`

	HasMode      bool `json:"has_mode"`
	HasJoints    bool `json:"has_joints"`
	HasCartesian bool `json:"has_cartesian"`
	HasRealtime  bool `json:"has_realtime"`
}

// classifySafety derives the safety mode from the robot-mode flags and the
// masterboard. A robot that is disconnected from its controller or powered off
// cannot finish a program, so both count as a fault.
func (s RobotState) classifySafety() SafetyMode {
	if s.HasMode {
		switch {
		case s.Mode.EmergencyStopped:
			return SafetyEmergencyStop
		case s.Mode.ProtectiveStopped:
			return SafetyProtectiveStop
		case !s.Mode.RobotConnected || !s.Mode.PowerOn:
			return SafetyFault
		}
	}

	switch s.MasterBoard.SafetyMode {
	case BoardSafetySystemEStop, BoardSafetyRobotEStop:
		return SafetyEmergencyStop
	case BoardSafetyProtectiveStop, BoardSafetySafeguardStop:
		return SafetyProtectiveStop
	case BoardSafetyRecovery, BoardSafetyViolation, BoardSafetyFault:
		return SafetyFault
	case BoardSafetyReduced:
		return SafetyReduced
	}
	if s.MasterBoard.ReducedMode {
		return SafetyReduced
	}
	return SafetyNormal
}

// IsProgramRunning applies the safety override: a stopped or faulted robot
// is never reported as running.
func (s RobotState) IsProgramRunning() bool {
	if s.Stale || s.SafetyMode.Stopped() {
		return false
	}
	return s.ProgramRunning
}

// Age is how long ago the state last changed.
func (s RobotState) Age(now time.Time) time.Duration {
	if s.Timestamp.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(s.Timestamp)
}

// JointAngles prefers the real-time stream when it is fresher.
func (s RobotState) JointAngles() []float64 {
	if s.HasRealtime && s.RealtimeAt.After(s.SecondaryAt) {
		return append([]float64(nil), s.Realtime.QActual[:]...)
	}
	return s.Joints.Positions()
}

// DigitalIn reports input n from the masterboard bitmask.
func (s RobotState) DigitalIn(n int) bool {
	return s.MasterBoard.DigitalInputBits&(1<<uint(n)) != 0
}

func (s RobotState) DigitalOut(n int) bool {
	return s.MasterBoard.DigitalOutputBits&(1<<uint(n)) != 0
}
