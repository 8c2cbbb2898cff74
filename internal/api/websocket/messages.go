package websocket

import (
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/motion"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Robot state messages
	MessageTypeRobotState      MessageType = "robot_state"
	MessageTypeRobotConnection MessageType = "robot_connection"
	MessageTypeRobotMessage    MessageType = "robot_message"

	// Motion execution messages
	MessageTypeMotionEvent MessageType = "motion_event"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Topics a client can subscribe to. New clients get all of them.
const (
	TopicState  = "state"
	TopicMotion = "motion"
	TopicSystem = "system"
)

func (t MessageType) topic() string {
	switch t {
	case MessageTypeRobotState:
		return TopicState
	case MessageTypeMotionEvent:
		return TopicMotion
	default:
		return TopicSystem
	}
}

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// RobotStateData is the compact snapshot pushed to live clients.
type RobotStateData struct {
	Sequence       uint64           `json:"sequence"`
	Timestamp      time.Time        `json:"timestamp"`
	ProgramRunning bool             `json:"program_running"`
	SafetyMode     state.SafetyMode `json:"safety_mode"`
	Stale          bool             `json:"stale"`
	Joints         []float64        `json:"joints,omitempty"`
	TCP            *transform.Pose  `json:"tcp,omitempty"`
	Forces         *[6]float64      `json:"forces,omitempty"`
	DigitalIn      uint32           `json:"digital_in"`
	DigitalOut     uint32           `json:"digital_out"`
}

// RobotConnectionData reports the stale flag flipping.
type RobotConnectionData struct {
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Helper functions for creating specific message types

func NewRobotStateMessage(snap state.RobotState) Message {
	data := RobotStateData{
		Sequence:       snap.Sequence,
		Timestamp:      snap.Timestamp,
		ProgramRunning: snap.IsProgramRunning(),
		SafetyMode:     snap.SafetyMode,
		Stale:          snap.Stale,
		DigitalIn:      snap.MasterBoard.DigitalInputBits,
		DigitalOut:     snap.MasterBoard.DigitalOutputBits,
	}
	if snap.HasJoints {
		data.Joints = snap.Joints.Positions()
	}
	if snap.HasCartesian {
		tcp := snap.Cartesian.TCP
		data.TCP = &tcp
	}
	if snap.HasRealtime {
		forces := snap.Realtime.TCPForce
		data.Forces = &forces
	}
	return NewMessage(MessageTypeRobotState, data)
}

func NewRobotConnectionMessage(snap state.RobotState) Message {
	return NewMessage(MessageTypeRobotConnection, RobotConnectionData{
		Connected: !snap.Stale,
		Reason:    snap.StaleReason,
	})
}

func NewRobotMessage(msg state.RobotMessage) Message {
	return NewMessage(MessageTypeRobotMessage, msg)
}

func NewMotionEventMessage(exec motion.Execution) Message {
	return NewMessage(MessageTypeMotionEvent, exec)
}
