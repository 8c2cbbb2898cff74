package protocol

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
)

// fieldWriter mirrors fieldReader for the simulator and tests.
type fieldWriter struct {
	bytes.Buffer
}

func (w *fieldWriter) u8(v uint8) { w.WriteByte(v) }
func (w *fieldWriter) i8(v int8)  { w.WriteByte(byte(v)) }

func (w *fieldWriter) bool(v bool) {
	if v {
		w.WriteByte(1)
		return
	}
	w.WriteByte(0)
}

func (w *fieldWriter) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func (w *fieldWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func (w *fieldWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *fieldWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func (w *fieldWriter) f32(v float32) { w.u32(math.Float32bits(v)) }
func (w *fieldWriter) f64(v float64) { w.u64(math.Float64bits(v)) }

func (w *fieldWriter) pose(p transform.Pose) {
	for _, v := range p.Vector() {
		w.f64(v)
	}
}

// frame prefixes payload with its total length and type tag.
func frame(tag uint8, payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(out)))
	out[4] = tag
	copy(out[headerSize:], payload)
	return out
}

// EncodeSubPackage wraps an arbitrary payload, e.g. to emulate tags from a
// newer controller.
func EncodeSubPackage(tag uint8, payload []byte) []byte {
	return frame(tag, payload)
}

// EncodeRobotState joins sub-packages into a message of type 16.
func EncodeRobotState(subs ...[]byte) []byte {
	return frame(MessageTypeRobotState, bytes.Join(subs, nil))
}

func EncodeRobotMode(m state.RobotModeData, major uint8) []byte {
	var w fieldWriter
	w.u64(m.ControllerTimestamp)
	w.bool(m.RobotConnected)
	w.bool(m.RealRobotEnabled)
	w.bool(m.PowerOn)
	w.bool(m.EmergencyStopped)
	w.bool(m.ProtectiveStopped)
	w.bool(m.ProgramRunning)
	w.bool(m.ProgramPaused)
	w.u8(m.RobotMode)
	if major >= 3 {
		w.u8(m.ControlMode)
	}
	w.f64(m.SpeedFraction)
	return frame(SubRobotMode, w.Bytes())
}

func EncodeJointData(j state.JointData) []byte {
	var w fieldWriter
	for _, jt := range j {
		w.f64(jt.QActual)
		w.f64(jt.QTarget)
		w.f64(jt.QdActual)
		w.f32(jt.Current)
		w.f32(jt.Voltage)
		w.f32(jt.MotorTemp)
		w.f32(jt.MicroTemp)
		w.u8(jt.JointMode)
	}
	return frame(SubJointData, w.Bytes())
}

func EncodeToolData(t state.ToolData) []byte {
	var w fieldWriter
	w.i8(t.AnalogInputRange[0])
	w.i8(t.AnalogInputRange[1])
	w.f64(t.AnalogInput[0])
	w.f64(t.AnalogInput[1])
	w.f32(t.Voltage48V)
	w.u8(t.OutputVoltage)
	w.f32(t.Current)
	w.f32(t.Temperature)
	w.u8(t.Mode)
	return frame(SubToolData, w.Bytes())
}

func EncodeMasterBoard(m state.MasterBoardData, major uint8) []byte {
	var w fieldWriter
	if major >= 3 {
		w.u32(m.DigitalInputBits)
		w.u32(m.DigitalOutputBits)
	} else {
		w.u16(uint16(m.DigitalInputBits))
		w.u16(uint16(m.DigitalOutputBits))
	}
	w.i8(m.AnalogInputRange[0])
	w.i8(m.AnalogInputRange[1])
	w.f64(m.AnalogInput[0])
	w.f64(m.AnalogInput[1])
	w.i8(m.AnalogOutputDomain[0])
	w.i8(m.AnalogOutputDomain[1])
	w.f64(m.AnalogOutput[0])
	w.f64(m.AnalogOutput[1])
	w.f32(m.Temperature)
	w.f32(m.RobotVoltage48V)
	w.f32(m.RobotCurrent)
	w.f32(m.MasterIOCurrent)
	if major >= 3 {
		w.u8(m.SafetyMode)
		w.bool(m.ReducedMode)
	}
	return frame(SubMasterBoard, w.Bytes())
}

func EncodeCartesianInfo(c state.CartesianInfo) []byte {
	var w fieldWriter
	w.pose(c.TCP)
	if c.HasTCPOffset {
		w.pose(c.TCPOffset)
	}
	return frame(SubCartesianInfo, w.Bytes())
}

func EncodeConfiguration(c state.ConfigurationData) []byte {
	var w fieldWriter
	for _, j := range c.Joints {
		w.f64(j.Min)
		w.f64(j.Max)
	}
	for _, j := range c.Joints {
		w.f64(j.MaxSpeed)
		w.f64(j.MaxAccel)
	}
	w.f64(c.VJointDefault)
	w.f64(c.AJointDefault)
	w.f64(c.VToolDefault)
	w.f64(c.AToolDefault)
	w.f64(c.EqRadius)
	return frame(SubConfiguration, w.Bytes())
}

// EncodeVersionMessage builds a complete type-20 message.
func EncodeVersionMessage(ts uint64, v state.VersionInfo) []byte {
	var w fieldWriter
	w.u64(ts)
	w.i8(-1)
	w.u8(RobotMessageVersion)
	w.u8(uint8(len(v.ProjectName)))
	w.WriteString(v.ProjectName)
	w.u8(v.Major)
	w.u8(v.Minor)
	w.i32(v.SVNRevision)
	w.WriteString(v.BuildDate)
	return frame(MessageTypeRobotMessage, w.Bytes())
}

// EncodeTextMessage builds a complete type-20 text message.
func EncodeTextMessage(ts uint64, text string) []byte {
	var w fieldWriter
	w.u64(ts)
	w.i8(-1)
	w.u8(RobotMessageText)
	w.WriteString(text)
	return frame(MessageTypeRobotMessage, w.Bytes())
}

// EncodeCommMessage builds a complete type-20 comm message with code and argument.
func EncodeCommMessage(ts uint64, code, argument int32, text string) []byte {
	var w fieldWriter
	w.u64(ts)
	w.i8(-1)
	w.u8(RobotMessageComm)
	w.i32(code)
	w.i32(argument)
	w.WriteString(text)
	return frame(MessageTypeRobotMessage, w.Bytes())
}

// EncodeRealtimeFrame lays data out for the given frame size. Fields the
// layout does not carry are left as zero.
func EncodeRealtimeFrame(size int, data state.RealtimeData) []byte {
	l, ok := layoutFor(size)
	if !ok {
		// Unknown sizes produce a zero-filled frame so tests can exercise the
		// anomaly path.
		out := make([]byte, size)
		binary.BigEndian.PutUint32(out[0:4], uint32(size))
		return out
	}

	out := make([]byte, size)
	binary.BigEndian.PutUint32(out[0:4], uint32(size))
	put := func(off int, v float64) {
		binary.BigEndian.PutUint64(out[off:off+8], math.Float64bits(v))
	}
	put6 := func(off int, v [6]float64) {
		for i, f := range v {
			put(off+i*8, f)
		}
	}

	put(l.time, data.ControllerTime)
	put6(l.qTarget, data.QTarget)
	put6(l.qActual, data.QActual)
	put6(l.qdActual, data.QdActual)
	put6(l.iActual, data.CurrentActual)
	put6(l.toolVector, data.ToolVector)
	put6(l.tcpSpeed, data.TCPSpeed)
	put6(l.tcpForce, data.TCPForce)
	put(l.digitalIn, float64(data.DigitalInputs))
	put(l.robotMode, data.RobotMode)
	if l.safety >= 0 {
		put(l.safety, data.SafetyCode)
	}
	if l.digitalOut >= 0 {
		put(l.digitalOut, float64(data.DigitalOutputs))
	}
	if l.programState >= 0 {
		put(l.programState, data.ProgramState)
	}
	return out
}
