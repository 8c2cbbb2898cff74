// Package protocol decodes the controller's secondary-port packets and
// real-time frames, and encodes them again for the simulator.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/KevinKickass/OpenArmCore/internal/types"
)

const (
	// headerSize is the 4-byte length plus the 1-byte type.
	headerSize = 5

	// MaxPacketSize bounds a declared secondary packet length.
	MaxPacketSize = 1 << 16
)

// SecondaryDecoder turns an arbitrary chunked byte stream into packets.
// It is not safe for concurrent use; one monitor goroutine owns it.
type SecondaryDecoder struct {
	buf      []byte
	consumed int
	major    uint8
}

func NewSecondaryDecoder() *SecondaryDecoder {
	return &SecondaryDecoder{}
}

// Feed appends bytes read from the wire.
func (d *SecondaryDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered is the number of bytes waiting for the rest of their packet.
func (d *SecondaryDecoder) Buffered() int {
	return len(d.buf)
}

// MajorVersion is the controller major version, 0 until a version message was seen.
func (d *SecondaryDecoder) MajorVersion() uint8 {
	return d.major
}

// SetMajorVersion selects the field layouts up front when the version is known.
func (d *SecondaryDecoder) SetMajorVersion(major uint8) {
	d.major = major
}

// Reset drops buffered bytes, used after the connection was re-established.
func (d *SecondaryDecoder) Reset() {
	d.buf = d.buf[:0]
	d.consumed = 0
}

// Next returns the next complete packet. ok is false when more bytes are
// needed. A non-nil error means the stream is unusable and the connection
// should be dropped.
func (d *SecondaryDecoder) Next() (pkt *Packet, ok bool, err error) {
	if len(d.buf) < 4 {
		return nil, false, nil
	}

	size := int(int32(binary.BigEndian.Uint32(d.buf[0:4])))
	if size < headerSize || size > MaxPacketSize {
		return nil, false, d.fail(0, "declared packet length %d outside [%d, %d]", size, headerSize, MaxPacketSize)
	}
	if len(d.buf) < size {
		return nil, false, nil
	}

	raw := d.buf[:size]
	pkt, err = d.decodePacket(raw)
	if err != nil {
		return nil, false, err
	}

	d.consumed += size
	d.buf = append(d.buf[:0], d.buf[size:]...)
	return pkt, true, nil
}

func (d *SecondaryDecoder) fail(off int, format string, args ...any) error {
	return &types.ProtocolDecodeError{
		Stream: "secondary",
		Offset: d.consumed + off,
		Reason: fmt.Sprintf(format, args...),
	}
}

func (d *SecondaryDecoder) decodePacket(raw []byte) (*Packet, error) {
	pkt := &Packet{Type: raw[4], Size: len(raw)}

	switch pkt.Type {
	case MessageTypeRobotState:
		msgs, err := d.decodeSubPackages(raw[headerSize:])
		if err != nil {
			return nil, err
		}
		pkt.Messages = msgs

	case MessageTypeRobotMessage:
		msg, err := d.decodeRobotMessage(raw[headerSize:])
		if err != nil {
			return nil, err
		}
		pkt.Messages = []Message{msg}

	default:
		pkt.Messages = []Message{UnknownMessage{Outer: true, Type: pkt.Type, Size: len(raw)}}
	}

	return pkt, nil
}

func (d *SecondaryDecoder) decodeSubPackages(body []byte) ([]Message, error) {
	var msgs []Message
	off := headerSize

	for len(body) > 0 {
		if len(body) < headerSize {
			return nil, d.fail(off, "truncated sub-package header (%d bytes)", len(body))
		}
		size := int(int32(binary.BigEndian.Uint32(body[0:4])))
		if size < headerSize || size > len(body) {
			return nil, d.fail(off, "sub-package length %d outside [%d, %d]", size, headerSize, len(body))
		}
		tag := body[4]
		payload := body[headerSize:size]

		msg, err := d.decodeSubPackage(tag, payload)
		if err != nil {
			return nil, d.fail(off, "sub-package type %d: %v", tag, err)
		}
		if msg == nil {
			msg = UnknownMessage{Type: tag, Size: size}
		}
		msgs = append(msgs, msg)

		body = body[size:]
		off += size
	}

	return msgs, nil
}

// decodeSubPackage returns nil, nil for tags that are skipped.
func (d *SecondaryDecoder) decodeSubPackage(tag uint8, payload []byte) (Message, error) {
	r := newFieldReader(payload)

	var msg Message
	switch tag {
	case SubRobotMode:
		msg = RobotModeMessage{Data: d.readRobotMode(r)}
	case SubJointData:
		msg = JointDataMessage{Data: readJointData(r)}
	case SubToolData:
		msg = ToolDataMessage{Data: readToolData(r)}
	case SubMasterBoard:
		msg = MasterBoardMessage{Data: d.readMasterBoard(r)}
	case SubCartesianInfo:
		msg = CartesianInfoMessage{Data: readCartesian(r)}
	case SubConfiguration:
		msg = ConfigurationMessage{Data: readConfiguration(r)}
	default:
		return nil, nil
	}

	if r.err != nil {
		return nil, r.err
	}
	return msg, nil
}

func (d *SecondaryDecoder) readRobotMode(r *fieldReader) state.RobotModeData {
	m := state.RobotModeData{
		ControllerTimestamp: r.u64(),
		RobotConnected:      r.bool(),
		RealRobotEnabled:    r.bool(),
		PowerOn:             r.bool(),
		EmergencyStopped:    r.bool(),
		ProtectiveStopped:   r.bool(),
		ProgramRunning:      r.bool(),
		ProgramPaused:       r.bool(),
		RobotMode:           r.u8(),
	}
	if d.major >= 3 {
		m.ControlMode = r.u8()
	}
	m.SpeedFraction = r.f64()
	return m
}

func readJointData(r *fieldReader) state.JointData {
	var j state.JointData
	for i := range j {
		j[i] = state.Joint{
			QActual:   r.f64(),
			QTarget:   r.f64(),
			QdActual:  r.f64(),
			Current:   r.f32(),
			Voltage:   r.f32(),
			MotorTemp: r.f32(),
			MicroTemp: r.f32(),
			JointMode: r.u8(),
		}
	}
	return j
}

func readToolData(r *fieldReader) state.ToolData {
	var t state.ToolData
	t.AnalogInputRange[0] = r.i8()
	t.AnalogInputRange[1] = r.i8()
	t.AnalogInput[0] = r.f64()
	t.AnalogInput[1] = r.f64()
	t.Voltage48V = r.f32()
	t.OutputVoltage = r.u8()
	t.Current = r.f32()
	t.Temperature = r.f32()
	t.Mode = r.u8()
	return t
}

func (d *SecondaryDecoder) readMasterBoard(r *fieldReader) state.MasterBoardData {
	var m state.MasterBoardData
	if d.major >= 3 {
		m.DigitalInputBits = r.u32()
		m.DigitalOutputBits = r.u32()
	} else {
		m.DigitalInputBits = uint32(uint16(r.i16()))
		m.DigitalOutputBits = uint32(uint16(r.i16()))
	}
	m.AnalogInputRange[0] = r.i8()
	m.AnalogInputRange[1] = r.i8()
	m.AnalogInput[0] = r.f64()
	m.AnalogInput[1] = r.f64()
	m.AnalogOutputDomain[0] = r.i8()
	m.AnalogOutputDomain[1] = r.i8()
	m.AnalogOutput[0] = r.f64()
	m.AnalogOutput[1] = r.f64()
	m.Temperature = r.f32()
	m.RobotVoltage48V = r.f32()
	m.RobotCurrent = r.f32()
	m.MasterIOCurrent = r.f32()
	if d.major >= 3 && r.remaining() >= 2 {
		m.SafetyMode = r.u8()
		m.ReducedMode = r.bool()
	}
	return m
}

func readCartesian(r *fieldReader) state.CartesianInfo {
	var c state.CartesianInfo
	c.TCP = readPose(r)
	if r.remaining() >= 48 {
		c.TCPOffset = readPose(r)
		c.HasTCPOffset = true
	}
	return c
}

func readConfiguration(r *fieldReader) state.ConfigurationData {
	var c state.ConfigurationData
	for i := range c.Joints {
		c.Joints[i].Min = r.f64()
		c.Joints[i].Max = r.f64()
	}
	for i := range c.Joints {
		c.Joints[i].MaxSpeed = r.f64()
		c.Joints[i].MaxAccel = r.f64()
	}
	c.VJointDefault = r.f64()
	c.AJointDefault = r.f64()
	c.VToolDefault = r.f64()
	c.AToolDefault = r.f64()
	c.EqRadius = r.f64()
	return c
}

func (d *SecondaryDecoder) decodeRobotMessage(body []byte) (Message, error) {
	r := newFieldReader(body)
	ts := r.u64()
	source := r.i8()
	kind := r.u8()
	if r.err != nil {
		return nil, d.fail(headerSize, "robot message header: %v", r.err)
	}

	msg := state.RobotMessage{
		ControllerTimestamp: ts,
		Source:              source,
		MessageType:         kind,
	}

	switch kind {
	case RobotMessageVersion:
		nameSize := int(r.u8())
		v := state.VersionInfo{ProjectName: r.str(nameSize)}
		v.Major = r.u8()
		v.Minor = r.u8()
		v.SVNRevision = r.i32()
		v.BuildDate = r.rest()
		if r.err != nil {
			return nil, d.fail(headerSize, "version message: %v", r.err)
		}
		d.major = v.Major
		return VersionMessage{ControllerTimestamp: ts, Data: v}, nil

	case RobotMessageText:
		msg.Text = r.rest()
	case RobotMessageLabel:
		msg.Code = r.i32()
		msg.Text = r.rest()
	case RobotMessagePopup:
		r.bool() // warning
		r.bool() // error
		msg.Title = r.str(int(r.u8()))
		msg.Text = r.rest()
	case RobotMessageSafety, RobotMessageComm:
		msg.Code = r.i32()
		msg.Argument = r.i32()
		msg.Text = r.rest()
	case RobotMessageKey, RobotMessageVar:
		msg.Code = r.i32()
		msg.Argument = r.i32()
		msg.Title = r.str(int(r.u8()))
		msg.Text = r.rest()
	default:
		msg.Text = r.rest()
	}

	if r.err != nil {
		return nil, d.fail(headerSize, "robot message type %d: %v", kind, r.err)
	}
	return TextMessage{Data: msg}, nil
}

func readPose(r *fieldReader) transform.Pose {
	return transform.Pose{
		Position: [3]float64{r.f64(), r.f64(), r.f64()},
		Rotation: [3]float64{r.f64(), r.f64(), r.f64()},
	}
}
