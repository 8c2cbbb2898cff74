package protocol

import "github.com/KevinKickass/OpenArmCore/internal/state"

// Outer message types on the secondary port.
const (
	MessageTypeRobotState   = 16
	MessageTypeRobotMessage = 20
)

// Sub-package type tags inside a robot-state message.
const (
	SubRobotMode     = 0
	SubJointData     = 1
	SubToolData      = 2
	SubMasterBoard   = 3
	SubCartesianInfo = 4
	SubLaserPointer  = 5
	SubConfiguration = 6
)

// Robot message sub-types (message type 20).
const (
	RobotMessageText    = 0
	RobotMessageLabel   = 1
	RobotMessagePopup   = 2
	RobotMessageVersion = 3
	RobotMessageSafety  = 5
	RobotMessageComm    = 6
	RobotMessageKey     = 7
	RobotMessageVar     = 8
)

type MessageKind string

const (
	KindRobotMode     MessageKind = "robot_mode"
	KindJointData     MessageKind = "joint_data"
	KindToolData      MessageKind = "tool_data"
	KindMasterBoard   MessageKind = "master_board"
	KindCartesianInfo MessageKind = "cartesian_info"
	KindConfiguration MessageKind = "configuration"
	KindVersion       MessageKind = "version"
	KindRobotMessage  MessageKind = "robot_message"
	KindUnknown       MessageKind = "unknown"
)

// Message is one decoded sub-message.
type Message interface {
	Kind() MessageKind
	// Apply copies the decoded fields into p.
	Apply(p *state.Patch)
}

type RobotModeMessage struct{ Data state.RobotModeData }

func (RobotModeMessage) Kind() MessageKind { return KindRobotMode }
func (m RobotModeMessage) Apply(p *state.Patch) {
	d := m.Data
	p.Mode = &d
}

type JointDataMessage struct{ Data state.JointData }

func (JointDataMessage) Kind() MessageKind { return KindJointData }
func (m JointDataMessage) Apply(p *state.Patch) {
	d := m.Data
	p.Joints = &d
}

type ToolDataMessage struct{ Data state.ToolData }

func (ToolDataMessage) Kind() MessageKind { return KindToolData }
func (m ToolDataMessage) Apply(p *state.Patch) {
	d := m.Data
	p.Tool = &d
}

type MasterBoardMessage struct{ Data state.MasterBoardData }

func (MasterBoardMessage) Kind() MessageKind { return KindMasterBoard }
func (m MasterBoardMessage) Apply(p *state.Patch) {
	d := m.Data
	p.MasterBoard = &d
}

type CartesianInfoMessage struct{ Data state.CartesianInfo }

func (CartesianInfoMessage) Kind() MessageKind { return KindCartesianInfo }
func (m CartesianInfoMessage) Apply(p *state.Patch) {
	d := m.Data
	p.Cartesian = &d
}

type ConfigurationMessage struct{ Data state.ConfigurationData }

func (ConfigurationMessage) Kind() MessageKind { return KindConfiguration }
func (m ConfigurationMessage) Apply(p *state.Patch) {
	d := m.Data
	p.Configuration = &d
}

type VersionMessage struct {
	ControllerTimestamp uint64
	Data                state.VersionInfo
}

func (VersionMessage) Kind() MessageKind { return KindVersion }
func (m VersionMessage) Apply(p *state.Patch) {
	d := m.Data
	p.Version = &d
}

type TextMessage struct{ Data state.RobotMessage }

func (TextMessage) Kind() MessageKind { return KindRobotMessage }
func (m TextMessage) Apply(p *state.Patch) {
	d := m.Data
	p.Message = &d
}

// UnknownMessage is a sub-package or message type this decoder does not
// understand. It was skipped using its declared length.
type UnknownMessage struct {
	Outer bool
	Type  uint8
	Size  int
}

func (UnknownMessage) Kind() MessageKind    { return KindUnknown }
func (UnknownMessage) Apply(p *state.Patch) {}

// Packet is one complete secondary-port message.
type Packet struct {
	Type     uint8
	Size     int
	Messages []Message
}

// Patch folds every message of the packet into a single store update.
func (p *Packet) Patch() state.Patch {
	var patch state.Patch
	for _, m := range p.Messages {
		m.Apply(&patch)
	}
	return patch
}
