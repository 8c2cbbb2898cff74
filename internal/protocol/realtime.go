package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"go.uber.org/zap"
)

// MaxFrameSize bounds a declared real-time frame length.
const MaxFrameSize = 4096

// Frame sizes of the real-time interface per controller generation.
const (
	FrameSizeLegacy = 812  // before 3.0
	FrameSizeV30    = 1044 // 3.0 - 3.1
	FrameSizeV32    = 1060 // 3.2 - 3.4
	FrameSizeV35    = 1108 // 3.5 and later
)

// rtLayout holds byte offsets of every field we read; -1 means absent.
type rtLayout struct {
	time, qTarget, qActual, qdActual, iActual int
	toolVector, tcpSpeed, tcpForce            int
	digitalIn, robotMode, safety              int
	digitalOut, programState                  int
}

var legacyLayout = rtLayout{
	time: 4, qTarget: 12, qActual: 252, qdActual: 300, iActual: 348,
	tcpForce: 540, toolVector: 588, tcpSpeed: 636,
	digitalIn: 684, robotMode: 756,
	safety: -1, digitalOut: -1, programState: -1,
}

var modernLayout = rtLayout{
	time: 4, qTarget: 12, qActual: 252, qdActual: 300, iActual: 348,
	toolVector: 444, tcpSpeed: 492, tcpForce: 540,
	digitalIn: 684, robotMode: 756, safety: 812,
	digitalOut: 1044, programState: 1052,
}

func layoutFor(size int) (rtLayout, bool) {
	switch size {
	case FrameSizeLegacy:
		return legacyLayout, true
	case FrameSizeV30:
		l := modernLayout
		l.digitalOut, l.programState = -1, -1
		return l, true
	case FrameSizeV32, FrameSizeV35:
		return modernLayout, true
	}
	return rtLayout{}, false
}

// RealtimeDecoder turns the real-time byte stream into frames. Frames whose
// size does not match the detected controller generation are dropped.
type RealtimeDecoder struct {
	buf       []byte
	consumed  int
	major     atomic.Uint32
	anomalies atomic.Uint64
	logger    *zap.Logger
}

func NewRealtimeDecoder(logger *zap.Logger) *RealtimeDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeDecoder{logger: logger}
}

// SetMajorVersion is called from the secondary monitor once the controller
// announced its version.
func (d *RealtimeDecoder) SetMajorVersion(major uint8) {
	d.major.Store(uint32(major))
}

// Anomalies counts discarded frames.
func (d *RealtimeDecoder) Anomalies() uint64 {
	return d.anomalies.Load()
}

func (d *RealtimeDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

func (d *RealtimeDecoder) Reset() {
	d.buf = d.buf[:0]
	d.consumed = 0
}

// accepts reports whether size is a valid frame for the detected generation.
// Before the generation is known every schema size is accepted.
func (d *RealtimeDecoder) accepts(size int) bool {
	if _, ok := layoutFor(size); !ok {
		return false
	}
	major := d.major.Load()
	switch {
	case major == 0:
		return true
	case major < 3:
		return size == FrameSizeLegacy
	default:
		return size != FrameSizeLegacy
	}
}

// Next returns the next valid frame. ok is false when more bytes are needed.
func (d *RealtimeDecoder) Next() (frame *state.RealtimeData, ok bool, err error) {
	for {
		if len(d.buf) < 4 {
			return nil, false, nil
		}

		size := int(int32(binary.BigEndian.Uint32(d.buf[0:4])))
		if size <= 4 || size > MaxFrameSize {
			return nil, false, &types.ProtocolDecodeError{
				Stream: "realtime",
				Offset: d.consumed,
				Reason: fmt.Sprintf("declared frame length %d outside (4, %d]", size, MaxFrameSize),
			}
		}
		if len(d.buf) < size {
			return nil, false, nil
		}

		raw := d.buf[:size]
		if !d.accepts(size) {
			d.anomalies.Add(1)
			d.logger.Warn("Discarding real-time frame with unexpected size",
				zap.Int("size", size),
				zap.Uint32("major_version", d.major.Load()),
				zap.Int("offset", d.consumed))
			d.advance(size)
			continue
		}

		layout, _ := layoutFor(size)
		data := decodeFrame(raw, layout)
		d.advance(size)
		return &data, true, nil
	}
}

func (d *RealtimeDecoder) advance(n int) {
	d.consumed += n
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

func decodeFrame(raw []byte, l rtLayout) state.RealtimeData {
	f64 := func(off int) float64 {
		return math.Float64frombits(binary.BigEndian.Uint64(raw[off : off+8]))
	}
	vec6 := func(off int) (out [6]float64) {
		for i := range out {
			out[i] = f64(off + i*8)
		}
		return out
	}

	data := state.RealtimeData{
		ControllerTime: f64(l.time),
		QTarget:        vec6(l.qTarget),
		QActual:        vec6(l.qActual),
		QdActual:       vec6(l.qdActual),
		CurrentActual:  vec6(l.iActual),
		ToolVector:     vec6(l.toolVector),
		TCPSpeed:       vec6(l.tcpSpeed),
		TCPForce:       vec6(l.tcpForce),
		DigitalInputs:  uint32(f64(l.digitalIn)),
		RobotMode:      f64(l.robotMode),
		FrameSize:      len(raw),
	}
	if l.safety >= 0 {
		data.SafetyCode = f64(l.safety)
	}
	if l.digitalOut >= 0 {
		data.DigitalOutputs = uint32(f64(l.digitalOut))
	}
	if l.programState >= 0 {
		data.ProgramState = f64(l.programState)
	}
	return data
}
