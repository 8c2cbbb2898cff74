package monitor

import (
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/protocol"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/wire"
	"go.uber.org/zap"
)

// Realtime drains the real-time interface into the Realtime field of the
// store. Losing it does not mark the store stale: safety and program state
// come from the secondary port.
type Realtime struct {
	connLoop

	store   *state.Store
	decoder *protocol.RealtimeDecoder
}

func NewRealtime(name string, dialer wire.Dialer, store *state.Store, reconnect time.Duration, logger *zap.Logger) *Realtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Realtime{
		store:   store,
		decoder: protocol.NewRealtimeDecoder(logger.With(zap.String("monitor", name))),
	}
	m.setup(name, dialer, reconnect, logger)
	m.session = m.serve
	return m
}

// SetMajorVersion selects the frame schema; wire it to Secondary.OnVersion.
func (m *Realtime) SetMajorVersion(major uint8) {
	m.decoder.SetMajorVersion(major)
}

func (m *Realtime) Stats() Stats {
	s := m.stats()
	s.Anomalies = m.decoder.Anomalies()
	return s
}

func (m *Realtime) serve(ch wire.Channel) error {
	m.decoder.Reset()
	buf := make([]byte, readBufferSize)

	for {
		n, err := readInto(ch, buf, m.name)
		if n > 0 {
			m.decoder.Feed(buf[:n])
			for {
				frame, ok, derr := m.decoder.Next()
				if derr != nil {
					return derr
				}
				if !ok {
					break
				}
				m.packets.Add(1)
				m.store.Update(state.Patch{Realtime: frame})
			}
		}
		if err != nil {
			return err
		}
	}
}
