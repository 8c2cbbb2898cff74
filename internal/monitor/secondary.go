package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/protocol"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/wire"
	"go.uber.org/zap"
)

// Secondary drains the secondary port. It is the only writer of the
// secondary-stream fields of the store and the only sender of programs.
type Secondary struct {
	connLoop

	store     *state.Store
	decoder   *protocol.SecondaryDecoder
	onVersion func(major uint8)

	readyOnce sync.Once
	ready     chan struct{}
}

func NewSecondary(name string, dialer wire.Dialer, store *state.Store, reconnect time.Duration, logger *zap.Logger) *Secondary {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Secondary{
		store:   store,
		decoder: protocol.NewSecondaryDecoder(),
		ready:   make(chan struct{}),
	}
	m.setup(name, dialer, reconnect, logger)
	m.session = m.serve
	m.lost = func(err error) {
		store.MarkStale(err.Error())
	}
	return m
}

// OnVersion registers a callback for the controller major version. It must
// be set before Start.
func (m *Secondary) OnVersion(fn func(major uint8)) {
	m.onVersion = fn
}

// WaitReady blocks until the first packet was merged into the store.
func (m *Secondary) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendProgram writes a script program. A newline terminates it on the wire.
func (m *Secondary) SendProgram(ctx context.Context, program string) error {
	if !strings.HasSuffix(program, "\n") {
		program += "\n"
	}
	if err := m.write(ctx, []byte(program)); err != nil {
		return err
	}
	m.logger.Debug("Program sent", zap.String("monitor", m.name), zap.String("program", strings.TrimSpace(program)))
	return nil
}

func (m *Secondary) Stats() Stats {
	return m.stats()
}

func (m *Secondary) serve(ch wire.Channel) error {
	m.decoder.Reset()
	buf := make([]byte, readBufferSize)

	for {
		n, err := readInto(ch, buf, m.name)
		if n > 0 {
			m.decoder.Feed(buf[:n])
			if derr := m.drain(); derr != nil {
				return derr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (m *Secondary) drain() error {
	for {
		pkt, ok, err := m.decoder.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		m.packets.Add(1)

		for _, msg := range pkt.Messages {
			switch v := msg.(type) {
			case protocol.VersionMessage:
				m.logger.Info("Controller version",
					zap.String("monitor", m.name),
					zap.String("project", v.Data.ProjectName),
					zap.Uint8("major", v.Data.Major),
					zap.Uint8("minor", v.Data.Minor),
					zap.Int32("revision", v.Data.SVNRevision))
				if m.onVersion != nil {
					m.onVersion(v.Data.Major)
				}
			case protocol.TextMessage:
				m.logger.Info("Controller message",
					zap.String("monitor", m.name),
					zap.Int32("code", v.Data.Code),
					zap.String("text", v.Data.Text))
			}
		}

		patch := pkt.Patch()
		if patch.Empty() {
			continue
		}
		m.store.Update(patch)
		m.readyOnce.Do(func() { close(m.ready) })
	}
}
