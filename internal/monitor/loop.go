// Package monitor runs the background readers that drain the controller's
// secondary and real-time channels into the state store.
package monitor

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/KevinKickass/OpenArmCore/internal/wire"
	"go.uber.org/zap"
)

const readBufferSize = 4096

// Stats counts connection events of one reader.
type Stats struct {
	Connected    bool   `json:"connected"`
	Connects     uint64 `json:"connects"`
	Disconnects  uint64 `json:"disconnects"`
	Packets      uint64 `json:"packets"`
	DecodeErrors uint64 `json:"decode_errors"`
	Anomalies    uint64 `json:"anomalies"`
	LastError    string `json:"last_error,omitempty"`
}

// connLoop dials, hands the channel to session until it fails, and redials
// after the reconnect interval until stopped.
type connLoop struct {
	name     string
	dialer   wire.Dialer
	interval time.Duration
	logger   *zap.Logger

	// session drains ch and returns the error that ended it.
	session func(ch wire.Channel) error
	// lost is called once per outage.
	lost func(err error)

	mu        sync.Mutex
	conn      wire.Channel
	running   bool
	stopChan  chan struct{}
	cancelCtx context.CancelFunc
	wg        sync.WaitGroup
	lastErr   string

	connects     atomic.Uint64
	disconnects  atomic.Uint64
	packets      atomic.Uint64
	decodeErrors atomic.Uint64
}

func (l *connLoop) setup(name string, dialer wire.Dialer, interval time.Duration, logger *zap.Logger) {
	l.name = name
	l.dialer = dialer
	l.interval = interval
	l.logger = logger
}

// Start startet die Leseschleife
func (l *connLoop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.running = true
	l.stopChan = make(chan struct{})
	l.cancelCtx = cancel
	l.wg.Add(1)

	go l.run(ctx)

	l.logger.Info("Monitor started",
		zap.String("monitor", l.name),
		zap.Duration("reconnect_interval", l.interval))

	return nil
}

// Stop stoppt die Schleife und schließt die Verbindung
func (l *connLoop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	close(l.stopChan)
	l.cancelCtx()
	if l.conn != nil {
		l.conn.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	l.logger.Info("Monitor stopped", zap.String("monitor", l.name))
}

func (l *connLoop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *connLoop) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

func (l *connLoop) stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Connected:    l.conn != nil,
		Connects:     l.connects.Load(),
		Disconnects:  l.disconnects.Load(),
		Packets:      l.packets.Load(),
		DecodeErrors: l.decodeErrors.Load(),
		LastError:    l.lastErr,
	}
}

func (l *connLoop) run(ctx context.Context) {
	defer l.wg.Done()

	healthy := true
	for {
		select {
		case <-l.stopChan:
			return
		default:
		}

		ch, err := l.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if healthy {
				l.fail(err)
				healthy = false
			} else {
				l.logger.Debug("Reconnect failed", zap.String("monitor", l.name), zap.Error(err))
			}
			if !l.wait() {
				return
			}
			continue
		}

		if !l.attach(ch) {
			ch.Close()
			return
		}
		healthy = true
		l.connects.Add(1)
		l.logger.Info("Monitor connected", zap.String("monitor", l.name))

		err = l.session(ch)
		l.detach()
		ch.Close()

		select {
		case <-l.stopChan:
			return
		default:
		}

		l.disconnects.Add(1)
		if errors.Is(err, types.ErrProtocolDecode) {
			l.decodeErrors.Add(1)
		}
		l.fail(err)
		healthy = false

		if !l.wait() {
			return
		}
	}
}

func (l *connLoop) fail(err error) {
	l.mu.Lock()
	l.lastErr = err.Error()
	l.mu.Unlock()

	l.logger.Warn("Monitor connection lost",
		zap.String("monitor", l.name),
		zap.Error(err))
	if l.lost != nil {
		l.lost(err)
	}
}

// attach publishes ch unless Stop already ran.
func (l *connLoop) attach(ch wire.Channel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.stopChan:
		return false
	default:
	}
	l.conn = ch
	return true
}

func (l *connLoop) detach() {
	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()
}

// wait sleeps for the reconnect interval; false means stop was requested.
func (l *connLoop) wait() bool {
	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	select {
	case <-l.stopChan:
		return false
	case <-timer.C:
		return true
	}
}

// write sends p on the current connection.
func (l *connLoop) write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return &types.ConnectionError{Address: l.name, Op: "write", Err: errors.New("not connected")}
	}
	_, err := conn.Write(p)
	return err
}

// readInto reads one chunk and maps end-of-stream to a connection error.
func readInto(ch wire.Channel, buf []byte, name string) (int, error) {
	n, err := ch.Read(buf)
	if errors.Is(err, io.EOF) {
		return n, &types.ConnectionError{Address: name, Op: "read", Err: io.EOF}
	}
	return n, err
}
