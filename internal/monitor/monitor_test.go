package monitor

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/protocol"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/KevinKickass/OpenArmCore/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pipeDialer hands the controller side of every dialed pipe to the test.
type pipeDialer struct {
	conns chan net.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{conns: make(chan net.Conn, 4)}
}

func (d *pipeDialer) Dial(ctx context.Context) (wire.Channel, error) {
	client, server := net.Pipe()
	select {
	case d.conns <- server:
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
	return wire.NewConn(client, "pipe", time.Second, time.Second), nil
}

func (d *pipeDialer) next(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-d.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not dial")
		return nil
	}
}

func robotStatePacket(running bool) []byte {
	return protocol.EncodeRobotState(
		protocol.EncodeRobotMode(state.RobotModeData{
			RobotConnected: true,
			PowerOn:        true,
			ProgramRunning: running,
		}, 3),
		protocol.EncodeCartesianInfo(state.CartesianInfo{}),
	)
}

func versionPacket(major uint8) []byte {
	return protocol.EncodeVersionMessage(0, state.VersionInfo{ProjectName: "URControl", Major: major, Minor: 2})
}

func startSecondary(t *testing.T, d wire.Dialer, store *state.Store) *Secondary {
	t.Helper()
	m := NewSecondary("secondary", d, store, 10*time.Millisecond, zap.NewNop())
	return m
}

func TestSecondaryMergesPackets(t *testing.T) {
	d := newPipeDialer()
	store := state.NewStore()
	m := startSecondary(t, d, store)

	var major atomic.Uint32
	m.OnVersion(func(v uint8) { major.Store(uint32(v)) })
	require.NoError(t, m.Start())
	defer m.Stop()

	conn := d.next(t)
	stream := append(versionPacket(3), robotStatePacket(true)...)
	// split mid-packet to exercise buffering across reads
	_, err := conn.Write(stream[:7])
	require.NoError(t, err)
	_, err = conn.Write(stream[7:])
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitReady(ctx))

	require.Eventually(t, func() bool {
		s := store.Snapshot()
		return s.HasMode && s.Mode.ProgramRunning
	}, 2*time.Second, 5*time.Millisecond)

	snap := store.Snapshot()
	assert.Equal(t, uint8(3), snap.Version.Major)
	assert.Equal(t, uint32(3), major.Load())
	assert.True(t, snap.IsProgramRunning())
	assert.True(t, m.Connected())
	assert.Equal(t, uint64(2), m.Stats().Packets)
}

func TestSecondaryReconnectsAfterDisconnect(t *testing.T) {
	d := newPipeDialer()
	store := state.NewStore()
	m := startSecondary(t, d, store)
	require.NoError(t, m.Start())
	defer m.Stop()

	first := d.next(t)
	_, err := first.Write(robotStatePacket(true))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return store.Snapshot().IsProgramRunning() }, 2*time.Second, 5*time.Millisecond)

	first.Close()
	require.Eventually(t, func() bool { return store.Snapshot().Stale }, 2*time.Second, 5*time.Millisecond)

	snap := store.Snapshot()
	assert.Equal(t, state.SafetyFault, snap.SafetyMode)
	assert.False(t, snap.IsProgramRunning())

	second := d.next(t)
	_, err = second.Write(robotStatePacket(false))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !store.Snapshot().Stale }, 2*time.Second, 5*time.Millisecond)

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.Connects)
	assert.Equal(t, uint64(1), stats.Disconnects)
	assert.Equal(t, state.SafetyNormal, store.Snapshot().SafetyMode)
}

func TestSecondaryDecodeErrorForcesReconnect(t *testing.T) {
	d := newPipeDialer()
	store := state.NewStore()
	m := startSecondary(t, d, store)
	require.NoError(t, m.Start())
	defer m.Stop()

	bad := make([]byte, 8)
	binary.BigEndian.PutUint32(bad, 0x7fffffff)

	first := d.next(t)
	go first.Write(bad)

	require.Eventually(t, func() bool { return store.Snapshot().Stale }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, store.Snapshot().StaleReason, "secondary decode failed")

	d.next(t)
	require.Eventually(t, func() bool { return m.Stats().DecodeErrors == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSendProgram(t *testing.T) {
	d := newPipeDialer()
	store := state.NewStore()
	m := startSecondary(t, d, store)

	err := m.SendProgram(context.Background(), "stopj(2)")
	assert.ErrorIs(t, err, types.ErrConnection)

	require.NoError(t, m.Start())
	defer m.Stop()
	conn := d.next(t)
	require.Eventually(t, m.Connected, 2*time.Second, 5*time.Millisecond)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := io.ReadAtLeast(conn, buf, len("stopj(2)\n"))
		got <- string(buf[:n])
	}()

	require.NoError(t, m.SendProgram(context.Background(), "stopj(2)"))
	select {
	case s := <-got:
		assert.Equal(t, "stopj(2)\n", s)
	case <-time.After(2 * time.Second):
		t.Fatal("program not received")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	d := newPipeDialer()
	m := startSecondary(t, d, state.NewStore())
	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	d.next(t)

	m.Stop()
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestRealtimeMonitor(t *testing.T) {
	d := newPipeDialer()
	store := state.NewStore()
	m := NewRealtime("realtime", d, store, 10*time.Millisecond, zap.NewNop())
	m.SetMajorVersion(3)
	require.NoError(t, m.Start())
	defer m.Stop()

	frame := state.RealtimeData{TCPForce: [6]float64{3, 4, 0, 0, 0, 0}}
	conn := d.next(t)
	_, err := conn.Write(protocol.EncodeRealtimeFrame(protocol.FrameSizeLegacy, frame))
	require.NoError(t, err)
	_, err = conn.Write(protocol.EncodeRealtimeFrame(protocol.FrameSizeV35, frame))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return store.Snapshot().HasRealtime }, 2*time.Second, 5*time.Millisecond)
	snap := store.Snapshot()
	assert.Equal(t, protocol.FrameSizeV35, snap.Realtime.FrameSize)
	assert.Equal(t, 3.0, snap.Realtime.TCPForce[0])

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Anomalies)
	assert.Equal(t, uint64(1), stats.Packets)

	conn.Close()
	d.next(t)
	assert.False(t, store.Snapshot().Stale)
}
