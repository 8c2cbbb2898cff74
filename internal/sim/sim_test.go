package sim

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/monitor"
	"github.com/KevinKickass/OpenArmCore/internal/protocol"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOptions() Options {
	return Options{
		SecondaryAddr:  "127.0.0.1:0",
		RealtimeAddr:   "127.0.0.1:0",
		Realtime:       true,
		Major:          3,
		Minor:          5,
		Period:         10 * time.Millisecond,
		RealtimePeriod: 5 * time.Millisecond,
		StartDelay:     20 * time.Millisecond,
		RunTime:        100 * time.Millisecond,
	}
}

type harness struct {
	srv   *Server
	store *state.Store
	sec   *monitor.Secondary
	rt    *monitor.Realtime
}

func startHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	srv := New(opts, zap.NewNop())
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	store := state.NewStore()
	sec := monitor.NewSecondary("secondary", wire.NewTCPDialer(srv.SecondaryAddr(), time.Second, time.Second), store, 20*time.Millisecond, zap.NewNop())
	rt := monitor.NewRealtime("realtime", wire.NewTCPDialer(srv.RealtimeAddr(), time.Second, time.Second), store, 20*time.Millisecond, zap.NewNop())
	sec.OnVersion(rt.SetMajorVersion)
	require.NoError(t, sec.Start())
	require.NoError(t, rt.Start())
	t.Cleanup(func() {
		rt.Stop()
		sec.Stop()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sec.WaitReady(ctx))

	return &harness{srv: srv, store: store, sec: sec, rt: rt}
}

func TestParseLine(t *testing.T) {
	p := parseLine("movej([0.1,0.2,0.3,0.4,0.5,0.6], a=0.1, v=0.05, r=0)")
	assert.True(t, p.motion)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, p.joints)

	p = parseLine("movel(p[0.3,0,0.2,0,3.14,0], a=0.1, v=0.1, r=0)")
	assert.True(t, p.motion)
	assert.Equal(t, []float64{0.3, 0, 0.2, 0, 3.14, 0}, p.pose)

	p = parseLine("movec(p[0,0,0,0,0,0], p[1,1,1,0,0,0], a=0.1, v=0.1, r=0)")
	assert.Equal(t, []float64{1, 1, 1, 0, 0, 0}, p.pose)

	p = parseLine("stopl(1.5)")
	assert.True(t, p.stop)
	assert.False(t, p.motion)

	p = parseLine("set_digital_out(3, True)")
	assert.True(t, p.setsOutput)
	assert.Equal(t, 3, p.digitalOut)
	assert.True(t, p.outValue)

	p = parseLine(`textmsg("hello")`)
	assert.False(t, p.motion || p.stop || p.setsOutput)

	assert.Nil(t, firstList("movej([a,b])"))
}

func TestFrameSizeFollowsVersion(t *testing.T) {
	assert.Equal(t, protocol.FrameSizeLegacy, Options{Major: 1, Minor: 8}.frameSize())
	assert.Equal(t, protocol.FrameSizeV30, Options{Major: 3, Minor: 1}.frameSize())
	assert.Equal(t, protocol.FrameSizeV32, Options{Major: 3, Minor: 4}.frameSize())
	assert.Equal(t, protocol.FrameSizeV35, Options{Major: 5, Minor: 0}.frameSize())
	assert.Equal(t, 2000, Options{Major: 5, FrameSize: 2000}.frameSize())
}

func TestServerPublishesState(t *testing.T) {
	h := startHarness(t, testOptions())

	require.Eventually(t, func() bool {
		s := h.store.Snapshot()
		return s.HasCartesian && s.HasRealtime
	}, 2*time.Second, 5*time.Millisecond)

	snap := h.store.Snapshot()
	assert.Equal(t, uint8(3), snap.Version.Major)
	assert.Equal(t, uint8(5), snap.Version.Minor)
	assert.Equal(t, "URControl", snap.Version.ProjectName)
	assert.Equal(t, state.SafetyNormal, snap.SafetyMode)
	assert.Equal(t, protocol.FrameSizeV35, snap.Realtime.FrameSize)
	assert.InDelta(t, 0.4, snap.Cartesian.TCP.Position[2], 1e-9)
	assert.Zero(t, h.rt.Stats().Anomalies)
}

func TestServerRunsMotionPrograms(t *testing.T) {
	h := startHarness(t, testOptions())
	ctx := context.Background()

	require.NoError(t, h.sec.SendProgram(ctx, "movej([0.1,0.2,0.3,0.4,0.5,0.6], a=0.1, v=0.1, r=0)"))

	require.Eventually(t, func() bool { return h.store.Snapshot().IsProgramRunning() },
		time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return !h.store.Snapshot().IsProgramRunning() },
		time.Second, 2*time.Millisecond)

	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, h.store.Snapshot().Joints.Positions(), 1e-9)
	assert.Equal(t, []string{"movej([0.1,0.2,0.3,0.4,0.5,0.6], a=0.1, v=0.1, r=0)"}, h.srv.Programs())
}

func TestServerHandlesMultiLinePrograms(t *testing.T) {
	h := startHarness(t, testOptions())

	program := "def motionPath():\n  movel(p[0.1,0,0.2,0,0,0], a=0.1, v=0.1, r=0.01)\n  movel(p[0.2,0,0.2,0,0,0], a=0.1, v=0.1, r=0)\nend"
	require.NoError(t, h.sec.SendProgram(context.Background(), program))

	require.Eventually(t, func() bool { return len(h.srv.Programs()) == 1 && h.store.Snapshot().IsProgramRunning() },
		time.Second, 2*time.Millisecond)
	assert.Equal(t, program, h.srv.Programs()[0])
	require.Eventually(t, func() bool {
		return h.store.Snapshot().Cartesian.TCP.Position[0] == 0.2
	}, time.Second, 2*time.Millisecond)
}

func TestEmergencyStopAbortsProgram(t *testing.T) {
	opts := testOptions()
	opts.RunTime = time.Hour
	h := startHarness(t, opts)

	require.NoError(t, h.sec.SendProgram(context.Background(), "movel(p[0.3,0,0.2,0,3.14,0], a=0.1, v=0.1, r=0)"))
	require.Eventually(t, func() bool { return h.store.Snapshot().ProgramRunning }, time.Second, 2*time.Millisecond)

	h.srv.EmergencyStop(true)
	require.Eventually(t, func() bool {
		s := h.store.Snapshot()
		return s.SafetyMode == state.SafetyEmergencyStop && !s.ProgramRunning
	}, time.Second, 2*time.Millisecond)

	// Releasing the stop does not resume the aborted program
	h.srv.EmergencyStop(false)
	require.Eventually(t, func() bool { return h.store.Snapshot().SafetyMode == state.SafetyNormal },
		time.Second, 2*time.Millisecond)
	assert.False(t, h.store.Snapshot().ProgramRunning)
}

func TestPowerOffAbortsProgram(t *testing.T) {
	opts := testOptions()
	opts.RunTime = time.Hour
	h := startHarness(t, opts)

	require.NoError(t, h.sec.SendProgram(context.Background(), "movej([0,0,0,0,0,0], a=0.1, v=0.1, r=0)"))
	require.Eventually(t, func() bool { return h.store.Snapshot().ProgramRunning }, time.Second, 2*time.Millisecond)

	h.srv.PowerOff(true)
	require.Eventually(t, func() bool {
		s := h.store.Snapshot()
		return s.SafetyMode == state.SafetyFault && !s.ProgramRunning
	}, time.Second, 2*time.Millisecond)
	assert.False(t, h.store.Snapshot().Mode.PowerOn)

	// A powered-off arm ignores motion programs
	require.NoError(t, h.sec.SendProgram(context.Background(), "movej([0.1,0,0,0,0,0], a=0.1, v=0.1, r=0)"))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, h.store.Snapshot().ProgramRunning)

	h.srv.PowerOff(false)
	require.Eventually(t, func() bool { return h.store.Snapshot().SafetyMode == state.SafetyNormal },
		time.Second, 2*time.Millisecond)
}

func TestMasterBoardSafetyViolation(t *testing.T) {
	opts := testOptions()
	opts.RunTime = time.Hour
	h := startHarness(t, opts)

	require.NoError(t, h.sec.SendProgram(context.Background(), "movej([0,0,0,0,0,0], a=0.1, v=0.1, r=0)"))
	require.Eventually(t, func() bool { return h.store.Snapshot().ProgramRunning }, time.Second, 2*time.Millisecond)

	h.srv.SetSafetyMode(state.BoardSafetyViolation)
	require.Eventually(t, func() bool {
		s := h.store.Snapshot()
		return s.SafetyMode == state.SafetyFault && !s.ProgramRunning
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, state.BoardSafetyViolation, h.store.Snapshot().MasterBoard.SafetyMode)
}

func TestStopAndOutputs(t *testing.T) {
	opts := testOptions()
	opts.RunTime = time.Hour
	h := startHarness(t, opts)
	ctx := context.Background()

	require.NoError(t, h.sec.SendProgram(ctx, "speedj([0.1,0,0,0,0,0], a=0.5, t_min=10)"))
	require.Eventually(t, func() bool { return h.store.Snapshot().ProgramRunning }, time.Second, 2*time.Millisecond)
	require.NoError(t, h.sec.SendProgram(ctx, "stopj(2)"))
	require.Eventually(t, func() bool { return !h.store.Snapshot().ProgramRunning }, time.Second, 2*time.Millisecond)

	require.NoError(t, h.sec.SendProgram(ctx, "set_digital_out(2, True)"))
	require.Eventually(t, func() bool { return h.store.Snapshot().DigitalOut(2) }, time.Second, 2*time.Millisecond)

	h.srv.SetDigitalInputs(0b1001)
	h.srv.SetForce([6]float64{1, 2, 2, 0, 0, 0})
	require.Eventually(t, func() bool {
		s := h.store.Snapshot()
		return s.DigitalIn(0) && s.DigitalIn(3) && s.Realtime.TCPForce[2] == 2
	}, time.Second, 2*time.Millisecond)
}

func TestDropConnectionsTriggersReconnect(t *testing.T) {
	h := startHarness(t, testOptions())

	h.srv.DropConnections()
	require.Eventually(t, func() bool { return h.sec.Stats().Disconnects >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		s := h.store.Snapshot()
		return !s.Stale && h.sec.Stats().Connects >= 2
	}, 2*time.Second, 5*time.Millisecond)

	sec, _ := h.srv.Clients()
	assert.Equal(t, 1, sec)
}
