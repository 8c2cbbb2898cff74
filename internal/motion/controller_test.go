package motion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/script"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu       sync.Mutex
	programs []string
	err      error
	onSend   func(program string)
}

func (f *fakeSender) SendProgram(ctx context.Context, program string) error {
	f.mu.Lock()
	err := f.err
	hook := f.onSend
	if err == nil {
		f.programs = append(f.programs, program)
	}
	f.mu.Unlock()

	if err == nil && hook != nil {
		hook(program)
	}
	return err
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.programs...)
}

func (f *fakeSender) setHook(fn func(string)) {
	f.mu.Lock()
	f.onSend = fn
	f.mu.Unlock()
}

func testPolicy() Policy {
	return Policy{
		GracePeriod:  200 * time.Millisecond,
		MaxDuration:  2 * time.Second,
		PollInterval: 5 * time.Millisecond,
		StaleAfter:   time.Second,
	}
}

func setMode(store *state.Store, running, estop, pstop bool) {
	store.Update(state.Patch{Mode: &state.RobotModeData{
		RobotConnected:    true,
		RealRobotEnabled:  true,
		PowerOn:           true,
		ProgramRunning:    running,
		EmergencyStopped:  estop,
		ProtectiveStopped: pstop,
	}})
}

func newTestController(t *testing.T, policy Policy) (*Controller, *state.Store, *fakeSender) {
	t.Helper()

	store := state.NewStore()
	setMode(store, false, false, false)
	store.Update(state.Patch{
		Joints:    &state.JointData{},
		Cartesian: &state.CartesianInfo{TCP: transform.NewPose(0.3, 0, 0.4, 0, 0, 0)},
	})

	sender := &fakeSender{}
	c := NewController(zap.NewNop(), store, sender, Options{Policy: policy, Address: "test:30002"})
	t.Cleanup(c.Close)
	return c, store, sender
}

func moveJ(blocking bool) script.MotionCommand {
	return script.MotionCommand{
		Kind:     script.KindMoveJoint,
		Joints:   []float64{0, -1.57, 1.57, 0, 1.57, 0},
		Accel:    1.4,
		Vel:      1.05,
		Blocking: blocking,
	}
}

// after runs steps in order on a background goroutine once the program is sent.
func after(sender *fakeSender, steps ...func()) {
	sender.setHook(func(string) {
		go func() {
			for _, step := range steps {
				time.Sleep(20 * time.Millisecond)
				step()
			}
		}()
	})
}

func TestBlockingMoveCompletes(t *testing.T) {
	c, store, sender := newTestController(t, testPolicy())
	after(sender,
		func() { setMode(store, true, false, false) },
		func() { setMode(store, true, false, false) },
		func() { setMode(store, false, false, false) },
	)

	exec, err := c.Submit(context.Background(), moveJ(true))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, exec.State)
	assert.NotNil(t, exec.RunningAt)
	assert.NotNil(t, exec.FinishedAt)
	assert.Equal(t, []string{"movej([0,-1.57,1.57,0,1.57,0], a=1.4, v=1.05, r=0)"}, sender.sent())

	_, active := c.Active()
	assert.False(t, active)
}

func TestEmergencyStopFaultsMotion(t *testing.T) {
	c, store, sender := newTestController(t, testPolicy())
	after(sender,
		func() { setMode(store, true, false, false) },
		func() { setMode(store, true, true, false) },
	)

	exec, err := c.Submit(context.Background(), moveJ(true))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSafetyStop)
	assert.Equal(t, StateFaulted, exec.State)

	var safety *types.SafetyStopError
	require.ErrorAs(t, err, &safety)
	assert.Equal(t, string(state.SafetyEmergencyStop), safety.Mode)
	assert.Equal(t, exec.ID.String(), safety.CommandID)
}

func TestPowerLossFaultsMotion(t *testing.T) {
	tests := map[string]state.RobotModeData{
		"power off":          {RobotConnected: true, RealRobotEnabled: true},
		"robot disconnected": {PowerOn: true},
		"both":               {},
	}
	for name, mode := range tests {
		t.Run(name, func(t *testing.T) {
			c, store, sender := newTestController(t, testPolicy())
			after(sender,
				func() { setMode(store, true, false, false) },
				func() {
					m := mode
					store.Update(state.Patch{Mode: &m})
				},
			)

			exec, err := c.Submit(context.Background(), moveJ(true))
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrSafetyStop)
			assert.Equal(t, StateFaulted, exec.State)
			assert.NotNil(t, exec.RunningAt)

			var safety *types.SafetyStopError
			require.ErrorAs(t, err, &safety)
			assert.Equal(t, string(state.SafetyFault), safety.Mode)
		})
	}
}

func TestMasterBoardFaultFaultsMotion(t *testing.T) {
	for _, code := range []uint8{state.BoardSafetyViolation, state.BoardSafetyFault} {
		c, store, sender := newTestController(t, testPolicy())
		after(sender,
			func() { setMode(store, true, false, false) },
			func() { store.Update(state.Patch{MasterBoard: &state.MasterBoardData{SafetyMode: code}}) },
		)

		exec, err := c.Submit(context.Background(), moveJ(true))
		assert.ErrorIs(t, err, types.ErrSafetyStop, "code %d", code)
		assert.Equal(t, StateFaulted, exec.State, "code %d", code)
	}
}

func TestStopFromOtherGoroutineIsNotBlocked(t *testing.T) {
	policy := testPolicy()
	policy.MaxDuration = 10 * time.Second
	c, store, sender := newTestController(t, policy)
	after(sender, func() { setMode(store, true, false, false) })

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), moveJ(true))
		done <- err
	}()
	require.Eventually(t, func() bool {
		a, ok := c.Active()
		return ok && a.State == StateRunning
	}, time.Second, 5*time.Millisecond)
	sender.setHook(nil)

	stopped := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), script.MotionCommand{Kind: script.KindStopLinear, Accel: 1})
		stopped <- err
	}()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("stop waited for the blocking move")
	}
	assert.Equal(t, "stopl(1)", sender.sent()[1])

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("blocking move did not return after stop")
	}
}

func TestAuxiliaryProgramDuringBlockingMove(t *testing.T) {
	c, store, sender := newTestController(t, testPolicy())
	after(sender, func() { setMode(store, true, false, false) })

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), moveJ(true))
		done <- err
	}()
	require.Eventually(t, func() bool {
		a, ok := c.Active()
		return ok && a.State == StateRunning
	}, time.Second, 5*time.Millisecond)
	sender.setHook(nil)

	require.NoError(t, c.SendAux(context.Background(), "textmsg(\"hi\")"))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("blocking move did not return after being superseded")
	}
}

func TestProtectiveStopBeforeRunning(t *testing.T) {
	c, store, sender := newTestController(t, testPolicy())
	after(sender, func() { setMode(store, false, false, true) })

	exec, err := c.Submit(context.Background(), moveJ(true))
	assert.ErrorIs(t, err, types.ErrSafetyStop)
	assert.Equal(t, StateFaulted, exec.State)
}

func TestNeverRunningTimesOut(t *testing.T) {
	policy := testPolicy()
	policy.GracePeriod = 50 * time.Millisecond
	c, _, _ := newTestController(t, policy)

	exec, err := c.Submit(context.Background(), moveJ(true))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMotionTimeout)
	assert.Equal(t, StateTimedOut, exec.State)

	var timeout *types.MotionTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "start", timeout.Phase)
	assert.Equal(t, 50*time.Millisecond, timeout.Limit)
}

func TestRunningBeyondMaxDurationTimesOut(t *testing.T) {
	policy := testPolicy()
	policy.MaxDuration = 60 * time.Millisecond
	c, store, sender := newTestController(t, policy)
	after(sender, func() { setMode(store, true, false, false) })

	exec, err := c.Submit(context.Background(), moveJ(true))
	assert.ErrorIs(t, err, types.ErrMotionTimeout)
	assert.Equal(t, StateTimedOut, exec.State)

	var timeout *types.MotionTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "run", timeout.Phase)
}

func TestDisconnectMidWaitFaults(t *testing.T) {
	c, store, sender := newTestController(t, testPolicy())
	after(sender,
		func() { setMode(store, true, false, false) },
		func() { store.MarkStale("secondary: connection reset") },
	)

	exec, err := c.Submit(context.Background(), moveJ(true))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, StateFaulted, exec.State)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSilentStoreFaults(t *testing.T) {
	policy := testPolicy()
	policy.StaleAfter = 50 * time.Millisecond
	policy.GracePeriod = time.Second
	c, store, sender := newTestController(t, policy)
	after(sender, func() { setMode(store, true, false, false) })

	start := time.Now()
	exec, err := c.Submit(context.Background(), moveJ(true))
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, StateFaulted, exec.State)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNonBlockingReturnsRunning(t *testing.T) {
	c, store, sender := newTestController(t, testPolicy())
	after(sender,
		func() { setMode(store, true, false, false) },
		func() { setMode(store, false, false, false) },
	)

	events := c.Subscribe()
	defer c.Unsubscribe(events)

	exec, err := c.Submit(context.Background(), moveJ(false))
	require.NoError(t, err)
	assert.Equal(t, StateRunning, exec.State)

	require.Eventually(t, func() bool {
		got, ok := c.Execution(exec.ID)
		return ok && got.State == StateCompleted
	}, time.Second, 5*time.Millisecond)

	last, ok := c.LastExecution()
	require.True(t, ok)
	assert.Equal(t, exec.ID, last.ID)

	var states []State
	for len(states) < 2 {
		select {
		case e := <-events:
			states = append(states, e.State)
		case <-time.After(time.Second):
			t.Fatal("missing execution events")
		}
	}
	assert.Equal(t, []State{StateRunning, StateCompleted}, states)
}

func TestNonBlockingFaultIsRecorded(t *testing.T) {
	c, store, sender := newTestController(t, testPolicy())
	after(sender,
		func() { setMode(store, true, false, false) },
		func() { setMode(store, false, true, false) },
	)

	exec, err := c.Submit(context.Background(), moveJ(false))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := c.Execution(exec.ID)
		return got.State == StateFaulted
	}, time.Second, 5*time.Millisecond)

	got, _ := c.Execution(exec.ID)
	assert.ErrorIs(t, got.Err, types.ErrSafetyStop)
	assert.NotEmpty(t, got.Error)
}

func TestRelativeMoveWhileActiveIsRejected(t *testing.T) {
	c, _, sender := newTestController(t, testPolicy())

	_, err := c.Submit(context.Background(), moveJ(false))
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), script.MotionCommand{
		Kind:     script.KindMoveLinear,
		Pose:     transform.NewPose(0.1, 0, 0, 0, 0, 0),
		Accel:    0.1,
		Vel:      0.1,
		Relative: true,
	})
	assert.ErrorIs(t, err, types.ErrInvalidCommand)
	assert.Len(t, sender.sent(), 1)
}

func TestRelativeMoveResolvedAtIssue(t *testing.T) {
	c, store, sender := newTestController(t, testPolicy())
	store.Update(state.Patch{Cartesian: &state.CartesianInfo{}})

	exec, err := c.Submit(context.Background(), script.MotionCommand{
		Kind:     script.KindMoveLinear,
		Pose:     transform.NewPose(0.1, 0, 0, 0, 0, 0),
		Accel:    0.1,
		Vel:      0.1,
		Relative: true,
	})
	require.NoError(t, err)
	require.NotNil(t, exec.Target)
	assert.True(t, exec.Target.ApproxEqual(transform.NewPose(0.1, 0, 0, 0, 0, 0), 1e-9))
	assert.Equal(t, []string{"movel(p[0.1,0,0,0,0,0], a=0.1, v=0.1, r=0)"}, sender.sent())
}

func TestStopCancelsActiveWait(t *testing.T) {
	c, store, sender := newTestController(t, testPolicy())
	after(sender, func() { setMode(store, true, false, false) })

	type result struct {
		exec Execution
		err  error
	}
	done := make(chan result, 1)
	go func() {
		exec, err := c.Submit(context.Background(), moveJ(true))
		done <- result{exec, err}
	}()

	require.Eventually(t, func() bool {
		a, ok := c.Active()
		return ok && a.State == StateRunning
	}, time.Second, 5*time.Millisecond)

	sender.setHook(nil)
	stop, err := c.Submit(context.Background(), script.MotionCommand{Kind: script.KindStopJoint, Accel: 2})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stop.State)

	select {
	case r := <-done:
		assert.Equal(t, StateCancelled, r.exec.State)
		assert.True(t, errors.Is(r.err, ErrStopped))
	case <-time.After(time.Second):
		t.Fatal("blocking move did not return after stop")
	}

	programs := sender.sent()
	require.Len(t, programs, 2)
	assert.Equal(t, "stopj(2)", programs[1])
}

func TestContextCancelEndsWait(t *testing.T) {
	policy := testPolicy()
	policy.GracePeriod = 10 * time.Second
	policy.StaleAfter = 10 * time.Second
	c, _, _ := newTestController(t, policy)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	exec, err := c.Submit(ctx, moveJ(true))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateCancelled, exec.State)
}

func TestNewProgramSupersedesActive(t *testing.T) {
	c, _, _ := newTestController(t, testPolicy())

	first, err := c.Submit(context.Background(), moveJ(false))
	require.NoError(t, err)
	second, err := c.Submit(context.Background(), moveJ(false))
	require.NoError(t, err)

	got, ok := c.Execution(first.ID)
	require.True(t, ok)
	assert.Equal(t, StateCancelled, got.State)
	assert.ErrorIs(t, got.Err, ErrSuperseded)

	active, ok := c.Active()
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)
}

func TestInvalidCommandSendsNothing(t *testing.T) {
	c, _, sender := newTestController(t, testPolicy())

	_, err := c.Submit(context.Background(), script.MotionCommand{
		Kind: script.KindMoveJoint, Joints: []float64{1, 2, 3}, Accel: 1, Vel: 1, Blocking: true,
	})
	assert.ErrorIs(t, err, types.ErrInvalidCommand)
	assert.Empty(t, sender.sent())
	_, ok := c.LastExecution()
	assert.False(t, ok)
}

func TestSendFailureFaults(t *testing.T) {
	c, _, sender := newTestController(t, testPolicy())
	sender.err = &types.ConnectionError{Address: "test:30002", Op: "write", Err: errors.New("broken pipe")}

	exec, err := c.Submit(context.Background(), moveJ(true))
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, StateFaulted, exec.State)
}

func TestExplicitIDIsKept(t *testing.T) {
	c, _, _ := newTestController(t, testPolicy())
	cmd := moveJ(false)
	cmd.ID = uuid.New()

	exec, err := c.Submit(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, exec.ID)
	assert.Len(t, c.Executions(), 1)
}

func TestEvaluateIgnoresSnapshotsFromBeforeSubmission(t *testing.T) {
	now := time.Now()
	exec := &Execution{ID: uuid.New(), State: StateSubmitted, SubmittedAt: now, baseSequence: 10}
	snap := state.RobotState{Sequence: 10, Timestamp: now, ProgramRunning: true, SafetyMode: state.SafetyNormal}

	next, err := evaluate(exec, snap, now, testPolicy(), "")
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, next)

	snap.Sequence = 11
	next, err = evaluate(exec, snap, now, testPolicy(), "")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, next)

	snap.Sequence = 12
	snap.ProgramRunning = false
	snap.SafetyMode = state.SafetyReduced
	next, err = evaluate(exec, snap, now, testPolicy(), "")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, next)
}
