// Package motion tracks submitted commands from Submitted to a terminal state
// by observing the state store.
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/script"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sender delivers a script program to the controller.
type Sender interface {
	SendProgram(ctx context.Context, program string) error
}

// StateSource is the read side of the state store.
type StateSource interface {
	Snapshot() state.RobotState
	Now() time.Time
}

var (
	// ErrStopped is the cancel cause of a wait interrupted by a stop command.
	ErrStopped = errors.New("interrupted by stop command")
	// ErrSuperseded is the cancel cause of a wait whose program was replaced
	// by a newer one.
	ErrSuperseded = errors.New("superseded by a newer program")

	errClosed = errors.New("motion controller closed")
)

const historySize = 256

type Options struct {
	Policy Policy
	Math   transform.Math
	// Address only labels connection errors.
	Address string
}

type Controller struct {
	logger  *zap.Logger
	store   StateSource
	sender  Sender
	math    transform.Math
	encoder *script.Encoder
	events  *EventStreamer
	address string

	// submitMu serializes submissions so the active check and the send are atomic.
	submitMu sync.Mutex

	mu         sync.RWMutex
	policy     Policy
	executions map[uuid.UUID]*Execution
	order      []uuid.UUID
	active     uuid.UUID
	cancels    map[uuid.UUID]context.CancelCauseFunc
	tool       ToolConfig
	csys       transform.Pose

	wg sync.WaitGroup
}

func NewController(logger *zap.Logger, store StateSource, sender Sender, opts Options) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Math == nil {
		opts.Math = transform.Default
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	return &Controller{
		logger:     logger,
		store:      store,
		sender:     sender,
		math:       opts.Math,
		encoder:    script.NewEncoder(opts.Math),
		events:     NewEventStreamer(),
		address:    opts.Address,
		policy:     opts.Policy,
		executions: make(map[uuid.UUID]*Execution),
		cancels:    make(map[uuid.UUID]context.CancelCauseFunc),
	}
}

func (c *Controller) Policy() Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// SetPolicy applies to waits started afterwards.
func (c *Controller) SetPolicy(p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

// Submit encodes and sends cmd. Blocking commands return once a terminal
// state is reached, with the error that terminated them. Non-blocking
// commands return in the Running state and are tracked in the background.
func (c *Controller) Submit(ctx context.Context, cmd script.MotionCommand) (Execution, error) {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.Kind.IsStop() {
		return c.stop(ctx, cmd)
	}

	exec, waitCtx, err := c.send(ctx, cmd)
	if err != nil {
		return exec, err
	}

	if cmd.Blocking {
		return c.track(waitCtx, exec.ID)
	}

	out := c.markRunning(exec.ID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.track(waitCtx, exec.ID)
	}()
	return out, nil
}

// send registers and transmits cmd while holding submitMu. The lock is
// released before any waiting so stop commands can always get through.
func (c *Controller) send(ctx context.Context, cmd script.MotionCommand) (Execution, context.Context, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	if relative(cmd) {
		if prev, ok := c.Active(); ok {
			return Execution{}, nil, types.Invalid("relative",
				"relative %s issued while %s is still %s", cmd.Kind, prev.ID, prev.State)
		}
	}

	snap := c.store.Snapshot()
	ref, err := c.reference(snap, cmd)
	if err != nil {
		return Execution{}, nil, err
	}
	program, err := c.encoder.Encode(cmd, ref)
	if err != nil {
		return Execution{}, nil, err
	}

	exec := &Execution{
		ID:           cmd.ID,
		Kind:         cmd.Kind,
		Program:      program,
		State:        StateSubmitted,
		Blocking:     cmd.Blocking,
		SubmittedAt:  c.store.Now(),
		baseSequence: snap.Sequence,
	}
	switch cmd.Kind {
	case script.KindMoveJoint:
		exec.Joints, _ = c.encoder.JointTarget(cmd, ref)
	case script.KindMoveLinear, script.KindMoveProcess, script.KindTranslate, script.KindTranslateTool:
		if target, err := c.encoder.PoseTarget(cmd, ref); err == nil {
			exec.Target = &target
		}
	case script.KindMoveCircular:
		target := cmd.Pose
		exec.Target = &target
	case script.KindMoveLinearPath:
		target := cmd.Path[len(cmd.Path)-1]
		exec.Target = &target
	}

	c.cancelActive(ErrSuperseded)

	var waitCtx context.Context
	var cancel context.CancelCauseFunc
	if cmd.Blocking {
		waitCtx, cancel = context.WithCancelCause(ctx)
	} else {
		waitCtx, cancel = context.WithCancelCause(context.Background())
	}
	c.register(exec, cancel)

	if err := c.sender.SendProgram(ctx, program); err != nil {
		out := c.finish(exec.ID, StateFaulted, fmt.Errorf("send %s: %w", cmd.Kind, err))
		return out, nil, out.Err
	}

	c.logger.Info("Motion submitted",
		zap.String("execution_id", exec.ID.String()),
		zap.String("kind", string(cmd.Kind)),
		zap.Bool("blocking", cmd.Blocking),
		zap.String("program", program))
	return exec.clone(), waitCtx, nil
}

func relative(cmd script.MotionCommand) bool {
	switch cmd.Kind {
	case script.KindTranslate, script.KindTranslateTool:
		return true
	}
	return cmd.Relative
}

// reference resolves the robot state a command is relative to, at issue time.
func (c *Controller) reference(snap state.RobotState, cmd script.MotionCommand) (script.Reference, error) {
	c.mu.RLock()
	csys := c.csys
	c.mu.RUnlock()

	ref := script.Reference{Csys: csys}
	if snap.HasCartesian {
		ref.Pose = c.inCsys(csys, snap.Cartesian.TCP)
	}
	if snap.HasJoints || snap.HasRealtime {
		ref.Joints = snap.JointAngles()
	}

	if relative(cmd) {
		switch cmd.Kind {
		case script.KindMoveJoint:
			if ref.Joints == nil {
				return ref, types.Invalid("joints", "no joint positions reported yet")
			}
		default:
			if !snap.HasCartesian {
				return ref, types.Invalid("pose", "no TCP pose reported yet")
			}
		}
	}
	return ref, nil
}

func (c *Controller) inCsys(csys, p transform.Pose) transform.Pose {
	if csys == (transform.Pose{}) {
		return p
	}
	return c.math.Compose(c.math.Invert(csys), p)
}

func (c *Controller) stop(ctx context.Context, cmd script.MotionCommand) (Execution, error) {
	program, err := c.encoder.Encode(cmd, script.Reference{})
	if err != nil {
		return Execution{}, err
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	if err := c.sender.SendProgram(ctx, program); err != nil {
		return Execution{}, fmt.Errorf("send %s: %w", cmd.Kind, err)
	}
	c.cancelActive(ErrStopped)

	now := c.store.Now()
	exec := &Execution{
		ID:          cmd.ID,
		Kind:        cmd.Kind,
		Program:     program,
		State:       StateCompleted,
		SubmittedAt: now,
		FinishedAt:  &now,
	}
	c.register(exec, nil)

	c.logger.Info("Stop sent",
		zap.String("execution_id", exec.ID.String()),
		zap.String("program", program))

	out := exec.clone()
	c.events.Broadcast(out)
	return out, nil
}

// track polls the store until the execution is terminal or ctx ends.
func (c *Controller) track(ctx context.Context, id uuid.UUID) (Execution, error) {
	ticker := time.NewTicker(c.Policy().PollInterval)
	defer ticker.Stop()

	for {
		if exec, done := c.poll(id); done {
			return exec, exec.Err
		}

		select {
		case <-ctx.Done():
			exec := c.finish(id, StateCancelled, fmt.Errorf("motion %s cancelled: %w", id, context.Cause(ctx)))
			return exec, exec.Err
		case <-ticker.C:
		}
	}
}

// poll evaluates one snapshot against the execution.
func (c *Controller) poll(id uuid.UUID) (Execution, bool) {
	snap := c.store.Snapshot()
	now := c.store.Now()

	c.mu.Lock()
	exec, ok := c.executions[id]
	if !ok {
		c.mu.Unlock()
		return Execution{ID: id, State: StateCancelled, Err: errClosed}, true
	}
	if exec.State.Terminal() {
		out := exec.clone()
		c.mu.Unlock()
		return out, true
	}

	next, err := evaluate(exec, snap, now, c.policy, c.address)
	if next == exec.State {
		c.mu.Unlock()
		return Execution{}, false
	}
	out := c.transitionLocked(exec, next, err, now)
	c.mu.Unlock()

	c.publish(out)
	return out, next.Terminal()
}

// evaluate advances exec by one observation and returns the state it should
// be in. It records the first program-running observation on exec.
func evaluate(exec *Execution, snap state.RobotState, now time.Time, p Policy, address string) (State, error) {
	if snap.Stale {
		return StateFaulted, &types.ConnectionError{
			Address: address,
			Op:      "monitor",
			Err:     fmt.Errorf("robot state stale: %s", snap.StaleReason),
		}
	}
	if age := snap.Age(now); age > p.StaleAfter {
		return StateFaulted, &types.ConnectionError{
			Address: address,
			Op:      "monitor",
			Err:     fmt.Errorf("no state update for %s", age.Round(time.Millisecond)),
		}
	}
	if snap.SafetyMode.Stopped() {
		return StateFaulted, &types.SafetyStopError{
			CommandID: exec.ID.String(),
			Mode:      string(snap.SafetyMode),
		}
	}

	if !exec.observed {
		if snap.Sequence > exec.baseSequence && snap.IsProgramRunning() {
			exec.observed = true
			exec.observedAt = now
			return StateRunning, nil
		}
		if now.Sub(exec.SubmittedAt) > p.GracePeriod {
			return StateTimedOut, &types.MotionTimeoutError{
				CommandID: exec.ID.String(),
				Phase:     "start",
				Limit:     p.GracePeriod,
			}
		}
		return exec.State, nil
	}

	if !snap.IsProgramRunning() {
		return StateCompleted, nil
	}
	if now.Sub(exec.observedAt) > p.MaxDuration {
		return StateTimedOut, &types.MotionTimeoutError{
			CommandID: exec.ID.String(),
			Phase:     "run",
			Limit:     p.MaxDuration,
		}
	}
	return StateRunning, nil
}

func (c *Controller) transitionLocked(exec *Execution, next State, err error, now time.Time) Execution {
	exec.State = next
	if next == StateRunning && exec.RunningAt == nil {
		t := now
		exec.RunningAt = &t
	}
	if next.Terminal() {
		t := now
		exec.FinishedAt = &t
		if err != nil {
			exec.Err = err
			exec.Error = err.Error()
		}
		if c.active == exec.ID {
			c.active = uuid.Nil
		}
		if cancel, ok := c.cancels[exec.ID]; ok {
			delete(c.cancels, exec.ID)
			cancel(nil)
		}
	}
	return exec.clone()
}

// finish forces a terminal state unless the execution already has one.
func (c *Controller) finish(id uuid.UUID, next State, err error) Execution {
	c.mu.Lock()
	exec, ok := c.executions[id]
	if !ok {
		c.mu.Unlock()
		return Execution{ID: id, State: next, Err: err}
	}
	if exec.State.Terminal() {
		out := exec.clone()
		c.mu.Unlock()
		return out
	}
	out := c.transitionLocked(exec, next, err, c.store.Now())
	c.mu.Unlock()

	c.publish(out)
	return out
}

func (c *Controller) markRunning(id uuid.UUID) Execution {
	c.mu.Lock()
	exec := c.executions[id]
	if exec.State.Terminal() {
		out := exec.clone()
		c.mu.Unlock()
		return out
	}
	out := c.transitionLocked(exec, StateRunning, nil, exec.SubmittedAt)
	c.mu.Unlock()

	c.publish(out)
	return out
}

func (c *Controller) publish(exec Execution) {
	fields := []zap.Field{
		zap.String("execution_id", exec.ID.String()),
		zap.String("kind", string(exec.Kind)),
		zap.String("state", string(exec.State)),
	}
	if exec.Err != nil {
		c.logger.Warn("Motion state changed", append(fields, zap.Error(exec.Err))...)
	} else {
		c.logger.Info("Motion state changed", fields...)
	}
	c.events.Broadcast(exec)
}

func (c *Controller) register(exec *Execution, cancel context.CancelCauseFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.executions[exec.ID] = exec
	c.order = append(c.order, exec.ID)
	if cancel != nil {
		c.cancels[exec.ID] = cancel
		c.active = exec.ID
	}

	for len(c.order) > historySize {
		oldest := c.order[0]
		if e, ok := c.executions[oldest]; ok && !e.State.Terminal() {
			break
		}
		delete(c.executions, oldest)
		c.order = c.order[1:]
	}
}

// cancelActive interrupts the wait of the active execution, if any.
func (c *Controller) cancelActive(cause error) {
	c.mu.Lock()
	id := c.active
	cancel, ok := c.cancels[id]
	c.mu.Unlock()

	if id == uuid.Nil || !ok {
		return
	}
	cancel(cause)
	c.finish(id, StateCancelled, fmt.Errorf("motion %s cancelled: %w", id, cause))
}

// Active returns the non-terminal execution, if one is in flight.
func (c *Controller) Active() (Execution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	exec, ok := c.executions[c.active]
	if !ok || exec.State.Terminal() {
		return Execution{}, false
	}
	return exec.clone(), true
}

func (c *Controller) Execution(id uuid.UUID) (Execution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	exec, ok := c.executions[id]
	if !ok {
		return Execution{}, false
	}
	return exec.clone(), true
}

func (c *Controller) LastExecution() (Execution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.order) == 0 {
		return Execution{}, false
	}
	return c.executions[c.order[len(c.order)-1]].clone(), true
}

// Executions lists the retained history, newest first.
func (c *Controller) Executions() []Execution {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Execution, 0, len(c.order))
	for i := len(c.order) - 1; i >= 0; i-- {
		out = append(out, c.executions[c.order[i]].clone())
	}
	return out
}

func (c *Controller) Subscribe() <-chan Execution {
	return c.events.Subscribe()
}

func (c *Controller) Unsubscribe(ch <-chan Execution) {
	c.events.Unsubscribe(ch)
}

// Close cancels every wait and waits for background trackers to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(c.cancels))
	for _, cancel := range c.cancels {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel(errClosed)
	}
	c.wg.Wait()
}
