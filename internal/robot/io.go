package robot

import (
	"context"
	"fmt"
	"math"

	"github.com/KevinKickass/OpenArmCore/internal/motion"
	"github.com/KevinKickass/OpenArmCore/internal/script"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/KevinKickass/OpenArmCore/internal/types"
)

func (r *Robot) SetTCP(ctx context.Context, offset transform.Pose) error {
	return r.motion.SetTCP(ctx, offset)
}

// SetPayload sets the payload mass in kg. cog is optional.
func (r *Robot) SetPayload(ctx context.Context, mass float64, cog *[3]float64) error {
	return r.motion.SetPayload(ctx, mass, cog)
}

func (r *Robot) ApplyTool(ctx context.Context, tool motion.ToolConfig) error {
	return r.motion.ApplyTool(ctx, tool)
}

func (r *Robot) Tool() motion.ToolConfig {
	return r.motion.Tool()
}

func (r *Robot) SetGravity(ctx context.Context, direction [3]float64) error {
	return r.sendAux(ctx, func() (string, error) { return script.SetGravity(direction) })
}

func (r *Robot) SetDigitalOut(ctx context.Context, n int, on bool) error {
	return r.sendAux(ctx, func() (string, error) { return script.SetDigitalOut(n, on) })
}

func (r *Robot) SetAnalogOut(ctx context.Context, n int, v float64) error {
	return r.sendAux(ctx, func() (string, error) { return script.SetAnalogOut(n, v) })
}

func (r *Robot) SetToolVoltage(ctx context.Context, volts int) error {
	return r.sendAux(ctx, func() (string, error) { return script.SetToolVoltage(volts) })
}

// SendMessage shows msg in the controller log.
func (r *Robot) SendMessage(ctx context.Context, msg string) error {
	return r.sendAux(ctx, func() (string, error) { return script.TextMessage(msg), nil })
}

func (r *Robot) sendAux(ctx context.Context, build func() (string, error)) error {
	if err := r.ready(); err != nil {
		return err
	}
	program, err := build()
	if err != nil {
		return err
	}
	return r.motion.SendAux(ctx, program)
}

// SetCsys sets the frame commanded and reported poses are expressed in.
func (r *Robot) SetCsys(csys transform.Pose) {
	r.motion.SetCsys(csys)
}

func (r *Robot) Csys() transform.Pose {
	return r.motion.Csys()
}

// GetState returns the latest snapshot without any freshness check.
func (r *Robot) GetState() state.RobotState {
	return r.store.Snapshot()
}

// WaitForUpdate blocks until a snapshot newer than the current one arrives.
func (r *Robot) WaitForUpdate(ctx context.Context) (state.RobotState, error) {
	ch := r.store.Subscribe()
	defer r.store.Unsubscribe(ch)

	base := r.store.Snapshot().Sequence
	for {
		select {
		case snap := <-ch:
			if snap.Sequence > base {
				return snap, nil
			}
		case <-ctx.Done():
			return state.RobotState{}, ctx.Err()
		}
	}
}

// fresh returns the snapshot if it is usable for reads, or the reason it is not.
func (r *Robot) fresh(need func(state.RobotState) bool, what string) (state.RobotState, error) {
	snap := r.store.Snapshot()
	if snap.Stale {
		return snap, &types.ConnectionError{Address: r.cfg.SecondaryAddress(), Op: "read", Err: fmt.Errorf("state is stale: %s", snap.StaleReason)}
	}
	if !need(snap) {
		return snap, &types.ConnectionError{Address: r.cfg.SecondaryAddress(), Op: "read", Err: fmt.Errorf("no %s received yet", what)}
	}
	return snap, nil
}

// GetPose returns the TCP pose in the reference frame.
func (r *Robot) GetPose() (transform.Pose, error) {
	snap, err := r.fresh(func(s state.RobotState) bool { return s.HasCartesian }, "cartesian info")
	if err != nil {
		return transform.Pose{}, err
	}
	return r.motion.Pose(snap), nil
}

// GetFlangePose returns the tool flange pose with the TCP offset removed.
func (r *Robot) GetFlangePose() (transform.Pose, error) {
	snap, err := r.fresh(func(s state.RobotState) bool { return s.HasCartesian }, "cartesian info")
	if err != nil {
		return transform.Pose{}, err
	}
	return r.motion.FlangePose(snap), nil
}

func (r *Robot) GetJointAngles() ([]float64, error) {
	snap, err := r.fresh(func(s state.RobotState) bool { return s.HasJoints || s.HasRealtime }, "joint data")
	if err != nil {
		return nil, err
	}
	return snap.JointAngles(), nil
}

// IsProgramRunning is false while stale or stopped by safety.
func (r *Robot) IsProgramRunning() bool {
	return r.store.Snapshot().IsProgramRunning()
}

// GetForces returns the TCP wrench from the real-time stream.
func (r *Robot) GetForces() ([6]float64, error) {
	if r.realtime == nil {
		return [6]float64{}, types.Invalid("forces", "real-time interface disabled")
	}
	snap, err := r.fresh(func(s state.RobotState) bool { return s.HasRealtime }, "real-time data")
	if err != nil {
		return [6]float64{}, err
	}
	return snap.Realtime.TCPForce, nil
}

// GetForceMagnitude is the euclidean norm over all six wrench components.
func (r *Robot) GetForceMagnitude() (float64, error) {
	f, err := r.GetForces()
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, v := range f {
		sum += v * v
	}
	return math.Sqrt(sum), nil
}

func (r *Robot) GetDigitalIn(n int) (bool, error) {
	if n < 0 || n > 31 {
		return false, types.Invalid("input", "digital input %d out of range", n)
	}
	snap, err := r.fresh(func(s state.RobotState) bool { return s.HasMode }, "masterboard data")
	if err != nil {
		return false, err
	}
	return snap.DigitalIn(n), nil
}

func (r *Robot) GetDigitalOut(n int) (bool, error) {
	if n < 0 || n > 31 {
		return false, types.Invalid("output", "digital output %d out of range", n)
	}
	snap, err := r.fresh(func(s state.RobotState) bool { return s.HasMode }, "masterboard data")
	if err != nil {
		return false, err
	}
	return snap.DigitalOut(n), nil
}

func (r *Robot) GetAnalogIn(n int) (float64, error) {
	if n < 0 || n > 1 {
		return 0, types.Invalid("input", "analog input %d out of range", n)
	}
	snap, err := r.fresh(func(s state.RobotState) bool { return s.HasMode }, "masterboard data")
	if err != nil {
		return 0, err
	}
	return snap.MasterBoard.AnalogInput[n], nil
}
