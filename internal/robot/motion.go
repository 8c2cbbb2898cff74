package robot

import (
	"context"

	"github.com/KevinKickass/OpenArmCore/internal/motion"
	"github.com/KevinKickass/OpenArmCore/internal/script"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/google/uuid"
)

// Zero accelerations and velocities are replaced by the configured defaults.

func (r *Robot) jointSpeed(accel, vel float64) (float64, float64) {
	return orDefault(accel, r.defaults.JointAccel), orDefault(vel, r.defaults.JointVel)
}

func (r *Robot) linearSpeed(accel, vel float64) (float64, float64) {
	return orDefault(accel, r.defaults.LinearAccel), orDefault(vel, r.defaults.LinearVel)
}

// submit refuses commands before Connect and after Close.
func (r *Robot) submit(ctx context.Context, cmd script.MotionCommand) (motion.Execution, error) {
	if err := r.ready(); err != nil {
		return motion.Execution{}, err
	}
	return r.motion.Submit(ctx, cmd)
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// Submit sends cmd as given, except that zero speeds take the configured defaults.
func (r *Robot) Submit(ctx context.Context, cmd script.MotionCommand) (motion.Execution, error) {
	switch {
	case cmd.Kind.IsStop():
		cmd.Accel = orDefault(cmd.Accel, r.defaults.StopDecel)
	case cmd.Kind == script.KindMoveJoint || cmd.Kind == script.KindSpeedJoint:
		cmd.Accel, cmd.Vel = r.jointSpeed(cmd.Accel, cmd.Vel)
	default:
		cmd.Accel, cmd.Vel = r.linearSpeed(cmd.Accel, cmd.Vel)
	}
	return r.submit(ctx, cmd)
}

// MoveJoint moves to joint angles q in radians.
func (r *Robot) MoveJoint(ctx context.Context, q []float64, accel, vel float64, blocking bool) (motion.Execution, error) {
	a, v := r.jointSpeed(accel, vel)
	return r.submit(ctx, script.MotionCommand{
		Kind:     script.KindMoveJoint,
		Joints:   q,
		Accel:    a,
		Vel:      v,
		Blocking: blocking,
	})
}

// MoveJointRelative adds q to the current joint angles.
func (r *Robot) MoveJointRelative(ctx context.Context, q []float64, accel, vel float64, blocking bool) (motion.Execution, error) {
	a, v := r.jointSpeed(accel, vel)
	return r.submit(ctx, script.MotionCommand{
		Kind:     script.KindMoveJoint,
		Joints:   q,
		Accel:    a,
		Vel:      v,
		Relative: true,
		Blocking: blocking,
	})
}

// MoveLinear moves the TCP in a straight line. A relative pose is applied
// as an offset to the pose reported when the call is issued.
func (r *Robot) MoveLinear(ctx context.Context, pose transform.Pose, accel, vel float64, relative, blocking bool) (motion.Execution, error) {
	a, v := r.linearSpeed(accel, vel)
	return r.submit(ctx, script.MotionCommand{
		Kind:     script.KindMoveLinear,
		Pose:     pose,
		Accel:    a,
		Vel:      v,
		Relative: relative,
		Blocking: blocking,
	})
}

// MoveProcess moves with constant tool speed and blend radius.
func (r *Robot) MoveProcess(ctx context.Context, pose transform.Pose, accel, vel, radius float64, blocking bool) (motion.Execution, error) {
	a, v := r.linearSpeed(accel, vel)
	return r.submit(ctx, script.MotionCommand{
		Kind:     script.KindMoveProcess,
		Pose:     pose,
		Accel:    a,
		Vel:      v,
		Radius:   radius,
		Blocking: blocking,
	})
}

// MoveCircular moves along the arc through via to the target pose.
func (r *Robot) MoveCircular(ctx context.Context, via, to transform.Pose, accel, vel float64, blocking bool) (motion.Execution, error) {
	a, v := r.linearSpeed(accel, vel)
	return r.submit(ctx, script.MotionCommand{
		Kind:     script.KindMoveCircular,
		Via:      via,
		Pose:     to,
		Accel:    a,
		Vel:      v,
		Blocking: blocking,
	})
}

// MoveLinearPath sends all poses as one program blended with radius.
func (r *Robot) MoveLinearPath(ctx context.Context, path []transform.Pose, accel, vel, radius float64, blocking bool) (motion.Execution, error) {
	a, v := r.linearSpeed(accel, vel)
	return r.submit(ctx, script.MotionCommand{
		Kind:     script.KindMoveLinearPath,
		Path:     path,
		Accel:    a,
		Vel:      v,
		Radius:   radius,
		Blocking: blocking,
	})
}

// Translate shifts the TCP position by delta in the reference frame,
// keeping the orientation.
func (r *Robot) Translate(ctx context.Context, delta [3]float64, accel, vel float64, blocking bool) (motion.Execution, error) {
	a, v := r.linearSpeed(accel, vel)
	return r.submit(ctx, script.MotionCommand{
		Kind:     script.KindTranslate,
		Pose:     transform.Pose{Position: delta},
		Accel:    a,
		Vel:      v,
		Blocking: blocking,
	})
}

// TranslateTool shifts the TCP by delta expressed in the tool frame.
func (r *Robot) TranslateTool(ctx context.Context, delta [3]float64, accel, vel float64, blocking bool) (motion.Execution, error) {
	a, v := r.linearSpeed(accel, vel)
	return r.submit(ctx, script.MotionCommand{
		Kind:     script.KindTranslateTool,
		Pose:     transform.Pose{Position: delta},
		Accel:    a,
		Vel:      v,
		Blocking: blocking,
	})
}

// SpeedJoint accelerates the joints to qd and keeps going for at least minTime seconds.
func (r *Robot) SpeedJoint(ctx context.Context, qd []float64, accel, minTime float64) (motion.Execution, error) {
	a, _ := r.jointSpeed(accel, 0)
	return r.submit(ctx, script.MotionCommand{
		Kind:    script.KindSpeedJoint,
		Joints:  qd,
		Accel:   a,
		MinTime: minTime,
	})
}

// SpeedLinear moves the TCP with velocities given in the reference frame.
func (r *Robot) SpeedLinear(ctx context.Context, velocities []float64, accel, minTime float64) (motion.Execution, error) {
	a, _ := r.linearSpeed(accel, 0)
	return r.submit(ctx, script.MotionCommand{
		Kind:       script.KindSpeedLinear,
		Velocities: velocities,
		Accel:      a,
		MinTime:    minTime,
	})
}

// StopJoint decelerates in joint space and interrupts any active wait.
func (r *Robot) StopJoint(ctx context.Context, decel float64) error {
	_, err := r.submit(ctx, script.MotionCommand{
		Kind:  script.KindStopJoint,
		Accel: orDefault(decel, r.defaults.StopDecel),
	})
	return err
}

// StopLinear decelerates in tool space and interrupts any active wait.
func (r *Robot) StopLinear(ctx context.Context, decel float64) error {
	_, err := r.submit(ctx, script.MotionCommand{
		Kind:  script.KindStopLinear,
		Accel: orDefault(decel, r.defaults.StopDecel),
	})
	return err
}

func (r *Robot) Execution(id uuid.UUID) (motion.Execution, bool) {
	return r.motion.Execution(id)
}

func (r *Robot) LastExecution() (motion.Execution, bool) {
	return r.motion.LastExecution()
}

func (r *Robot) Executions() []motion.Execution {
	return r.motion.Executions()
}
