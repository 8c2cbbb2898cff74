package script

import (
	"fmt"
	"math"
	"strings"

	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/KevinKickass/OpenArmCore/internal/types"
)

// Encoder renders MotionCommands. It holds no state between calls: the same
// command and reference always produce the same text.
type Encoder struct {
	math transform.Math
}

func NewEncoder(m transform.Math) *Encoder {
	if m == nil {
		m = transform.Default
	}
	return &Encoder{math: m}
}

// Encode validates cmd and returns the script text without a trailing newline.
func (e *Encoder) Encode(cmd MotionCommand, ref Reference) (string, error) {
	if err := Validate(cmd); err != nil {
		return "", err
	}

	switch cmd.Kind {
	case KindMoveJoint:
		q, err := e.JointTarget(cmd, ref)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("movej(%s, a=%s, v=%s, r=%s)",
			formatList(q), formatFloat(cmd.Accel), formatFloat(cmd.Vel), formatFloat(cmd.Radius)), nil

	case KindMoveLinear, KindMoveProcess, KindTranslate, KindTranslateTool:
		target, err := e.PoseTarget(cmd, ref)
		if err != nil {
			return "", err
		}
		fn := "movel"
		if cmd.Kind == KindMoveProcess {
			fn = "movep"
		}
		return fmt.Sprintf("%s(%s, a=%s, v=%s, r=%s)",
			fn, formatPose(e.command(target, ref).Vector()),
			formatFloat(cmd.Accel), formatFloat(cmd.Vel), formatFloat(cmd.Radius)), nil

	case KindMoveCircular:
		return fmt.Sprintf("movec(%s, %s, a=%s, v=%s, r=%s)",
			formatPose(e.command(cmd.Via, ref).Vector()),
			formatPose(e.command(cmd.Pose, ref).Vector()),
			formatFloat(cmd.Accel), formatFloat(cmd.Vel), formatFloat(cmd.Radius)), nil

	case KindMoveLinearPath:
		var b strings.Builder
		b.WriteString("def motionPath():\n")
		for i, p := range cmd.Path {
			r := cmd.Radius
			if i == len(cmd.Path)-1 {
				r = 0
			}
			fmt.Fprintf(&b, "  movel(%s, a=%s, v=%s, r=%s)\n",
				formatPose(e.command(p, ref).Vector()),
				formatFloat(cmd.Accel), formatFloat(cmd.Vel), formatFloat(r))
		}
		b.WriteString("end")
		return b.String(), nil

	case KindSpeedJoint:
		return fmt.Sprintf("speedj(%s, a=%s, t_min=%s)",
			formatList(cmd.Joints), formatFloat(cmd.Accel), formatFloat(cmd.MinTime)), nil

	case KindSpeedLinear:
		return fmt.Sprintf("speedl(%s, a=%s, t_min=%s)",
			formatList(e.speedInBase(cmd.Velocities, ref)), formatFloat(cmd.Accel), formatFloat(cmd.MinTime)), nil

	case KindStopJoint:
		return fmt.Sprintf("stopj(%s)", formatFloat(cmd.Accel)), nil

	case KindStopLinear:
		return fmt.Sprintf("stopl(%s)", formatFloat(cmd.Accel)), nil
	}

	return "", types.Invalid("kind", "unknown command kind %q", cmd.Kind)
}

// JointTarget resolves the absolute joint target of a joint move.
func (e *Encoder) JointTarget(cmd MotionCommand, ref Reference) ([]float64, error) {
	q := append([]float64(nil), cmd.Joints...)
	if !cmd.Relative {
		return q, nil
	}
	if len(ref.Joints) != state.JointCount {
		return nil, types.Invalid("joints", "relative joint move needs %d reference joints, have %d",
			state.JointCount, len(ref.Joints))
	}
	for i := range q {
		q[i] += ref.Joints[i]
	}
	return q, nil
}

// PoseTarget resolves the absolute target of a linear move or translation in
// the reference frame. Relative deltas are expressed in the frame of ref.Pose.
func (e *Encoder) PoseTarget(cmd MotionCommand, ref Reference) (transform.Pose, error) {
	switch cmd.Kind {
	case KindTranslate:
		return transform.Translated(ref.Pose, cmd.Pose.Position), nil
	case KindTranslateTool:
		return e.math.Compose(ref.Pose, transform.Pose{Position: cmd.Pose.Position}), nil
	case KindMoveLinear, KindMoveProcess:
		if cmd.Relative {
			return e.math.Compose(ref.Pose, cmd.Pose), nil
		}
		return cmd.Pose, nil
	}
	return transform.Pose{}, types.Invalid("kind", "%q has no pose target", cmd.Kind)
}

// command maps a pose in the reference frame to the base frame the
// controller expects.
func (e *Encoder) command(p transform.Pose, ref Reference) transform.Pose {
	if ref.Csys == (transform.Pose{}) {
		return p
	}
	return e.math.Compose(ref.Csys, p)
}

func (e *Encoder) speedInBase(v []float64, ref Reference) []float64 {
	if ref.Csys.Rotation == ([3]float64{}) {
		return v
	}
	lin := e.math.Rotate(ref.Csys, [3]float64{v[0], v[1], v[2]})
	ang := e.math.Rotate(ref.Csys, [3]float64{v[3], v[4], v[5]})
	return []float64{lin[0], lin[1], lin[2], ang[0], ang[1], ang[2]}
}

// Validate rejects malformed commands before anything is sent.
func Validate(cmd MotionCommand) error {
	switch cmd.Kind {
	case KindMoveJoint:
		if err := checkVector("joints", cmd.Joints, state.JointCount); err != nil {
			return err
		}
		return checkMotion(cmd)

	case KindMoveLinear, KindMoveProcess, KindTranslate, KindTranslateTool:
		if err := checkPose("pose", cmd.Pose); err != nil {
			return err
		}
		return checkMotion(cmd)

	case KindMoveCircular:
		if cmd.Relative {
			return types.Invalid("relative", "circular moves take absolute poses")
		}
		if err := checkPose("via", cmd.Via); err != nil {
			return err
		}
		if err := checkPose("pose", cmd.Pose); err != nil {
			return err
		}
		return checkMotion(cmd)

	case KindMoveLinearPath:
		if len(cmd.Path) == 0 {
			return types.Invalid("path", "path is empty")
		}
		if cmd.Relative {
			return types.Invalid("relative", "paths take absolute poses")
		}
		for i, p := range cmd.Path {
			if err := checkPose(fmt.Sprintf("path[%d]", i), p); err != nil {
				return err
			}
		}
		return checkMotion(cmd)

	case KindSpeedJoint:
		if err := checkVector("joints", cmd.Joints, state.JointCount); err != nil {
			return err
		}
		return checkSpeed(cmd)

	case KindSpeedLinear:
		if err := checkVector("velocities", cmd.Velocities, 6); err != nil {
			return err
		}
		return checkSpeed(cmd)

	case KindStopJoint, KindStopLinear:
		return checkPositive("accel", cmd.Accel)
	}

	return types.Invalid("kind", "unknown command kind %q", cmd.Kind)
}

func checkMotion(cmd MotionCommand) error {
	if err := checkPositive("accel", cmd.Accel); err != nil {
		return err
	}
	if err := checkPositive("vel", cmd.Vel); err != nil {
		return err
	}
	return checkNonNegative("radius", cmd.Radius)
}

func checkSpeed(cmd MotionCommand) error {
	if err := checkPositive("accel", cmd.Accel); err != nil {
		return err
	}
	return checkNonNegative("min_time", cmd.MinTime)
}

func checkVector(field string, v []float64, n int) error {
	if len(v) != n {
		return types.Invalid(field, "expected %d values, got %d", n, len(v))
	}
	for i, x := range v {
		if !finite(x) {
			return types.Invalid(field, "value %d is not finite", i)
		}
	}
	return nil
}

func checkPose(field string, p transform.Pose) error {
	return checkVector(field, p.Vector(), 6)
}

func checkPositive(field string, v float64) error {
	if !finite(v) || v <= 0 {
		return types.Invalid(field, "must be a positive number, got %v", v)
	}
	return nil
}

func checkNonNegative(field string, v float64) error {
	if !finite(v) || v < 0 {
		return types.Invalid(field, "must not be negative, got %v", v)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
