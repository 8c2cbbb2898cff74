// Package script turns motion intents into controller script text.
package script

import (
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/google/uuid"
)

type Kind string

const (
	KindMoveJoint      Kind = "movej"
	KindMoveLinear     Kind = "movel"
	KindMoveProcess    Kind = "movep"
	KindMoveCircular   Kind = "movec"
	KindMoveLinearPath Kind = "movels"
	KindTranslate      Kind = "translate"
	KindTranslateTool  Kind = "translate_tool"
	KindSpeedJoint     Kind = "speedj"
	KindSpeedLinear    Kind = "speedl"
	KindStopJoint      Kind = "stopj"
	KindStopLinear     Kind = "stopl"
)

// IsStop reports whether the command interrupts the current motion.
func (k Kind) IsStop() bool {
	return k == KindStopJoint || k == KindStopLinear
}

// MotionCommand is one motion intent. Which fields are read depends on Kind:
// Joints for joint moves and speedj, Pose for linear targets and translation
// deltas (Position only), Via for movec, Path for movels, Velocities for
// speedl. Accel doubles as the deceleration of stop commands.
type MotionCommand struct {
	ID         uuid.UUID        `json:"id"`
	Kind       Kind             `json:"kind"`
	Joints     []float64        `json:"joints,omitempty"`
	Pose       transform.Pose   `json:"pose"`
	Via        transform.Pose   `json:"via"`
	Path       []transform.Pose `json:"path,omitempty"`
	Velocities []float64        `json:"velocities,omitempty"`
	Accel      float64          `json:"accel"`
	Vel        float64          `json:"vel"`
	Radius     float64          `json:"radius"`
	MinTime    float64          `json:"min_time"`
	Relative   bool             `json:"relative"`
	Blocking   bool             `json:"blocking"`
}

// Reference is the robot state a command is resolved against at issue time.
// Pose is the current TCP pose in the Csys frame; a zero Csys is the base frame.
type Reference struct {
	Pose   transform.Pose
	Joints []float64
	Csys   transform.Pose
}
