// Package transform holds the rigid-transform math used to move between the
// robot base, the flange, the tool centre point and a user reference frame.
//
// Poses use the controller's own convention: a position in metres and a
// rotation vector (axis scaled by angle, radians).
package transform

import (
	"fmt"
	"math"

	"github.com/KevinKickass/OpenArmCore/internal/types"
)

// Pose is a position plus an axis-angle rotation vector.
type Pose struct {
	Position [3]float64 `json:"position" yaml:"position"`
	Rotation [3]float64 `json:"rotation" yaml:"rotation"`
}

// Matrix is a row-major 4x4 homogeneous transform.
type Matrix [4][4]float64

// Identity is the zero pose.
var Identity = Pose{}

func NewPose(x, y, z, rx, ry, rz float64) Pose {
	return Pose{
		Position: [3]float64{x, y, z},
		Rotation: [3]float64{rx, ry, rz},
	}
}

// PoseFromVector converts the six-element pose vector used on the wire.
func PoseFromVector(v []float64) (Pose, error) {
	if len(v) != 6 {
		return Pose{}, types.Invalid("pose", "expected 6 values, got %d", len(v))
	}
	for i, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Pose{}, types.Invalid("pose", "element %d is not finite", i)
		}
	}
	return NewPose(v[0], v[1], v[2], v[3], v[4], v[5]), nil
}

// Vector returns x, y, z, rx, ry, rz.
func (p Pose) Vector() []float64 {
	return []float64{
		p.Position[0], p.Position[1], p.Position[2],
		p.Rotation[0], p.Rotation[1], p.Rotation[2],
	}
}

// Angle is the magnitude of the rotation vector.
func (p Pose) Angle() float64 {
	return norm(p.Rotation)
}

func (p Pose) String() string {
	return fmt.Sprintf("p[%g, %g, %g, %g, %g, %g]",
		p.Position[0], p.Position[1], p.Position[2],
		p.Rotation[0], p.Rotation[1], p.Rotation[2])
}

// ApproxEqual compares two poses as transforms, so equivalent rotation
// vectors (e.g. angle pi about +z and -z) compare equal.
func (p Pose) ApproxEqual(o Pose, tol float64) bool {
	a := Default.ToMatrix(p)
	b := Default.ToMatrix(o)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(a[r][c]-b[r][c]) > tol {
				return false
			}
		}
	}
	return true
}

func norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
