package transform

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Math is the rigid-transform capability the rest of the module consumes.
type Math interface {
	// Compose returns a∘b: b expressed in the frame of a.
	Compose(a, b Pose) Pose
	Invert(p Pose) Pose
	ToMatrix(p Pose) Matrix
	FromMatrix(m Matrix) Pose
	// Rotate applies only the rotational part of p to v.
	Rotate(p Pose, v [3]float64) [3]float64
}

// zeroAngle is the rotation magnitude under which a rotation vector is treated as identity.
const zeroAngle = 1e-12

// MGL implements Math on top of mathgl quaternions.
type MGL struct{}

var _ Math = MGL{}

func (MGL) Compose(a, b Pose) Pose {
	qa := toQuat(a.Rotation)
	qb := toQuat(b.Rotation)

	t := vec(a.Position).Add(qa.Rotate(vec(b.Position)))
	return Pose{
		Position: [3]float64(t),
		Rotation: fromQuat(qa.Mul(qb)),
	}
}

func (MGL) Invert(p Pose) Pose {
	qi := toQuat(p.Rotation).Inverse()
	t := qi.Rotate(vec(p.Position)).Mul(-1)
	return Pose{
		Position: [3]float64(t),
		Rotation: fromQuat(qi),
	}
}

func (MGL) ToMatrix(p Pose) Matrix {
	m := toQuat(p.Rotation).Mat4()
	m = mgl64.Translate3D(p.Position[0], p.Position[1], p.Position[2]).Mul4(m)

	var out Matrix
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r][c] = m.At(r, c)
		}
	}
	return out
}

func (MGL) FromMatrix(in Matrix) Pose {
	var m mgl64.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, in[r][c])
		}
	}
	return Pose{
		Position: [3]float64{in[0][3], in[1][3], in[2][3]},
		Rotation: fromQuat(mgl64.Mat4ToQuat(m)),
	}
}

func (MGL) Rotate(p Pose, v [3]float64) [3]float64 {
	return [3]float64(toQuat(p.Rotation).Rotate(vec(v)))
}

func vec(v [3]float64) mgl64.Vec3 {
	return mgl64.Vec3(v)
}

// toQuat converts a rotation vector; the zero vector maps to the identity.
func toQuat(rv [3]float64) mgl64.Quat {
	angle := norm(rv)
	if angle < zeroAngle {
		return mgl64.QuatIdent()
	}
	axis := vec(rv).Mul(1 / angle)
	return mgl64.QuatRotate(angle, axis)
}

// fromQuat converts back to a rotation vector with angle in [0, pi].
func fromQuat(q mgl64.Quat) [3]float64 {
	q = q.Normalize()
	if q.W < 0 {
		q.W = -q.W
		q.V = q.V.Mul(-1)
	}
	s := q.V.Len()
	if s < zeroAngle {
		return [3]float64{}
	}
	angle := 2 * math.Atan2(s, q.W)
	return [3]float64(q.V.Mul(angle / s))
}
