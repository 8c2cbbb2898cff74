package transform

import "math"

// Default is the capability used by the package-level helpers.
var Default Math = MGL{}

// Compose returns a∘b.
func Compose(a, b Pose) Pose {
	return Default.Compose(a, b)
}

// Invert returns p⁻¹ so that Compose(Invert(p), p) is the identity.
func Invert(p Pose) Pose {
	return Default.Invert(p)
}

// ApplyRelative moves base by delta, with delta expressed in the frame of base.
func ApplyRelative(base, delta Pose) Pose {
	return Compose(base, delta)
}

// ToToolPose converts a flange pose into the pose of the tool centre point.
func ToToolPose(flange, tcpOffset Pose) Pose {
	return Compose(flange, tcpOffset)
}

// FromToolPose is the inverse of ToToolPose.
func FromToolPose(tool, tcpOffset Pose) Pose {
	return Compose(tool, Invert(tcpOffset))
}

// Translated shifts p by d in the base frame and keeps its orientation.
func Translated(p Pose, d [3]float64) Pose {
	out := p
	for i := range d {
		out.Position[i] += d[i]
	}
	return out
}

// TranslatedTool shifts p by d expressed in the frame of p itself.
func TranslatedTool(p Pose, d [3]float64) Pose {
	return Compose(p, Pose{Position: d})
}

// Distance is the euclidean distance between the two positions.
// Only meant for comparisons, never for interpolation.
func Distance(a, b Pose) float64 {
	dx := a.Position[0] - b.Position[0]
	dy := a.Position[1] - b.Position[1]
	dz := a.Position[2] - b.Position[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Blend linearly mixes positions and rotation vectors. Used to measure how far
// along a segment a pose lies, not to generate trajectories.
func Blend(a, b Pose, t float64) Pose {
	var out Pose
	for i := 0; i < 3; i++ {
		out.Position[i] = a.Position[i] + (b.Position[i]-a.Position[i])*t
		out.Rotation[i] = a.Rotation[i] + (b.Rotation[i]-a.Rotation[i])*t
	}
	return out
}
