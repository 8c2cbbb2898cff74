package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1e-9

var samplePoses = []Pose{
	Identity,
	NewPose(0.1, 0, 0, 0, 0, 0),
	NewPose(0.3, -0.2, 0.5, 0, 0, math.Pi/2),
	NewPose(-0.4, 0.12, 0.3, 2.2, -2.2, 0),
	NewPose(0.01, 0.02, 0.03, 0.1, 0.2, 0.3),
	NewPose(1, 2, 3, math.Pi, 0, 0),
	NewPose(0, 0, 0, 1e-14, 0, 0),
}

func TestComposeInverseIsIdentity(t *testing.T) {
	for _, p := range samplePoses {
		got := Compose(Invert(p), p)
		assert.True(t, got.ApproxEqual(Identity, tol), "pose %v gave %v", p, got)

		got = Compose(p, Invert(p))
		assert.True(t, got.ApproxEqual(Identity, tol), "pose %v gave %v", p, got)
	}
}

func TestApplyRelativeRoundTrip(t *testing.T) {
	deltas := []Pose{
		NewPose(0.1, 0, 0, 0, 0, 0),
		NewPose(0, 0.05, -0.02, 0, 0.3, 0),
		NewPose(0.2, 0.1, 0, 0.5, 0.5, 0.5),
	}
	for _, base := range samplePoses {
		for _, d := range deltas {
			moved := ApplyRelative(base, d)
			back := ApplyRelative(moved, Invert(d))
			assert.True(t, back.ApproxEqual(base, tol), "base %v delta %v came back as %v", base, d, back)
		}
	}
}

func TestApplyRelativeFromZero(t *testing.T) {
	got := ApplyRelative(Identity, NewPose(0.1, 0, 0, 0, 0, 0))
	assert.InDeltaSlice(t, []float64{0.1, 0, 0, 0, 0, 0}, got.Vector(), tol)
}

func TestZeroRotationIsIdentity(t *testing.T) {
	m := Default.ToMatrix(NewPose(1, 2, 3, 0, 0, 0))
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			want := 0.0
			if r == c {
				want = 1
			}
			assert.InDelta(t, want, m[r][c], tol)
		}
	}
	assert.InDelta(t, 1.0, m[0][3], tol)
	assert.InDelta(t, 2.0, m[1][3], tol)
	assert.InDelta(t, 3.0, m[2][3], tol)

	back := Default.FromMatrix(m)
	assert.Equal(t, [3]float64{}, back.Rotation)
}

func TestMatrixRoundTrip(t *testing.T) {
	for _, p := range samplePoses {
		back := Default.FromMatrix(Default.ToMatrix(p))
		assert.True(t, back.ApproxEqual(p, tol), "pose %v came back as %v", p, back)
	}
}

func TestRotateAboutZ(t *testing.T) {
	p := NewPose(0, 0, 0, 0, 0, math.Pi/2)
	v := Default.Rotate(p, [3]float64{1, 0, 0})
	assert.InDeltaSlice(t, []float64{0, 1, 0}, v[:], tol)
}

func TestToolPoseRoundTrip(t *testing.T) {
	tcp := NewPose(0, 0, 0.15, 0, 0, 0)
	flange := NewPose(0.4, 0.1, 0.3, 0, math.Pi, 0)

	tool := ToToolPose(flange, tcp)
	// flange points down, so the tool tip sits below it
	assert.InDelta(t, 0.15, tool.Position[2], tol)

	back := FromToolPose(tool, tcp)
	assert.True(t, back.ApproxEqual(flange, tol))
}

func TestTranslatedKeepsOrientation(t *testing.T) {
	p := NewPose(0.1, 0.2, 0.3, 0, 3.14, 0)
	got := Translated(p, [3]float64{0, 0, -0.05})
	assert.Equal(t, p.Rotation, got.Rotation)
	assert.InDelta(t, 0.25, got.Position[2], tol)
}

func TestTranslatedTool(t *testing.T) {
	p := NewPose(0, 0, 0.5, math.Pi, 0, 0)
	got := TranslatedTool(p, [3]float64{0, 0, 0.1})
	// tool z is flipped relative to base z
	assert.InDelta(t, 0.4, got.Position[2], tol)
}

func TestPoseFromVector(t *testing.T) {
	_, err := PoseFromVector([]float64{1, 2, 3})
	require.Error(t, err)

	_, err = PoseFromVector([]float64{1, 2, 3, math.NaN(), 0, 0})
	require.Error(t, err)

	p, err := PoseFromVector([]float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, p.Vector())
}

func TestDistanceAndBlend(t *testing.T) {
	a := NewPose(0, 0, 0, 0, 0, 0)
	b := NewPose(0.3, 0.4, 0, 0, 0, 0)
	assert.InDelta(t, 0.5, Distance(a, b), tol)

	mid := Blend(a, b, 0.5)
	assert.InDelta(t, 0.25, Distance(a, mid), tol)
}
