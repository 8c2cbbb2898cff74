package motion

import (
	"context"
	"math"
	"testing"

	"github.com/KevinKickass/OpenArmCore/internal/script"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyTool(t *testing.T) {
	c, _, sender := newTestController(t, testPolicy())

	err := c.ApplyTool(context.Background(), ToolConfig{
		Name:            "gripper",
		TCP:             transform.NewPose(0, 0, 0.12, 0, 0, 0),
		Payload:         0.8,
		CenterOfGravity: &[3]float64{0, 0, 0.05},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"set_tcp(p[0,0,0.12,0,0,0])",
		"set_payload(0.8, [0,0,0.05])",
	}, sender.sent())

	tool := c.Tool()
	assert.Equal(t, "gripper", tool.Name)
	assert.Equal(t, 0.8, tool.Payload)
	require.NotNil(t, tool.CenterOfGravity)
}

func TestSetTCPRejectsInvalid(t *testing.T) {
	c, _, sender := newTestController(t, testPolicy())

	err := c.SetTCP(context.Background(), transform.NewPose(math.NaN(), 0, 0, 0, 0, 0))
	assert.ErrorIs(t, err, types.ErrInvalidCommand)
	assert.Empty(t, sender.sent())
}

func TestFlangePose(t *testing.T) {
	c, store, _ := newTestController(t, testPolicy())
	require.NoError(t, c.SetTCP(context.Background(), transform.NewPose(0, 0, 0.1, 0, 0, 0)))

	// tool pointing down: TCP offset along tool z moves the flange up
	store.Update(state.Patch{Cartesian: &state.CartesianInfo{TCP: transform.NewPose(0.4, 0, 0.2, math.Pi, 0, 0)}})
	flange := c.FlangePose(store.Snapshot())
	assert.InDelta(t, 0.4, flange.Position[0], 1e-9)
	assert.InDelta(t, 0.3, flange.Position[2], 1e-9)
}

func TestCsysMapsPoses(t *testing.T) {
	c, store, sender := newTestController(t, testPolicy())
	c.SetCsys(transform.NewPose(1, 0, 0, 0, 0, 0))

	pose := c.Pose(store.Snapshot())
	assert.InDelta(t, -0.7, pose.Position[0], 1e-9)
	assert.InDelta(t, 0.4, pose.Position[2], 1e-9)

	_, err := c.Submit(context.Background(), script.MotionCommand{
		Kind:  script.KindMoveLinear,
		Pose:  transform.NewPose(0.1, 0, 0.2, 0, 0, 0),
		Accel: 0.1,
		Vel:   0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"movel(p[1.1,0,0.2,0,0,0], a=0.1, v=0.1, r=0)"}, sender.sent())
}
