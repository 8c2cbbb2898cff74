package motion

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenArmCore/internal/script"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"go.uber.org/zap"
)

// ToolConfig is the mounted tool as last sent to the controller.
type ToolConfig struct {
	Name            string         `json:"name,omitempty" yaml:"name"`
	TCP             transform.Pose `json:"tcp" yaml:"tcp"`
	Payload         float64        `json:"payload" yaml:"payload"`
	CenterOfGravity *[3]float64    `json:"center_of_gravity,omitempty" yaml:"center_of_gravity,omitempty"`
}

func (c *Controller) Tool() ToolConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tool
}

// SetTCP sends the flange to tool transform.
func (c *Controller) SetTCP(ctx context.Context, offset transform.Pose) error {
	program, err := script.SetTCP(offset)
	if err != nil {
		return err
	}
	if err := c.SendAux(ctx, program); err != nil {
		return err
	}

	c.mu.Lock()
	c.tool.TCP = offset
	c.mu.Unlock()
	return nil
}

// SetPayload sends the payload mass and optional centre of gravity.
func (c *Controller) SetPayload(ctx context.Context, mass float64, cog *[3]float64) error {
	program, err := script.SetPayload(mass, cog)
	if err != nil {
		return err
	}
	if err := c.SendAux(ctx, program); err != nil {
		return err
	}

	c.mu.Lock()
	c.tool.Payload = mass
	if cog != nil {
		v := *cog
		c.tool.CenterOfGravity = &v
	} else {
		c.tool.CenterOfGravity = nil
	}
	c.mu.Unlock()
	return nil
}

// ApplyTool sends TCP and payload of a tool profile.
func (c *Controller) ApplyTool(ctx context.Context, tool ToolConfig) error {
	if err := c.SetTCP(ctx, tool.TCP); err != nil {
		return fmt.Errorf("apply tool %q: %w", tool.Name, err)
	}
	if err := c.SetPayload(ctx, tool.Payload, tool.CenterOfGravity); err != nil {
		return fmt.Errorf("apply tool %q: %w", tool.Name, err)
	}

	c.mu.Lock()
	c.tool.Name = tool.Name
	c.mu.Unlock()

	c.logger.Info("Tool applied",
		zap.String("tool", tool.Name),
		zap.String("tcp", tool.TCP.String()),
		zap.Float64("payload", tool.Payload))
	return nil
}

// SendAux sends a one-line program that is not tracked. Any program replaces
// the running one, so an active motion wait is cancelled.
func (c *Controller) SendAux(ctx context.Context, program string) error {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	if err := c.sender.SendProgram(ctx, program); err != nil {
		return fmt.Errorf("send %q: %w", program, err)
	}
	c.cancelActive(ErrSuperseded)

	c.logger.Debug("Auxiliary program sent", zap.String("program", program))
	return nil
}

// SetCsys sets the reference frame that commanded and reported poses are
// expressed in. The zero pose is the robot base.
func (c *Controller) SetCsys(csys transform.Pose) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csys = csys
}

func (c *Controller) Csys() transform.Pose {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.csys
}

// Pose is the reported TCP pose in the reference frame.
func (c *Controller) Pose(snap state.RobotState) transform.Pose {
	return c.inCsys(c.Csys(), snap.Cartesian.TCP)
}

// FlangePose removes the configured tool offset from the reported TCP pose.
func (c *Controller) FlangePose(snap state.RobotState) transform.Pose {
	tcp := c.Tool().TCP
	return c.inCsys(c.Csys(), c.math.Compose(snap.Cartesian.TCP, c.math.Invert(tcp)))
}
