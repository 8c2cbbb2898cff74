// Package robot owns one controller connection: the state store, both
// monitors and the motion controller.
package robot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenArmCore/internal/config"
	"github.com/KevinKickass/OpenArmCore/internal/monitor"
	"github.com/KevinKickass/OpenArmCore/internal/motion"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/KevinKickass/OpenArmCore/internal/wire"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("robot not connected")

type Options struct {
	Robot  config.RobotConfig
	Motion config.MotionConfig
	Math   transform.Math

	// SecondaryDialer and RealtimeDialer replace the TCP dialers built from Robot.
	SecondaryDialer wire.Dialer
	RealtimeDialer  wire.Dialer
}

type Robot struct {
	cfg      config.RobotConfig
	defaults config.MotionConfig
	logger   *zap.Logger

	store     *state.Store
	secondary *monitor.Secondary
	realtime  *monitor.Realtime
	motion    *motion.Controller

	mu        sync.Mutex
	connected bool
}

func New(opts Options, logger *zap.Logger) *Robot {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Robot
	logger = logger.With(zap.String("robot", cfg.Name))

	secDialer := opts.SecondaryDialer
	if secDialer == nil {
		secDialer = wire.NewTCPDialer(cfg.SecondaryAddress(), cfg.ConnectTimeout, cfg.ReadTimeout)
	}

	store := state.NewStore()
	r := &Robot{
		cfg:       cfg,
		defaults:  opts.Motion,
		logger:    logger,
		store:     store,
		secondary: monitor.NewSecondary("secondary", secDialer, store, cfg.ReconnectInterval, logger),
	}

	if cfg.UseRealtime {
		rtDialer := opts.RealtimeDialer
		if rtDialer == nil {
			rtDialer = wire.NewTCPDialer(cfg.RealtimeAddress(), cfg.ConnectTimeout, cfg.ReadTimeout)
		}
		r.realtime = monitor.NewRealtime("realtime", rtDialer, store, cfg.ReconnectInterval, logger)
		r.secondary.OnVersion(r.realtime.SetMajorVersion)
	}

	r.motion = motion.NewController(logger, store, r.secondary, motion.Options{
		Policy:  PolicyFromConfig(opts.Motion),
		Math:    opts.Math,
		Address: cfg.SecondaryAddress(),
	})
	return r
}

// PolicyFromConfig maps the motion section onto a completion policy.
// Unset values fall back to the defaults.
func PolicyFromConfig(m config.MotionConfig) motion.Policy {
	p := motion.DefaultPolicy()
	if m.GracePeriod > 0 {
		p.GracePeriod = m.GracePeriod
	}
	if m.MaxDuration > 0 {
		p.MaxDuration = m.MaxDuration
	}
	if m.PollInterval > 0 {
		p.PollInterval = m.PollInterval
	}
	if m.StaleAfter > 0 {
		p.StaleAfter = m.StaleAfter
	}
	return p
}

// Connect starts both monitors and waits for the first secondary packet.
// The monitors keep reconnecting on their own afterwards.
func (r *Robot) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		return nil
	}

	r.store.Reset()
	if err := r.secondary.Start(); err != nil {
		return err
	}
	if r.realtime != nil {
		if err := r.realtime.Start(); err != nil {
			r.secondary.Stop()
			return err
		}
	}

	waitCtx := ctx
	if r.cfg.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.cfg.ReadyTimeout)
		defer cancel()
	}
	if err := r.secondary.WaitReady(waitCtx); err != nil {
		r.stopMonitors()
		cause := err
		if last := r.secondary.Stats().LastError; last != "" {
			cause = fmt.Errorf("%w (last error: %s)", err, last)
		}
		return &types.ConnectionError{Address: r.cfg.SecondaryAddress(), Op: "connect", Err: cause}
	}

	r.connected = true
	snap := r.store.Snapshot()
	r.logger.Info("Robot connected",
		zap.String("address", r.cfg.SecondaryAddress()),
		zap.Bool("realtime", r.realtime != nil),
		zap.String("version", fmt.Sprintf("%d.%d", snap.Version.Major, snap.Version.Minor)))
	return nil
}

// Close cancels outstanding waits and stops the monitors.
func (r *Robot) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.motion.Close()
	r.stopMonitors()
	if r.connected {
		r.logger.Info("Robot disconnected")
	}
	r.connected = false
	return nil
}

func (r *Robot) stopMonitors() {
	if r.realtime != nil {
		r.realtime.Stop()
	}
	r.secondary.Stop()
}

func (r *Robot) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected && r.secondary.Connected()
}

func (r *Robot) ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return &types.ConnectionError{Address: r.cfg.SecondaryAddress(), Op: "submit", Err: ErrNotConnected}
	}
	return nil
}

// Healthy reports a live secondary stream within the stale threshold.
func (r *Robot) Healthy() bool {
	return r.IsConnected() && r.store.Healthy(r.motion.Policy().StaleAfter)
}

func (r *Robot) Name() string {
	return r.cfg.Name
}

func (r *Robot) Store() *state.Store {
	return r.store
}

func (r *Robot) Motion() *motion.Controller {
	return r.motion
}

// Status summarises the connection for the service surfaces.
type Status struct {
	Name      string            `json:"name"`
	Address   string            `json:"address"`
	Connected bool              `json:"connected"`
	Healthy   bool              `json:"healthy"`
	Secondary monitor.Stats     `json:"secondary"`
	Realtime  *monitor.Stats    `json:"realtime,omitempty"`
	Tool      motion.ToolConfig `json:"tool"`
	Csys      transform.Pose    `json:"csys"`
	Policy    motion.Policy     `json:"policy"`
}

func (r *Robot) Status() Status {
	s := Status{
		Name:      r.cfg.Name,
		Address:   r.cfg.SecondaryAddress(),
		Connected: r.IsConnected(),
		Healthy:   r.Healthy(),
		Secondary: r.secondary.Stats(),
		Tool:      r.motion.Tool(),
		Csys:      r.motion.Csys(),
		Policy:    r.motion.Policy(),
	}
	if r.realtime != nil {
		rt := r.realtime.Stats()
		s.Realtime = &rt
	}
	return s
}
