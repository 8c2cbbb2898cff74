package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/api/rest"
	"github.com/KevinKickass/OpenArmCore/internal/api/websocket"
	"github.com/KevinKickass/OpenArmCore/internal/auth"
	"github.com/KevinKickass/OpenArmCore/internal/config"
	"github.com/KevinKickass/OpenArmCore/internal/interfaces"
	"github.com/KevinKickass/OpenArmCore/internal/robot"
	"github.com/KevinKickass/OpenArmCore/internal/tools"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RobotServiceName is the gRPC health service that follows the robot connection.
// The empty service name reports the process itself.
const RobotServiceName = "openarmcore.Robot"

type LifecycleManager struct {
	config      *config.Config
	robot       *robot.Robot
	authService *auth.AuthService
	profiles    *tools.ProfileLoader
	wsHub       *websocket.Hub
	publisher   *websocket.Publisher
	logger      *zap.Logger

	restServer   *rest.Server
	grpcServer   *grpc.Server
	healthServer *health.Server

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time
	grpcAddr     string

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	authService, err := auth.NewAuthService(cfg.Auth, cfg.Robot.Name, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}
	if cfg.Auth.Enabled && !cfg.Auth.IsProductionReady() {
		logger.Warn("Using development JWT secret",
			zap.String("env", cfg.Auth.JWTSecretEnv))
	}

	profiles, err := tools.NewProfileLoader(cfg.Tools.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool profile loader: %w", err)
	}

	arm := robot.New(robot.Options{
		Robot:  cfg.Robot,
		Motion: cfg.Motion,
	}, logger)

	hub := websocket.NewHub(logger, authService)

	lm := &LifecycleManager{
		config:       cfg,
		robot:        arm,
		authService:  authService,
		profiles:     profiles,
		wsHub:        hub,
		publisher:    websocket.NewPublisher(hub, arm.Store(), arm.Motion(), cfg.Server.StateBroadcastInterval, logger),
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	lm.restServer, err = rest.NewServer(cfg, lm, arm, profiles, logger, hub, authService)
	if err != nil {
		return nil, fmt.Errorf("failed to create REST server: %w", err)
	}

	return lm, nil
}

// Start brings up the API surfaces and connects the robot. An unreachable
// robot is not fatal: the system starts degraded and keeps retrying.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenArmCore",
		zap.String("robot", lm.config.Robot.Name),
		zap.String("address", lm.config.Robot.SecondaryAddress()))

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.restServer.Start(); err != nil {
		lm.grpcServer.Stop()
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	go lm.wsHub.Run()
	lm.publisher.Start()

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()

	connected := true
	if err := lm.connectRobot(ctx); err != nil {
		connected = false
		lm.logger.Warn("Robot not reachable, retrying in background", zap.Error(err))
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	lm.watchCancel = cancel
	lm.watchWG.Add(1)
	go lm.watchRobot(watchCtx, connected)

	lm.updateHealth()

	lm.logger.Info("System started successfully",
		zap.String("state", lm.State().String()),
		zap.String("grpc_address", lm.GRPCAddr()),
		zap.Int("http_port", lm.config.Server.HTTPPort))

	return nil
}

// connectRobot connects and applies the configured default tool.
func (lm *LifecycleManager) connectRobot(ctx context.Context) error {
	if err := lm.robot.Connect(ctx); err != nil {
		return err
	}

	name := lm.config.Tools.Default
	if name == "" {
		return nil
	}
	profile, err := lm.profiles.Load(name)
	if err != nil {
		lm.logger.Error("Default tool profile not loaded", zap.String("tool", name), zap.Error(err))
		return nil
	}
	if err := lm.robot.ApplyTool(ctx, profile.ToolConfig); err != nil {
		lm.logger.Error("Default tool profile not applied", zap.String("tool", name), zap.Error(err))
	}
	return nil
}

// watchRobot retries the initial connect until it succeeds and keeps the
// health status in line with the robot. After the first connect the
// monitors reconnect on their own.
func (lm *LifecycleManager) watchRobot(ctx context.Context, connected bool) {
	defer lm.watchWG.Done()

	interval := lm.config.Robot.ReconnectInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !connected {
				if err := lm.connectRobot(ctx); err != nil {
					lm.logger.Debug("Robot connect retry failed", zap.Error(err))
				} else {
					connected = true
				}
			}
			lm.updateHealth()
		}
	}
}

// updateHealth mirrors robot health into the gRPC health service and the
// system state.
func (lm *LifecycleManager) updateHealth() {
	healthy := lm.robot.Healthy()
	state := stateForRobot(healthy)
	lm.healthServer.SetServingStatus(RobotServiceName, state.servingStatus())

	if lm.transition(state) {
		lm.logger.Info("System state changed",
			zap.String("state", state.String()),
			zap.Bool("robot_healthy", healthy))
		lm.broadcastStatus()
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed, also when triggered through the API.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	if lm.watchCancel != nil {
		lm.watchCancel()
		lm.watchWG.Wait()
	}
	if lm.healthServer != nil {
		lm.healthServer.Shutdown()
	}

	// Closing the robot first releases HTTP handlers blocked on a move
	if err := lm.robot.Close(); err != nil {
		lm.logger.Warn("Robot close failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// REST API Server graceful shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
		}
	}()

	// gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		close(errChan)
		for e := range errChan {
			err = errors.Join(err, e)
		}
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	lm.publisher.Stop()
	lm.wsHub.Stop()

	if err == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return err
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	lm.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.healthServer)
	lm.healthServer.SetServingStatus(RobotServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	lm.stateMu.Lock()
	lm.grpcAddr = lis.Addr().String()
	lm.stateMu.Unlock()

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// GRPCAddr is the bound gRPC listen address, empty before Start.
func (lm *LifecycleManager) GRPCAddr() string {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.grpcAddr
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// transition moves to state unless it is current or not reachable from the
// current state. It reports whether the state changed.
func (lm *LifecycleManager) transition(state SystemState) bool {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if lm.currentState == state {
		return false
	}
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Debug("State transition skipped", zap.Error(err))
		return false
	}
	lm.currentState = state
	return true
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if lm.currentState != state {
		if err := ValidateTransition(lm.currentState, state); err != nil {
			lm.logger.Warn("Unexpected state change", zap.Error(err))
		}
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError)
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	startedAt := lm.startedAt
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:         state.String(),
		AcceptsMotion: state.AcceptsMotion(),
		Robot:         lm.robot.Name(),
		RobotHealthy:  lm.robot.Healthy(),
		ToolProfile:   lm.robot.Tool().Name,
		ClientCount:   lm.wsHub.GetClientCount(),
	}
	if !startedAt.IsZero() {
		status.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	if exec, ok := lm.robot.LastExecution(); ok && !exec.State.Terminal() {
		status.ActiveMotion = exec.ID.String()
	}
	return status
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}
