package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/api/websocket"
	"github.com/KevinKickass/OpenArmCore/internal/auth"
	"github.com/KevinKickass/OpenArmCore/internal/config"
	"github.com/KevinKickass/OpenArmCore/internal/interfaces"
	"github.com/KevinKickass/OpenArmCore/internal/robot"
	"github.com/KevinKickass/OpenArmCore/internal/tools"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	robot       *robot.Robot
	tools       *tools.ProfileLoader
	moves       *moveValidator
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(
	cfg *config.Config,
	lm interfaces.LifecycleManager,
	arm *robot.Robot,
	profiles *tools.ProfileLoader,
	logger *zap.Logger,
	wsHub *websocket.Hub,
	authService *auth.AuthService,
) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	moves, err := newMoveValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		robot:       arm,
		tools:       profiles,
		moves:       moves,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	// Blocking moves hold the response until the motion is terminal
	writeTimeout := 15 * time.Second
	if limit := cfg.Motion.GracePeriod + cfg.Motion.MaxDuration + 5*time.Second; limit > writeTimeout {
		writeTimeout = limit
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("Starting REST API server", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ENDPOINTS (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
			authPublic.POST("/refresh", s.refreshToken)
		}

		// ==================== AUTH ENDPOINTS (AUTHENTICATED) ====================
		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.POST("/logout", s.logout)
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== MACHINE TOKENS (ADMIN ONLY) ====================
		machineTokens := v1.Group("/machine-tokens")
		machineTokens.Use(s.authService.AuthMiddleware())
		machineTokens.Use(auth.RequirePermission(auth.PermAdmin))
		{
			machineTokens.POST("", s.createMachineToken)
			machineTokens.GET("", s.listMachineTokens)
			machineTokens.PATCH("/:id", s.updateMachineToken)
			machineTokens.DELETE("/:id", s.deleteMachineToken)
		}

		// ==================== USER MANAGEMENT (ADMIN ONLY) ====================
		users := v1.Group("/users")
		users.Use(s.authService.AuthMiddleware())
		users.Use(auth.RequirePermission(auth.PermAdmin))
		{
			users.POST("", s.createUser)
			users.GET("", s.listUsers)
			users.PATCH("/:id", s.updateUser)
			users.DELETE("/:id", s.deleteUser)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== ROBOT ====================
		arm := v1.Group("/robot")
		arm.Use(s.authService.AuthMiddleware())
		{
			// Read operations: Operator+
			arm.GET("/status", auth.RequirePermission(auth.PermOperator), s.getRobotStatus)
			arm.GET("/state", auth.RequirePermission(auth.PermOperator), s.getRobotState)
			arm.GET("/pose", auth.RequirePermission(auth.PermOperator), s.getPose)
			arm.GET("/joints", auth.RequirePermission(auth.PermOperator), s.getJoints)
			arm.GET("/forces", auth.RequirePermission(auth.PermOperator), s.getForces)
			arm.GET("/io", auth.RequirePermission(auth.PermOperator), s.getIO)
			arm.GET("/tool", auth.RequirePermission(auth.PermOperator), s.getTool)
			arm.GET("/csys", auth.RequirePermission(auth.PermOperator), s.getCsys)

			// Stopping is always allowed to operators
			arm.POST("/stop", auth.RequirePermission(auth.PermOperator), s.stopMotion)

			// Motion and outputs: Technician+
			arm.POST("/move", auth.RequirePermission(auth.PermTechnician), s.move)
			arm.POST("/io/digital/:n", auth.RequirePermission(auth.PermTechnician), s.setDigitalOut)
			arm.POST("/io/analog/:n", auth.RequirePermission(auth.PermTechnician), s.setAnalogOut)
			arm.POST("/io/tool-voltage", auth.RequirePermission(auth.PermTechnician), s.setToolVoltage)
			arm.POST("/message", auth.RequirePermission(auth.PermTechnician), s.sendMessage)
			arm.PUT("/tool", auth.RequirePermission(auth.PermTechnician), s.setTool)
			arm.POST("/tool/:name", auth.RequirePermission(auth.PermTechnician), s.applyToolProfile)
			arm.PUT("/csys", auth.RequirePermission(auth.PermTechnician), s.setCsys)
			arm.PUT("/gravity", auth.RequirePermission(auth.PermTechnician), s.setGravity)
		}

		// ==================== EXECUTIONS (OPERATOR+) ====================
		executions := v1.Group("/executions")
		executions.Use(s.authService.AuthMiddleware())
		executions.Use(auth.RequirePermission(auth.PermOperator))
		{
			executions.GET("", s.listExecutions)
			executions.GET("/last", s.getLastExecution)
			executions.GET("/:id", s.getExecution)
		}

		// ==================== TOOL PROFILES (OPERATOR+) ====================
		profiles := v1.Group("/tools")
		profiles.Use(s.authService.AuthMiddleware())
		profiles.Use(auth.RequirePermission(auth.PermOperator))
		{
			profiles.GET("", s.listToolProfiles)
			profiles.GET("/:name", s.getToolProfile)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"robot":     s.robot.Healthy(),
		"timestamp": time.Now().Unix(),
	})
}
