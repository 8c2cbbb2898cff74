package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Robot  RobotConfig  `mapstructure:"robot"`
	Motion MotionConfig `mapstructure:"motion"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Tools  ToolsConfig  `mapstructure:"tools"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// StateBroadcastInterval throttles websocket state pushes.
	StateBroadcastInterval time.Duration `mapstructure:"state_broadcast_interval"`
}

// RobotConfig describes the controller connection.
type RobotConfig struct {
	Name              string        `mapstructure:"name"`
	Host              string        `mapstructure:"host"`
	SecondaryPort     int           `mapstructure:"secondary_port"`
	RealtimePort      int           `mapstructure:"realtime_port"`
	UseRealtime       bool          `mapstructure:"use_realtime"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	// ReadyTimeout bounds the wait for the first state packet on connect.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

func (r RobotConfig) SecondaryAddress() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.SecondaryPort))
}

func (r RobotConfig) RealtimeAddress() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.RealtimePort))
}

// MotionConfig holds completion-detection policy and motion defaults.
type MotionConfig struct {
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	MaxDuration  time.Duration `mapstructure:"max_duration"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`

	JointAccel  float64 `mapstructure:"joint_accel"`
	JointVel    float64 `mapstructure:"joint_vel"`
	LinearAccel float64 `mapstructure:"linear_accel"`
	LinearVel   float64 `mapstructure:"linear_vel"`
	StopDecel   float64 `mapstructure:"stop_decel"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled                bool                 `mapstructure:"enabled"`
	JWTSecretEnv           string               `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration        `mapstructure:"access_token_ttl"`
	RefreshTokenTTL        time.Duration        `mapstructure:"refresh_token_ttl"`
	MaxFailedLoginAttempts int                  `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration        `mapstructure:"account_lock_duration"`
	Users                  []UserConfig         `mapstructure:"users"`
	MachineTokens          []MachineTokenConfig `mapstructure:"machine_tokens"`
}

// UserConfig is an operator account. PasswordHash is an argon2id hash.
type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// MachineTokenConfig registers a pre-issued token by its sha256 hex hash.
type MachineTokenConfig struct {
	Name        string   `mapstructure:"name"`
	Hash        string   `mapstructure:"hash"`
	Permissions []string `mapstructure:"permissions"`
}

type ToolsConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
	// Default is applied after the first connect when set.
	Default string `mapstructure:"default"`
}

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	// Environment Variables mit Prefix OAC_, z.B. OAC_ROBOT_HOST
	v.SetEnvPrefix("OAC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.state_broadcast_interval", "100ms")

	v.SetDefault("robot.name", "ur")
	v.SetDefault("robot.host", "127.0.0.1")
	v.SetDefault("robot.secondary_port", 30002)
	v.SetDefault("robot.realtime_port", 30003)
	v.SetDefault("robot.use_realtime", true)
	v.SetDefault("robot.connect_timeout", "2s")
	v.SetDefault("robot.read_timeout", "2s")
	v.SetDefault("robot.reconnect_interval", "1s")
	v.SetDefault("robot.ready_timeout", "5s")

	v.SetDefault("motion.grace_period", "2s")
	v.SetDefault("motion.max_duration", "5m")
	v.SetDefault("motion.poll_interval", "100ms")
	v.SetDefault("motion.stale_after", "2s")
	v.SetDefault("motion.joint_accel", 0.1)
	v.SetDefault("motion.joint_vel", 0.05)
	v.SetDefault("motion.linear_accel", 0.01)
	v.SetDefault("motion.linear_vel", 0.01)
	v.SetDefault("motion.stop_decel", 1.5)

	// Auth Defaults
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")

	v.SetDefault("tools.search_paths", []string{"./tools", "/etc/openarmcore/tools"})
}

// Validate rejects settings that would make completion detection meaningless.
func (c *Config) Validate() error {
	if c.Robot.Host == "" {
		return fmt.Errorf("robot.host must be set")
	}
	m := c.Motion
	if m.PollInterval <= 0 {
		return fmt.Errorf("motion.poll_interval must be positive")
	}
	if m.GracePeriod < m.PollInterval {
		return fmt.Errorf("motion.grace_period (%s) must not be shorter than motion.poll_interval (%s)",
			m.GracePeriod, m.PollInterval)
	}
	if m.MaxDuration <= 0 || m.StaleAfter <= 0 {
		return fmt.Errorf("motion.max_duration and motion.stale_after must be positive")
	}
	return nil
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return devJWTSecret
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
