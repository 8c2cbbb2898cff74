package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "robot:\n  host: 10.0.0.5\n"))
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:30002", cfg.Robot.SecondaryAddress())
	assert.Equal(t, "10.0.0.5:30003", cfg.Robot.RealtimeAddress())
	assert.True(t, cfg.Robot.UseRealtime)
	assert.Equal(t, 2*time.Second, cfg.Motion.GracePeriod)
	assert.Equal(t, 5*time.Minute, cfg.Motion.MaxDuration)
	assert.Equal(t, 100*time.Millisecond, cfg.Motion.PollInterval)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, []string{"./tools", "/etc/openarmcore/tools"}, cfg.Tools.SearchPaths)
}

func TestLoadFileValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
robot:
  host: ur5.local
  realtime_port: 30013
  use_realtime: false
motion:
  grace_period: 3s
  poll_interval: 50ms
auth:
  users:
    - username: alice
      password_hash: "$argon2id$v=19$m=65536,t=1,p=1$c2FsdA$aGFzaA"
      role: technician
  machine_tokens:
    - name: plc
      hash: abc123
      permissions: [operator]
tools:
  default: gripper
`))
	require.NoError(t, err)

	assert.Equal(t, "ur5.local:30013", cfg.Robot.RealtimeAddress())
	assert.False(t, cfg.Robot.UseRealtime)
	assert.Equal(t, 3*time.Second, cfg.Motion.GracePeriod)
	assert.Equal(t, 50*time.Millisecond, cfg.Motion.PollInterval)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "technician", cfg.Auth.Users[0].Role)
	require.Len(t, cfg.Auth.MachineTokens, 1)
	assert.Equal(t, []string{"operator"}, cfg.Auth.MachineTokens[0].Permissions)
	assert.Equal(t, "gripper", cfg.Tools.Default)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("OAC_ROBOT_HOST", "192.168.1.20")
	t.Setenv("OAC_MOTION_MAX_DURATION", "30s")

	cfg, err := Load(writeConfig(t, "robot:\n  host: 10.0.0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", cfg.Robot.Host)
	assert.Equal(t, 30*time.Second, cfg.Motion.MaxDuration)
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	_, err := Load(writeConfig(t, "motion:\n  grace_period: 10ms\n  poll_interval: 100ms\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "robot:\n  host: \"\"\n"))
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestJWTSecret(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "OAC_TEST_SECRET"}
	assert.Equal(t, devJWTSecret, a.GetJWTSecret())
	assert.False(t, a.IsProductionReady())

	t.Setenv("OAC_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	assert.True(t, a.IsProductionReady())
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "ur5", cfg.Robot.Name)
	assert.Equal(t, 100*time.Millisecond, cfg.Server.StateBroadcastInterval)
	assert.Equal(t, 1.5, cfg.Motion.StopDecel)
	assert.True(t, cfg.Auth.Enabled)
	assert.Empty(t, cfg.Auth.Users)
}
