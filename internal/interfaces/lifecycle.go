package interfaces

import (
	"context"
)

// SystemStatus represents the current service state
type SystemStatus struct {
	State         string `json:"state"`
	AcceptsMotion bool   `json:"accepts_motion"`
	Robot         string `json:"robot"`
	RobotHealthy  bool   `json:"robot_healthy"`
	ActiveMotion  string `json:"active_motion,omitempty"`
	ToolProfile   string `json:"tool_profile,omitempty"`
	ClientCount   int    `json:"websocket_clients"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// LifecycleManager is the part of the system manager the API layer needs.
// It lives here so rest does not import system.
type LifecycleManager interface {
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
