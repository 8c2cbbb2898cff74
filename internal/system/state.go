package system

import (
	"fmt"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SystemState is the service lifecycle as clients see it. Once started the
// service moves between RUNNING and DEGRADED with the health of the arm link.
type SystemState int

const (
	StateInitializing SystemState = iota
	StateRunning
	// StateDegraded: services are up but the robot connection is not healthy
	StateDegraded
	StateStopping
	StateStopped
	StateError
)

var stateNames = [...]string{
	StateInitializing: "INITIALIZING",
	StateRunning:      "RUNNING",
	StateDegraded:     "DEGRADED",
	StateStopping:     "STOPPING",
	StateStopped:      "STOPPED",
	StateError:        "ERROR",
}

func (s SystemState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// stateForRobot is the serving state that matches the arm link.
func stateForRobot(healthy bool) SystemState {
	if healthy {
		return StateRunning
	}
	return StateDegraded
}

// AcceptsMotion reports whether motion commands can reach the arm.
func (s SystemState) AcceptsMotion() bool {
	return s == StateRunning
}

// servingStatus is what the gRPC health service reports for the robot.
func (s SystemState) servingStatus() healthpb.HealthCheckResponse_ServingStatus {
	if s.AcceptsMotion() {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// successors lists the states each state may move to. STOPPED is final: a stopped
// manager has closed its robot connection and cannot be restarted.
var successors = map[SystemState][]SystemState{
	StateInitializing: {StateRunning, StateDegraded, StateStopping, StateError},
	StateRunning:      {StateDegraded, StateStopping, StateError},
	StateDegraded:     {StateRunning, StateStopping, StateError},
	StateStopping:     {StateStopped, StateError},
	StateStopped:      nil,
	StateError:        {StateStopping, StateStopped},
}

func ValidateTransition(from, to SystemState) error {
	allowed, known := successors[from]
	if !known {
		return fmt.Errorf("invalid current state: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
