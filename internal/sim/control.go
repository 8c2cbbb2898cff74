package sim

import (
	"net"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"go.uber.org/zap"
)

// EmergencyStop latches or releases the emergency stop. A latched stop
// aborts the running program.
func (s *Server) EmergencyStop(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.EmergencyStopped = on
	if on {
		s.abortLocked()
	}
	s.logger.Info("Emergency stop", zap.Bool("active", on))
}

// ProtectiveStop behaves like EmergencyStop for the protective stop flag.
func (s *Server) ProtectiveStop(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.ProtectiveStopped = on
	if on {
		s.abortLocked()
	}
	s.logger.Info("Protective stop", zap.Bool("active", on))
}

// PowerOff cuts or restores arm power. Cutting it aborts the running program.
func (s *Server) PowerOff(off bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.PowerOn = !off
	if off {
		s.mode.RobotMode = robotModePowerOff
		s.abortLocked()
	} else {
		s.mode.RobotMode = robotModeRunning
	}
	s.logger.Info("Arm power", zap.Bool("on", !off))
}

// SetSafetyMode sets the masterboard safety mode code. Codes other than
// normal and reduced abort the running program.
func (s *Server) SetSafetyMode(code uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board.SafetyMode = code
	if s.stopped() {
		s.abortLocked()
	}
}

// ReducedMode sets the masterboard reduced-mode flag.
func (s *Server) ReducedMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board.ReducedMode = on
}

// Stall makes the controller accept programs without ever running them.
func (s *Server) Stall(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalled = on
}

// HoldRunning keeps the current program running until released.
func (s *Server) HoldRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.startAt.IsZero() {
		s.runUntil = s.runUntil.AddDate(100, 0, 0)
	}
}

func (s *Server) abortLocked() {
	s.startAt = time.Time{}
	s.runUntil = time.Time{}
}

// DropConnections closes every client connection. Listeners stay open so
// clients can reconnect.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeConnsLocked()
	s.logger.Info("Dropped all client connections")
}

func (s *Server) closeConnsLocked() {
	for _, set := range []map[net.Conn]struct{}{s.secConns, s.rtConns} {
		for c := range set {
			c.Close()
			delete(set, c)
		}
	}
}

func (s *Server) SetForce(f [6]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.force = f
}

func (s *Server) SetDigitalInputs(bits uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board.DigitalInputBits = bits
}

func (s *Server) SetAnalogInput(n int, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board.AnalogInput[n] = v
}

func (s *Server) SetJoints(q [6]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joints = q
}

func (s *Server) SetTCP(p transform.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tcp = p
}

// Programs returns every program received so far, multi-line programs joined.
func (s *Server) Programs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.programs...)
}

// Clients returns the number of connected secondary and real-time clients.
func (s *Server) Clients() (secondary, realtime int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.secConns), len(s.rtConns)
}
