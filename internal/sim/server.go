// Package sim is a fake arm controller. It serves the secondary and the
// real-time port from a simulated state and reacts to the motion programs it
// receives by toggling program-running for a configurable time.
package sim

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/protocol"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"go.uber.org/zap"
)

type Options struct {
	SecondaryAddr string
	RealtimeAddr  string
	// Realtime disables the real-time listener when false.
	Realtime bool

	Major uint8
	Minor uint8
	// FrameSize overrides the real-time frame size derived from the version.
	FrameSize int

	// Period is the secondary publish interval. The real controller sends at 10Hz.
	Period         time.Duration
	RealtimePeriod time.Duration
	// StartDelay is the time between receiving a program and reporting it running.
	StartDelay time.Duration
	// RunTime is how long a motion program reports running.
	RunTime time.Duration
}

func DefaultOptions() Options {
	return Options{
		SecondaryAddr:  "127.0.0.1:30002",
		RealtimeAddr:   "127.0.0.1:30003",
		Realtime:       true,
		Major:          3,
		Minor:          5,
		Period:         100 * time.Millisecond,
		RealtimePeriod: 8 * time.Millisecond,
		StartDelay:     50 * time.Millisecond,
		RunTime:        time.Second,
	}
}

func (o Options) frameSize() int {
	if o.FrameSize > 0 {
		return o.FrameSize
	}
	switch {
	case o.Major < 3:
		return protocol.FrameSizeLegacy
	case o.Major > 3:
		return protocol.FrameSizeV35
	case o.Minor < 2:
		return protocol.FrameSizeV30
	case o.Minor < 5:
		return protocol.FrameSizeV32
	default:
		return protocol.FrameSizeV35
	}
}

// Robot mode codes reported by 3.x controllers.
const (
	robotModePowerOff uint8 = 3
	robotModeRunning  uint8 = 7
)

type Server struct {
	opts   Options
	logger *zap.Logger

	secLn net.Listener
	rtLn  net.Listener

	mu       sync.Mutex
	joints   [state.JointCount]float64
	tcp      transform.Pose
	mode     state.RobotModeData
	board    state.MasterBoardData
	force    [6]float64
	startAt  time.Time
	runUntil time.Time
	stalled  bool
	programs []string
	secConns map[net.Conn]struct{}
	rtConns  map[net.Conn]struct{}

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		opts:   opts,
		logger: logger,
		mode: state.RobotModeData{
			RobotConnected:   true,
			RealRobotEnabled: true,
			PowerOn:          true,
			RobotMode:        robotModeRunning,
			SpeedFraction:    1,
		},
		board:    state.MasterBoardData{SafetyMode: state.BoardSafetyNormal},
		tcp:      transform.NewPose(0.3, 0, 0.4, 0, 3.14159, 0),
		secConns: make(map[net.Conn]struct{}),
		rtConns:  make(map[net.Conn]struct{}),
	}
}

// Start opens the listeners and begins publishing.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	secLn, err := net.Listen("tcp", s.opts.SecondaryAddr)
	if err != nil {
		return fmt.Errorf("listen secondary: %w", err)
	}
	s.secLn = secLn

	if s.opts.Realtime {
		rtLn, err := net.Listen("tcp", s.opts.RealtimeAddr)
		if err != nil {
			secLn.Close()
			return fmt.Errorf("listen realtime: %w", err)
		}
		s.rtLn = rtLn
	}

	s.running = true
	s.stopChan = make(chan struct{})

	s.wg.Add(1)
	go s.accept(s.secLn, s.serveSecondary)
	if s.rtLn != nil {
		s.wg.Add(1)
		go s.accept(s.rtLn, s.serveRealtime)
	}
	s.wg.Add(1)
	go s.publishLoop()

	s.logger.Info("Fake robot listening",
		zap.String("secondary", s.secLn.Addr().String()),
		zap.Bool("realtime", s.rtLn != nil),
		zap.String("version", fmt.Sprintf("%d.%d", s.opts.Major, s.opts.Minor)))
	return nil
}

// Stop closes listeners and all client connections.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.secLn.Close()
	if s.rtLn != nil {
		s.rtLn.Close()
	}
	s.closeConnsLocked()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Fake robot stopped")
}

func (s *Server) SecondaryAddr() string {
	return s.secLn.Addr().String()
}

func (s *Server) RealtimeAddr() string {
	if s.rtLn == nil {
		return ""
	}
	return s.rtLn.Addr().String()
}

func (s *Server) accept(ln net.Listener, serve func(net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			serve(conn)
		}()
	}
}

func (s *Server) serveSecondary(conn net.Conn) {
	version := protocol.EncodeVersionMessage(0, state.VersionInfo{
		ProjectName: "URControl",
		Major:       s.opts.Major,
		Minor:       s.opts.Minor,
		SVNRevision: 1234,
		BuildDate:   "01-01-2024, 00:00:00",
	})
	if _, err := conn.Write(version); err != nil {
		conn.Close()
		return
	}

	if !s.register(conn, s.secConns) {
		return
	}
	s.logger.Info("Secondary client connected", zap.String("remote", conn.RemoteAddr().String()))
	defer s.unregister(conn, s.secConns)

	scanner := bufio.NewScanner(conn)
	inDef := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.handleLine(line, &inDef)
	}
}

func (s *Server) serveRealtime(conn net.Conn) {
	if !s.register(conn, s.rtConns) {
		return
	}
	s.logger.Info("Realtime client connected", zap.String("remote", conn.RemoteAddr().String()))
	defer s.unregister(conn, s.rtConns)

	// Clients never write here; block until the connection goes away
	buf := make([]byte, 256)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func (s *Server) register(conn net.Conn, set map[net.Conn]struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		conn.Close()
		return false
	}
	set[conn] = struct{}{}
	return true
}

func (s *Server) unregister(conn net.Conn, set map[net.Conn]struct{}) {
	s.mu.Lock()
	delete(set, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) handleLine(line string, inDef *bool) {
	trimmed := strings.TrimSpace(line)
	p := parseLine(trimmed)

	s.mu.Lock()
	defer s.mu.Unlock()

	if *inDef {
		s.programs[len(s.programs)-1] += "\n" + line
		if trimmed == "end" {
			*inDef = false
			return
		}
		s.applyTarget(p)
		return
	}

	s.programs = append(s.programs, line)
	if strings.HasPrefix(trimmed, "def ") {
		*inDef = true
	}

	switch {
	case p.stop:
		s.startAt = time.Time{}
		s.runUntil = time.Time{}
	case p.motion:
		if s.stopped() {
			return
		}
		now := time.Now()
		s.startAt = now.Add(s.opts.StartDelay)
		s.runUntil = s.startAt.Add(s.opts.RunTime)
		s.applyTarget(p)
	case p.setsOutput:
		if p.outValue {
			s.board.DigitalOutputBits |= 1 << uint(p.digitalOut)
		} else {
			s.board.DigitalOutputBits &^= 1 << uint(p.digitalOut)
		}
	}
}

// applyTarget moves the simulated arm straight to the target. The arm
// "arrives" immediately; only program-running models the motion time.
func (s *Server) applyTarget(p parsedProgram) {
	if len(p.joints) == state.JointCount {
		copy(s.joints[:], p.joints)
	}
	if len(p.pose) == 6 {
		if pose, err := transform.PoseFromVector(p.pose); err == nil {
			s.tcp = pose
		}
	}
}

func (s *Server) stopped() bool {
	if s.mode.EmergencyStopped || s.mode.ProtectiveStopped || !s.mode.PowerOn {
		return true
	}
	switch s.board.SafetyMode {
	case 0, state.BoardSafetyNormal, state.BoardSafetyReduced:
		return false
	}
	return true
}

// programRunning must be called with mu held.
func (s *Server) programRunning(now time.Time) bool {
	if s.stalled || s.stopped() || s.startAt.IsZero() {
		return false
	}
	return !now.Before(s.startAt) && now.Before(s.runUntil)
}

func (s *Server) publishLoop() {
	defer s.wg.Done()

	secTicker := time.NewTicker(s.opts.Period)
	defer secTicker.Stop()

	var rtC <-chan time.Time
	if s.rtLn != nil {
		rtTicker := time.NewTicker(s.opts.RealtimePeriod)
		defer rtTicker.Stop()
		rtC = rtTicker.C
	}

	for {
		select {
		case <-s.stopChan:
			return
		case <-secTicker.C:
			s.broadcast(s.secondaryPacket(), s.secConns)
		case <-rtC:
			s.broadcast(s.realtimeFrame(), s.rtConns)
		}
	}
}

func (s *Server) broadcast(packet []byte, set map[net.Conn]struct{}) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := c.Write(packet); err != nil {
			s.logger.Debug("Write failed, dropping client", zap.Error(err))
			c.Close()
		}
	}
}

func (s *Server) secondaryPacket() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ts := uint64(now.UnixMilli())

	mode := s.mode
	mode.ControllerTimestamp = ts
	mode.ProgramRunning = s.programRunning(now)

	var joints state.JointData
	for i, q := range s.joints {
		joints[i] = state.Joint{QActual: q, QTarget: q, Voltage: 48, MotorTemp: 30, MicroTemp: 35, JointMode: 253}
	}

	major := s.opts.Major
	return protocol.EncodeRobotState(
		protocol.EncodeRobotMode(mode, major),
		protocol.EncodeJointData(joints),
		protocol.EncodeToolData(state.ToolData{Voltage48V: 48, Temperature: 30, Mode: 253}),
		protocol.EncodeMasterBoard(s.board, major),
		protocol.EncodeCartesianInfo(state.CartesianInfo{TCP: s.tcp}),
	)
}

func (s *Server) realtimeFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	data := state.RealtimeData{
		ControllerTime: float64(now.UnixMilli()) / 1000,
		QTarget:        s.joints,
		QActual:        s.joints,
		TCPForce:       s.force,
		DigitalInputs:  s.board.DigitalInputBits,
		DigitalOutputs: s.board.DigitalOutputBits,
		RobotMode:      float64(s.mode.RobotMode),
	}
	copy(data.ToolVector[:], s.tcp.Vector())
	if s.programRunning(now) {
		data.ProgramState = 2
	} else {
		data.ProgramState = 1
	}
	return protocol.EncodeRealtimeFrame(s.opts.frameSize(), data)
}
