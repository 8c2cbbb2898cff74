// Package state keeps the latest known robot state. The monitors are the only
// writers; everybody else reads immutable snapshots.
package state

import (
	"sync"
	"time"
)

// Patch carries the fields decoded from one packet or frame. Nil fields are
// left untouched when merged, so the two streams never overwrite each other.
type Patch struct {
	Mode          *RobotModeData
	Joints        *JointData
	Cartesian     *CartesianInfo
	MasterBoard   *MasterBoardData
	Tool          *ToolData
	Configuration *ConfigurationData
	Version       *VersionInfo
	Message       *RobotMessage
	Realtime      *RealtimeData
}

// Empty reports whether the patch carries nothing to merge.
func (p Patch) Empty() bool {
	return p.Mode == nil && p.Joints == nil && p.Cartesian == nil &&
		p.MasterBoard == nil && p.Tool == nil && p.Configuration == nil &&
		p.Version == nil && p.Message == nil && p.Realtime == nil
}

type Store struct {
	mu      sync.RWMutex
	current RobotState
	now     func() time.Time
	// last is the newest timestamp ever handed out. It survives Reset.
	last time.Time

	subsMu      sync.RWMutex
	subscribers []chan RobotState
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// NewStoreWithClock is used by tests that need a controllable clock.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{now: now}
}

// Snapshot returns a copy of the latest state.
func (s *Store) Snapshot() RobotState {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()

	if snap.LastMessage != nil {
		msg := *snap.LastMessage
		snap.LastMessage = &msg
	}
	return snap
}

// Update merges the non-nil fields of p and advances sequence and timestamp.
func (s *Store) Update(p Patch) RobotState {
	s.mu.Lock()
	ts := s.nextTimestamp()
	cur := &s.current

	secondary := false
	if p.Mode != nil {
		cur.Mode = *p.Mode
		cur.ProgramRunning = p.Mode.ProgramRunning
		cur.HasMode = true
		cur.Stale = false
		cur.StaleReason = ""
		secondary = true
	}
	if p.Joints != nil {
		cur.Joints = *p.Joints
		cur.HasJoints = true
		secondary = true
	}
	if p.Cartesian != nil {
		cur.Cartesian = *p.Cartesian
		cur.HasCartesian = true
		secondary = true
	}
	if p.MasterBoard != nil {
		cur.MasterBoard = *p.MasterBoard
		secondary = true
	}
	if p.Tool != nil {
		cur.Tool = *p.Tool
		secondary = true
	}
	if p.Configuration != nil {
		cur.Configuration = *p.Configuration
		secondary = true
	}
	if p.Version != nil {
		cur.Version = *p.Version
		secondary = true
	}
	if p.Message != nil {
		msg := *p.Message
		cur.LastMessage = &msg
		secondary = true
	}
	if secondary {
		cur.SecondaryAt = ts
	}
	if !cur.Stale && (p.Mode != nil || p.MasterBoard != nil) {
		cur.SafetyMode = cur.classifySafety()
	}
	if p.Realtime != nil {
		cur.Realtime = *p.Realtime
		cur.HasRealtime = true
		cur.RealtimeAt = ts
	}

	cur.Sequence++
	cur.Timestamp = ts
	snap := s.current
	s.mu.Unlock()

	s.publish(snap)
	return snap
}

// MarkStale records that the connection feeding the store is gone. Until a
// fresh robot-mode packet arrives the robot is reported as faulted and idle.
func (s *Store) MarkStale(reason string) RobotState {
	s.mu.Lock()
	s.current.Stale = true
	s.current.StaleReason = reason
	s.current.SafetyMode = SafetyFault
	s.current.ProgramRunning = false
	s.current.Sequence++
	s.current.Timestamp = s.nextTimestamp()
	snap := s.current
	s.mu.Unlock()

	s.publish(snap)
	return snap
}

// Reset clears the store back to its connect-time state. The sequence carries
// over and later timestamps stay after every one already published.
func (s *Store) Reset() {
	s.mu.Lock()
	s.current = RobotState{Sequence: s.current.Sequence}
	s.mu.Unlock()
}

// Healthy reports whether the state was updated within maxAge and is not stale.
func (s *Store) Healthy(maxAge time.Duration) bool {
	snap := s.Snapshot()
	return !snap.Stale && snap.Age(s.now()) <= maxAge
}

// Now exposes the store clock so pollers compare ages against the same time source.
func (s *Store) Now() time.Time {
	return s.now()
}

// Subscribe returns a channel receiving every new snapshot. Slow readers miss updates.
func (s *Store) Subscribe() <-chan RobotState {
	ch := make(chan RobotState, 16)

	s.subsMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subsMu.Unlock()

	return ch
}

func (s *Store) Unsubscribe(ch <-chan RobotState) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

func (s *Store) publish(snap RobotState) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Skip if channel is full
		}
	}
}

// nextTimestamp must be called with mu held.
func (s *Store) nextTimestamp() time.Time {
	ts := s.now()
	if !ts.After(s.last) {
		ts = s.last.Add(time.Nanosecond)
	}
	s.last = ts
	return ts
}
