package motion

import (
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/script"
	"github.com/KevinKickass/OpenArmCore/internal/transform"
	"github.com/google/uuid"
)

type State string

const (
	StateSubmitted State = "submitted"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFaulted   State = "faulted"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFaulted, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Policy holds the timing constants of completion detection.
type Policy struct {
	// GracePeriod bounds Submitted before program-running must be observed.
	GracePeriod time.Duration
	// MaxDuration bounds how long a program may keep running.
	MaxDuration time.Duration
	// PollInterval is the store polling period of waits.
	PollInterval time.Duration
	// StaleAfter is the snapshot age that counts as a lost connection.
	StaleAfter time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		GracePeriod:  2 * time.Second,
		MaxDuration:  5 * time.Minute,
		PollInterval: 100 * time.Millisecond,
		StaleAfter:   2 * time.Second,
	}
}

// Execution is the record of one submitted command.
type Execution struct {
	ID          uuid.UUID       `json:"id"`
	Kind        script.Kind     `json:"kind"`
	Program     string          `json:"program"`
	State       State           `json:"state"`
	Blocking    bool            `json:"blocking"`
	Target      *transform.Pose `json:"target,omitempty"`
	Joints      []float64       `json:"joints,omitempty"`
	Err         error           `json:"-"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	RunningAt   *time.Time      `json:"running_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`

	// sequence of the store snapshot at submission; only newer snapshots
	// count as evidence for Running and Completed.
	baseSequence uint64
	// observed is set once program-running was actually seen, independent of
	// the Running state reported for non-blocking calls.
	observed   bool
	observedAt time.Time
}

func (e *Execution) clone() Execution {
	out := *e
	if e.Joints != nil {
		out.Joints = append([]float64(nil), e.Joints...)
	}
	if e.Target != nil {
		t := *e.Target
		out.Target = &t
	}
	return out
}
