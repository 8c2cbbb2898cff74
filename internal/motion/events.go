package motion

import (
	"sync"
)

// EventStreamer fans execution updates out to subscribers. Slow subscribers
// miss updates instead of blocking the controller.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers []chan Execution
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{}
}

func (s *EventStreamer) Subscribe() <-chan Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Execution, 100)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *EventStreamer) Unsubscribe(ch <-chan Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

func (s *EventStreamer) Broadcast(exec Execution) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- exec:
		default:
			// Skip if channel is full
		}
	}
}
