package websocket

import (
	"sync"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/motion"
	"github.com/KevinKickass/OpenArmCore/internal/state"
	"go.uber.org/zap"
)

// StateFeed is satisfied by *state.Store.
type StateFeed interface {
	Subscribe() <-chan state.RobotState
	Unsubscribe(ch <-chan state.RobotState)
}

// MotionFeed is satisfied by *motion.Controller.
type MotionFeed interface {
	Subscribe() <-chan motion.Execution
	Unsubscribe(ch <-chan motion.Execution)
}

// Publisher forwards robot state and motion events to the hub. State is
// throttled to one message per interval; connection changes, controller
// messages and motion events go out immediately.
type Publisher struct {
	hub      *Hub
	states   StateFeed
	motions  MotionFeed
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewPublisher(hub *Hub, states StateFeed, motions MotionFeed, interval time.Duration, logger *zap.Logger) *Publisher {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Publisher{
		hub:      hub,
		states:   states,
		motions:  motions,
		interval: interval,
		logger:   logger,
	}
}

func (p *Publisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})

	stateCh := p.states.Subscribe()
	motionCh := p.motions.Subscribe()

	p.wg.Add(1)
	go p.run(stateCh, motionCh)

	p.logger.Info("State publisher started", zap.Duration("interval", p.interval))
}

func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("State publisher stopped")
}

func (p *Publisher) run(stateCh <-chan state.RobotState, motionCh <-chan motion.Execution) {
	defer p.wg.Done()
	defer p.states.Unsubscribe(stateCh)
	defer p.motions.Unsubscribe(motionCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		latest     state.RobotState
		pending    bool
		seen       bool
		lastStale  bool
		lastRobMsg state.RobotMessage
	)

	for {
		select {
		case <-p.stopChan:
			return

		case snap, ok := <-stateCh:
			if !ok {
				return
			}
			if !seen || snap.Stale != lastStale {
				p.hub.Broadcast(NewRobotConnectionMessage(snap))
				lastStale = snap.Stale
			}
			seen = true
			if snap.LastMessage != nil && *snap.LastMessage != lastRobMsg {
				lastRobMsg = *snap.LastMessage
				p.hub.Broadcast(NewRobotMessage(lastRobMsg))
			}
			latest = snap
			pending = true

		case exec, ok := <-motionCh:
			if !ok {
				return
			}
			p.hub.Broadcast(NewMotionEventMessage(exec))

		case <-ticker.C:
			if pending {
				p.hub.Broadcast(NewRobotStateMessage(latest))
				pending = false
			}
		}
	}
}
