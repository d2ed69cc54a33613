package engine

import (
	"context"
	"sync"
	"time"

	"github.com/zjrosen/parley/internal/log"
)

// DefaultPollInterval is the fallback polling cadence when push events
// are delayed or dropped.
const DefaultPollInterval = 5 * time.Second

// Poller drives the fallback polling loop: while armed it invokes the
// tick function at a fixed interval. Push-driven updates that observe a
// terminal run disarm the poller so no further tick fires, even one
// already due.
type Poller struct {
	interval time.Duration
	tick     func(ctx context.Context)

	mu      sync.Mutex
	armed   bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewPoller creates a disarmed poller. The tick function is called from
// the poller's own goroutine; it must be safe to call concurrently with
// push-driven updates.
func NewPoller(interval time.Duration, tick func(ctx context.Context)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{interval: interval, tick: tick}
}

// SetInterval updates the polling cadence for the next Arm. Reports
// whether the interval actually changed; a running loop is not
// restarted here, callers rearm if they want the new cadence now.
func (p *Poller) SetInterval(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if d == p.interval {
		return false
	}
	p.interval = d
	return true
}

// Arm starts the polling loop. A no-op when already armed.
func (p *Poller) Arm(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.armed {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	p.armed = true
	p.cancel = cancel
	p.stopped = stopped

	log.Debug(log.CatPoll, "poller armed", "interval", p.interval)

	log.SafeGo("poller", func() {
		defer close(stopped)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				// Re-check after the ticker fires: a disarm that raced
				// the tick must win, otherwise a poll lands after the
				// run was already observed terminal.
				select {
				case <-loopCtx.Done():
					return
				default:
				}
				p.tick(loopCtx)
			}
		}
	})
}

// Disarm stops the polling loop and waits for the loop goroutine to
// exit, guaranteeing no tick fires after Disarm returns. A no-op when
// not armed.
func (p *Poller) Disarm() {
	p.mu.Lock()
	if !p.armed {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	stopped := p.stopped
	p.armed = false
	p.cancel = nil
	p.stopped = nil
	p.mu.Unlock()

	cancel()
	<-stopped
	log.Debug(log.CatPoll, "poller disarmed")
}

// DisarmAsync cancels the loop without waiting for the goroutine to
// exit. Safe to call from inside the tick function itself, where the
// blocking Disarm would deadlock. No further tick fires either way.
func (p *Poller) DisarmAsync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed {
		return
	}
	p.cancel()
	p.armed = false
	p.cancel = nil
	p.stopped = nil
	log.Debug(log.CatPoll, "poller disarmed")
}

// Armed reports whether the polling loop is running.
func (p *Poller) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}
