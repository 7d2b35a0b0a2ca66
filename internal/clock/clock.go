// Package clock provides the cancellable one-shot countdown that drives exam
// expiry.
package clock

import (
	"sync"
	"time"
)

// Timer is a running countdown.
type Timer interface {
	// Cancel stops the countdown. It is idempotent, safe after expiry and
	// safe to call from inside the timer's own callbacks. Once Cancel
	// returns no new callback starts; one already running completes.
	Cancel()
}

// Clock starts countdowns.
//
// Start delivers onTick(seconds) before it returns, then onTick once per
// elapsed second down to onTick(0), followed by a single onExpire. Callbacks
// of one timer never overlap. Cancelling at tick k suppresses every later
// tick and the expiry.
type Clock interface {
	Start(seconds int, onTick func(remaining int), onExpire func()) Timer
}

// System counts down in wall-clock time.
type System struct {
	// Interval is the length of one countdown step; zero means one second.
	Interval time.Duration
}

// Start implements Clock.
func (s System) Start(seconds int, onTick func(int), onExpire func()) Timer {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	c := newCountdown(seconds, onTick, onExpire)
	c.begin()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				if !c.step() {
					return
				}
			}
		}
	}()
	return c
}

// countdown keeps its state under mu and serializes callbacks under cbMu.
// Callbacks run without mu held, so they may call Cancel.
type countdown struct {
	cbMu sync.Mutex

	mu        sync.Mutex
	remaining int
	stopped   bool
	done      chan struct{}
	onTick    func(int)
	onExpire  func()
}

func newCountdown(seconds int, onTick func(int), onExpire func()) *countdown {
	if seconds < 0 {
		seconds = 0
	}
	if onTick == nil {
		onTick = func(int) {}
	}
	if onExpire == nil {
		onExpire = func() {}
	}
	return &countdown{
		remaining: seconds,
		done:      make(chan struct{}),
		onTick:    onTick,
		onExpire:  onExpire,
	}
}

func (c *countdown) begin() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.mu.Lock()
	stopped, remaining := c.stopped, c.remaining
	c.mu.Unlock()
	if !stopped {
		c.onTick(remaining)
	}
}

// step advances one second. It reports false once the countdown has expired
// or was cancelled.
func (c *countdown) step() bool {
	c.cbMu.Lock()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.cbMu.Unlock()
		return false
	}
	if c.remaining > 0 {
		c.remaining--
		remaining := c.remaining
		c.mu.Unlock()

		c.onTick(remaining)

		c.mu.Lock()
		if c.stopped || c.remaining > 0 {
			more := !c.stopped
			c.mu.Unlock()
			c.cbMu.Unlock()
			return more
		}
	}
	c.stopped = true
	close(c.done)
	c.mu.Unlock()
	c.cbMu.Unlock()

	c.onExpire()
	return false
}

func (c *countdown) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.stopped
}

// Cancel implements Timer.
func (c *countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.done)
}
