package clock

import "sync"

// Manual is a Clock driven by Advance instead of wall time. Callbacks run
// synchronously on the goroutine calling Start or Advance.
type Manual struct {
	mu     sync.Mutex
	timers []*countdown
}

// NewManual returns a Manual clock with no timers.
func NewManual() *Manual {
	return &Manual{}
}

// Start implements Clock.
func (m *Manual) Start(seconds int, onTick func(int), onExpire func()) Timer {
	c := newCountdown(seconds, onTick, onExpire)
	m.mu.Lock()
	m.timers = append(m.timers, c)
	m.mu.Unlock()
	c.begin()
	return c
}

// Advance moves every live timer forward by the given number of seconds.
func (m *Manual) Advance(seconds int) {
	for i := 0; i < seconds; i++ {
		m.mu.Lock()
		timers := make([]*countdown, len(m.timers))
		copy(timers, m.timers)
		m.mu.Unlock()

		for _, t := range timers {
			t.step()
		}
	}
}

// Started returns how many timers have been started.
func (m *Manual) Started() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Live returns how many timers are neither expired nor cancelled.
func (m *Manual) Live() int {
	m.mu.Lock()
	timers := make([]*countdown, len(m.timers))
	copy(timers, m.timers)
	m.mu.Unlock()

	n := 0
	for _, t := range timers {
		if t.active() {
			n++
		}
	}
	return n
}
