// Package clock abstracts time so that waits in the rate limiter and the
// retry schedule can be driven by an instrumented clock in tests.
package clock

import "time"

// Clock reports the current time and delivers wake-ups.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Timer adapts a Clock to the start/stop timer shape used by retry loops.
type Timer struct {
	clock Clock
	c     <-chan time.Time
}

// NewTimer returns a Timer backed by c.
func NewTimer(c Clock) *Timer {
	return &Timer{clock: c}
}

func (t *Timer) Start(d time.Duration) { t.c = t.clock.After(d) }

func (t *Timer) Stop() {}

func (t *Timer) C() <-chan time.Time { return t.c }
