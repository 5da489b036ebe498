package clock

import (
	"sync"
	"time"
)

// Fake is an instrumented clock. After advances the clock by the requested
// duration and fires immediately, recording every wait so callers can assert
// on schedules without sleeping.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	blocked bool
}

// NewFake returns a Fake starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.waits = append(f.waits, d)
	if f.blocked {
		// Never fires: waiters can only leave through cancellation.
		return make(chan time.Time)
	}
	if d > 0 {
		f.now = f.now.Add(d)
	}
	ch := make(chan time.Time, 1)
	ch <- f.now
	return ch
}

// Block makes subsequent After calls return channels that never fire.
func (f *Fake) Block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = true
}

// Waits returns a copy of every duration passed to After, in call order.
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.waits))
	copy(out, f.waits)
	return out
}

// Elapsed returns how far the clock has advanced past start.
func (f *Fake) Elapsed(start time.Time) time.Duration {
	return f.Now().Sub(start)
}
