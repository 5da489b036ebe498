// Package ratelimit paces outbound identity-service requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"six2five/internal/platform/clock"
)

// DefaultRate is the published ceiling of the identity service: 600 requests
// per 10 minutes, kept slightly under 1/s.
const DefaultRate = 0.9

// Limiter is a token bucket with a burst of one, so consecutive requests are
// spaced at least 1/rate apart. It never rejects; Acquire only delays.
// Safe for concurrent use.
type Limiter struct {
	bucket *rate.Limiter
	clock  clock.Clock
}

type Option func(*Limiter)

// WithClock replaces the wall clock, letting tests observe waits.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// New creates a Limiter refilling at perSecond tokens per second.
// A non-positive rate disables pacing.
func New(perSecond float64, opts ...Option) *Limiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	l := &Limiter{
		bucket: rate.NewLimiter(limit, 1),
		clock:  clock.System{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until one more request may be issued or ctx is done.
// A cancelled wait returns its token to the bucket.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := l.clock.Now()
	r := l.bucket.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate limiter cannot satisfy reservation")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		r.CancelAt(l.clock.Now())
		return ctx.Err()
	case <-l.clock.After(delay):
		return nil
	}
}

// Interval returns the minimum spacing between requests; zero when unlimited.
func (l *Limiter) Interval() time.Duration {
	limit := l.bucket.Limit()
	if limit == rate.Inf || limit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(limit))
}
