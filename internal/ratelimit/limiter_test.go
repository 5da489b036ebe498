package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"six2five/internal/platform/clock"
)

type LimiterSuite struct {
	suite.Suite
	clock *clock.Fake
	start time.Time
	ctx   context.Context
}

func TestLimiterSuite(t *testing.T) {
	suite.Run(t, new(LimiterSuite))
}

func (s *LimiterSuite) SetupTest() {
	s.start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = clock.NewFake(s.start)
	s.ctx = context.Background()
}

func (s *LimiterSuite) TestAcquire() {
	s.Run("first request is not delayed", func() {
		l := New(DefaultRate, WithClock(s.clock))
		s.Require().NoError(l.Acquire(s.ctx))
		s.Empty(s.clock.Waits())
	})

	s.Run("spacing never drops below the configured rate", func() {
		fc := clock.NewFake(s.start)
		l := New(DefaultRate, WithClock(fc))

		const requests = 6
		for range requests {
			s.Require().NoError(l.Acquire(s.ctx))
		}

		secs := float64(requests-1) / DefaultRate
		minimum := time.Duration(secs * float64(time.Second))
		s.GreaterOrEqual(fc.Elapsed(s.start), minimum-time.Millisecond)
		for _, w := range fc.Waits() {
			s.GreaterOrEqual(w, l.Interval()-time.Millisecond)
		}
	})

	s.Run("idle time refills the single token", func() {
		fc := clock.NewFake(s.start)
		l := New(DefaultRate, WithClock(fc))
		s.Require().NoError(l.Acquire(s.ctx))

		<-fc.After(5 * time.Second)
		waitsBefore := len(fc.Waits())
		s.Require().NoError(l.Acquire(s.ctx))
		s.Len(fc.Waits(), waitsBefore, "no additional wait after idling")
	})
}

func (s *LimiterSuite) TestAcquireCancellation() {
	s.Run("cancelled context returns immediately", func() {
		l := New(DefaultRate, WithClock(s.clock))
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()

		err := l.Acquire(ctx)
		s.ErrorIs(err, context.Canceled)
	})

	s.Run("cancellation aborts an in-progress wait", func() {
		fc := clock.NewFake(s.start)
		l := New(DefaultRate, WithClock(fc))
		s.Require().NoError(l.Acquire(s.ctx))
		fc.Block()

		ctx, cancel := context.WithCancel(s.ctx)
		done := make(chan error, 1)
		go func() { done <- l.Acquire(ctx) }()
		cancel()

		select {
		case err := <-done:
			s.ErrorIs(err, context.Canceled)
		case <-time.After(2 * time.Second):
			s.Fail("Acquire did not observe cancellation")
		}
	})
}

func (s *LimiterSuite) TestUnlimited() {
	l := New(0, WithClock(s.clock))
	for range 50 {
		s.Require().NoError(l.Acquire(s.ctx))
	}
	s.Empty(s.clock.Waits())
	s.Equal(time.Duration(0), l.Interval())
}

func (s *LimiterSuite) TestConcurrent() {
	const perSecond = 200.0
	const callers = 5
	l := New(perSecond)

	start := time.Now()
	var wg sync.WaitGroup
	for range callers {
		wg.Go(func() {
			s.NoError(l.Acquire(s.ctx))
		})
	}
	wg.Wait()

	minimum := time.Duration(float64(callers-1) / perSecond * float64(time.Second))
	s.GreaterOrEqual(time.Since(start), minimum-2*time.Millisecond)
}
