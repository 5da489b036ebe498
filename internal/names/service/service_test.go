package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"six2five/internal/names/cache"
	"six2five/internal/names/metrics"
	"six2five/internal/names/providers"
	"six2five/internal/platform/clock"
	"six2five/internal/ratelimit"
	"six2five/pkg/domain"
	"six2five/pkg/platform/sentinel"
)

// stubProvider counts calls per id and answers through respond.
type stubProvider struct {
	mu      sync.Mutex
	calls   map[domain.ProfileID]int
	respond func(ctx context.Context, id domain.ProfileID, call int) (*providers.Profile, error)
	entered chan struct{}
	gate    chan struct{}
}

func newStubProvider(respond func(ctx context.Context, id domain.ProfileID, call int) (*providers.Profile, error)) *stubProvider {
	return &stubProvider{calls: make(map[domain.ProfileID]int), respond: respond}
}

func (p *stubProvider) ID() string { return "stub" }

func (p *stubProvider) Lookup(ctx context.Context, id domain.ProfileID) (*providers.Profile, error) {
	p.mu.Lock()
	p.calls[id]++
	call := p.calls[id]
	p.mu.Unlock()

	if p.entered != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
	}
	if p.gate != nil {
		<-p.gate
	}
	return p.respond(ctx, id, call)
}

func (p *stubProvider) Calls(id domain.ProfileID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func named(name string) func(context.Context, domain.ProfileID, int) (*providers.Profile, error) {
	return func(_ context.Context, id domain.ProfileID, _ int) (*providers.Profile, error) {
		return &providers.Profile{ID: id, Name: name}, nil
	}
}

func outage() error {
	return providers.NewProviderError(providers.ErrorProviderOutage, "stub", "got 500 as a response code", nil)
}

type ResolverServiceSuite struct {
	suite.Suite
	clock   *clock.Fake
	metrics *metrics.Metrics
	cache   *cache.NameCacheStore
	logger  *slog.Logger
	ctx     context.Context
}

func TestResolverServiceSuite(t *testing.T) {
	suite.Run(t, new(ResolverServiceSuite))
}

func (s *ResolverServiceSuite) SetupTest() {
	s.clock = clock.NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	s.metrics = metrics.New(nil)
	s.cache = cache.New()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ctx = context.Background()
}

func (s *ResolverServiceSuite) newService(p Provider, opts ...Option) *Service {
	base := []Option{
		WithClock(s.clock),
		WithMetrics(s.metrics),
		WithCache(s.cache),
		WithLogger(s.logger),
	}
	svc, err := New(p, ratelimit.New(0), append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func newID() domain.ProfileID {
	return domain.ProfileID(uuid.New())
}

func (s *ResolverServiceSuite) TestNew() {
	s.Run("nil provider returns error", func() {
		_, err := New(nil, ratelimit.New(0))
		s.Error(err)
		s.Contains(err.Error(), "name provider is required")
	})

	s.Run("nil limiter returns error", func() {
		_, err := New(newStubProvider(named("x")), nil)
		s.Error(err)
		s.Contains(err.Error(), "rate limiter is required")
	})

	s.Run("defaults apply without options", func() {
		svc, err := New(newStubProvider(named("x")), ratelimit.New(0))
		s.Require().NoError(err)
		s.Equal(DefaultMaxAttempts, svc.maxAttempts)
		s.Equal(DefaultInitialDelay, svc.initialDelay)
		s.Equal(DefaultMultiplier, svc.multiplier)
	})
}

func (s *ResolverServiceSuite) TestIdempotence() {
	s.Run("resolved name is served from cache", func() {
		p := newStubProvider(named("Alice"))
		svc := s.newService(p)
		id := newID()

		for range 3 {
			name, ok := svc.Resolve(s.ctx, id)
			s.True(ok)
			s.Equal("Alice", name)
		}
		s.Equal(1, p.Calls(id))
		s.Equal(2.0, promtest.ToFloat64(s.metrics.CacheHitsTotal))
	})

	s.Run("confirmed absence is cached", func() {
		p := newStubProvider(func(context.Context, domain.ProfileID, int) (*providers.Profile, error) {
			return nil, providers.NewProviderError(providers.ErrorNotFound, "stub", "no profile for id", nil)
		})
		svc := s.newService(p)
		id := newID()

		for range 3 {
			name, ok := svc.Resolve(s.ctx, id)
			s.False(ok)
			s.Empty(name)
		}
		s.Equal(1, p.Calls(id))

		entry, err := s.cache.Find(s.ctx, id)
		s.Require().NoError(err)
		s.False(entry.Found)
	})
}

func (s *ResolverServiceSuite) TestCoalescing() {
	p := newStubProvider(named("Alice"))
	p.entered = make(chan struct{}, 1)
	p.gate = make(chan struct{})
	svc := s.newService(p)
	id := newID()

	const callers = 20
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Go(func() {
			name, _ := svc.Resolve(s.ctx, id)
			results <- name
		})
	}

	<-p.entered
	close(p.gate)
	wg.Wait()
	close(results)

	for name := range results {
		s.Equal("Alice", name)
	}
	s.Equal(1, p.Calls(id))
}

func (s *ResolverServiceSuite) TestRetrySchedule() {
	const failures = 3
	p := newStubProvider(func(_ context.Context, id domain.ProfileID, call int) (*providers.Profile, error) {
		if call <= failures {
			return nil, outage()
		}
		return &providers.Profile{ID: id, Name: "Bob"}, nil
	})
	svc := s.newService(p)
	id := newID()

	name, ok := svc.Resolve(s.ctx, id)
	s.True(ok)
	s.Equal("Bob", name)
	s.Equal(failures+1, p.Calls(id))

	waits := s.clock.Waits()
	s.Equal([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, waits)
	for i := 1; i < len(waits); i++ {
		s.GreaterOrEqual(waits[i], waits[i-1])
	}
	s.Equal(float64(failures), promtest.ToFloat64(s.metrics.RetriesTotal))
	s.Equal(float64(failures+1), promtest.ToFloat64(s.metrics.RequestsTotal))
}

func (s *ResolverServiceSuite) TestRateLimitedResponsesAreRetried() {
	p := newStubProvider(func(_ context.Context, id domain.ProfileID, call int) (*providers.Profile, error) {
		if call == 1 {
			return nil, providers.NewProviderError(providers.ErrorRateLimited, "stub", "rate limit hit", nil)
		}
		return &providers.Profile{ID: id, Name: "Carol"}, nil
	})
	svc := s.newService(p)
	id := newID()

	name, ok := svc.Resolve(s.ctx, id)
	s.True(ok)
	s.Equal("Carol", name)
	s.Equal(2, p.Calls(id))
}

func (s *ResolverServiceSuite) TestExhaustion() {
	p := newStubProvider(func(context.Context, domain.ProfileID, int) (*providers.Profile, error) {
		return nil, outage()
	})
	svc := s.newService(p)
	id := newID()

	entry, err := svc.Lookup(s.ctx, id)
	s.Require().Error(err)
	s.ErrorIs(err, providers.ErrAttemptsExhausted)
	s.Equal(providers.ErrorProviderOutage, providers.GetCategory(err))
	s.False(entry.Found)
	s.Equal(DefaultMaxAttempts, p.Calls(id))
	s.Equal([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, s.clock.Waits())

	_, err = s.cache.Find(s.ctx, id)
	s.Error(err, "transient failure must not be cached")

	_, ok := svc.Resolve(s.ctx, id)
	s.False(ok)
	s.Equal(2*DefaultMaxAttempts, p.Calls(id), "second call retries from scratch")
	s.Equal(2.0, promtest.ToFloat64(s.metrics.LookupsTotal.WithLabelValues(metrics.OutcomeFailed)))
}

func (s *ResolverServiceSuite) TestCustomRetryBudget() {
	p := newStubProvider(func(context.Context, domain.ProfileID, int) (*providers.Profile, error) {
		return nil, outage()
	})
	svc := s.newService(p, WithRetry(3, 500*time.Millisecond, 3))
	id := newID()

	_, ok := svc.Resolve(s.ctx, id)
	s.False(ok)
	s.Equal(3, p.Calls(id))
	s.Equal([]time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}, s.clock.Waits())
}

func (s *ResolverServiceSuite) TestBadDataIsNotRetriedOrCached() {
	p := newStubProvider(func(context.Context, domain.ProfileID, int) (*providers.Profile, error) {
		return nil, providers.NewProviderError(providers.ErrorBadData, "stub", "profile has no name", nil)
	})
	svc := s.newService(p)
	id := newID()

	_, ok := svc.Resolve(s.ctx, id)
	s.False(ok)
	s.Equal(1, p.Calls(id))
	s.Empty(s.clock.Waits())

	_, ok = svc.Resolve(s.ctx, id)
	s.False(ok)
	s.Equal(2, p.Calls(id))
}

func (s *ResolverServiceSuite) TestCancellation() {
	s.Run("cancelled during backoff is not retried or cached", func() {
		fc := clock.NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
		p := newStubProvider(func(_ context.Context, id domain.ProfileID, call int) (*providers.Profile, error) {
			if call == 1 {
				fc.Block()
				return nil, outage()
			}
			return &providers.Profile{ID: id, Name: "Dave"}, nil
		})
		p.entered = make(chan struct{}, 1)
		svc := s.newService(p, WithClock(fc))
		id := newID()

		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		errs := make(chan error, 1)
		go func() {
			_, err := svc.Lookup(ctx, id)
			errs <- err
		}()
		<-p.entered
		cancel()

		s.Equal(providers.ErrorCancelled, providers.GetCategory(<-errs))
		s.Eventually(func() bool {
			return promtest.ToFloat64(s.metrics.LookupsTotal.WithLabelValues(metrics.OutcomeCancelled)) == 1
		}, time.Second, 5*time.Millisecond)
		_, err := s.cache.Find(s.ctx, id)
		s.ErrorIs(err, sentinel.ErrNotFound)

		name, ok := svc.Resolve(s.ctx, id)
		s.True(ok)
		s.Equal("Dave", name)
		s.Equal(2, p.Calls(id))
	})

	s.Run("cancelled while waiting on the rate limiter", func() {
		fc := clock.NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
		limiter := ratelimit.New(ratelimit.DefaultRate, ratelimit.WithClock(fc))
		s.Require().NoError(limiter.Acquire(s.ctx)) // drain the single token
		fc.Block()

		p := newStubProvider(named("Erin"))
		svc, err := New(p, limiter, WithClock(fc), WithLogger(s.logger))
		s.Require().NoError(err)
		id := newID()

		ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
		defer cancel()

		_, err = svc.Lookup(ctx, id)
		s.Require().Error(err)
		s.Equal(providers.ErrorCancelled, providers.GetCategory(err))
		s.Equal(0, p.Calls(id))
	})

	s.Run("waiting caller leaves while the flight continues", func() {
		p := newStubProvider(named("Frank"))
		p.entered = make(chan struct{}, 1)
		p.gate = make(chan struct{})
		svc := s.newService(p)
		id := newID()

		leader := make(chan string, 1)
		go func() {
			name, _ := svc.Resolve(s.ctx, id)
			leader <- name
		}()
		<-p.entered

		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		_, err := svc.Lookup(ctx, id)
		s.Equal(providers.ErrorCancelled, providers.GetCategory(err))

		close(p.gate)
		s.Equal("Frank", <-leader)
		s.Equal(1, p.Calls(id))
	})

	s.Run("first caller leaving does not cancel the others", func() {
		p := newStubProvider(named("Gina"))
		p.entered = make(chan struct{}, 1)
		p.gate = make(chan struct{})
		svc := s.newService(p)
		id := newID()

		firstCtx, cancelFirst := context.WithCancel(s.ctx)
		defer cancelFirst()
		firstErr := make(chan error, 1)
		go func() {
			_, err := svc.Lookup(firstCtx, id)
			firstErr <- err
		}()
		<-p.entered

		second := make(chan string, 1)
		go func() {
			name, _ := svc.Resolve(s.ctx, id)
			second <- name
		}()
		s.Eventually(func() bool { return waitersOn(svc, id) == 2 }, time.Second, time.Millisecond)

		cancelFirst()
		s.Equal(providers.ErrorCancelled, providers.GetCategory(<-firstErr))

		close(p.gate)
		s.Equal("Gina", <-second)
		s.Equal(1, p.Calls(id))
		s.Zero(waitersOn(svc, id))
	})
}

func waitersOn(svc *Service, id domain.ProfileID) int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if f, ok := svc.waiting[id.String()]; ok {
		return f.waiters
	}
	return 0
}

func (s *ResolverServiceSuite) TestRateBound() {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(start)
	p := newStubProvider(named("Grace"))
	svc, err := New(p, ratelimit.New(ratelimit.DefaultRate, ratelimit.WithClock(fc)), WithClock(fc))
	s.Require().NoError(err)

	const lookups = 8
	for range lookups {
		_, ok := svc.Resolve(s.ctx, newID())
		s.True(ok)
	}

	secs := float64(lookups-1) / ratelimit.DefaultRate
	minimum := time.Duration(secs * float64(time.Second))
	s.GreaterOrEqual(fc.Elapsed(start), minimum-time.Millisecond)
}
