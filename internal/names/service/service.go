// Package service resolves profile ids to current display names. Each
// distinct id reaches the network at most once per process for a definitive
// answer; concurrent callers for the same id share one in-flight lookup.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"six2five/internal/names/cache"
	"six2five/internal/names/metrics"
	"six2five/internal/names/providers"
	"six2five/internal/platform/clock"
	"six2five/pkg/domain"
	"six2five/pkg/platform/sentinel"
)

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = time.Second
	DefaultMultiplier   = 2.0

	maxRetryInterval = 10 * time.Minute
)

type (
	Provider = providers.Provider
	Entry    = cache.Entry
)

// Limiter paces outbound requests; Acquire only returns early on ctx.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// CacheStore holds definitive outcomes. Find returns sentinel.ErrNotFound on a miss.
type CacheStore interface {
	Find(ctx context.Context, id domain.ProfileID) (Entry, error)
	Save(ctx context.Context, id domain.ProfileID, e Entry) error
}

type Service struct {
	provider Provider
	limiter  Limiter
	cache    CacheStore
	flights  singleflight.Group
	mu       sync.Mutex
	waiting  map[string]*flight
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    clock.Clock
	tracer   trace.Tracer

	maxAttempts  int
	initialDelay time.Duration
	multiplier   float64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCache(c CacheStore) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithClock drives backoff waits from c.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithRetry sets the total attempt budget and the exponential schedule.
// Zero values keep the defaults.
func WithRetry(maxAttempts int, initialDelay time.Duration, multiplier float64) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if initialDelay > 0 {
			s.initialDelay = initialDelay
		}
		if multiplier >= 1 {
			s.multiplier = multiplier
		}
	}
}

func New(provider Provider, limiter Limiter, opts ...Option) (*Service, error) {
	if provider == nil {
		return nil, errors.New("name provider is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}

	svc := &Service{
		provider:     provider,
		limiter:      limiter,
		cache:        cache.New(),
		waiting:      make(map[string]*flight),
		logger:       slog.New(slog.DiscardHandler),
		clock:        clock.System{},
		tracer:       otel.Tracer("six2five/names"),
		maxAttempts:  DefaultMaxAttempts,
		initialDelay: DefaultInitialDelay,
		multiplier:   DefaultMultiplier,
	}

	for _, opt := range opts {
		opt(svc)
	}
	if svc.metrics == nil {
		svc.metrics = metrics.New(nil)
	}

	return svc, nil
}

// Resolve returns the current name for id. ok is false when the service
// confirmed there is no such profile or when the lookup failed; only the
// former is remembered.
func (s *Service) Resolve(ctx context.Context, id domain.ProfileID) (name string, ok bool) {
	entry, err := s.Lookup(ctx, id)
	if err != nil {
		return "", false
	}
	return entry.Name, entry.Found
}

// Lookup is Resolve with the failure kept. A nil error means entry is a
// definitive outcome; errors carry a providers.ErrorCategory.
func (s *Service) Lookup(ctx context.Context, id domain.ProfileID) (Entry, error) {
	if cached, err := s.cache.Find(ctx, id); err == nil {
		s.metrics.IncrementCacheHits()
		return cached, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return Entry{}, err
	}

	for {
		entry, err := s.await(ctx, id)
		if err != nil && providers.GetCategory(err) == providers.ErrorCancelled && ctx.Err() == nil {
			// Joined a flight its other callers had already abandoned.
			if cached, cerr := s.cache.Find(ctx, id); cerr == nil {
				return cached, nil
			}
			continue
		}
		return entry, err
	}
}

// flight is the context shared by the callers of one coalesced lookup. It is
// cancelled once the last of them has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (s *Service) await(ctx context.Context, id domain.ProfileID) (Entry, error) {
	if ctx.Err() != nil {
		return Entry{}, providers.NewProviderError(providers.ErrorCancelled, s.provider.ID(), "lookup cancelled", ctx.Err())
	}

	key := id.String()
	f := s.join(ctx, key)
	defer s.leave(key, f)

	ch := s.flights.DoChan(key, func() (any, error) {
		// A flight for id may have finished between the miss above and now.
		if cached, err := s.cache.Find(f.ctx, id); err == nil {
			return cached, nil
		}
		return s.fetch(f.ctx, id)
	})

	select {
	case <-ctx.Done():
		return Entry{}, providers.NewProviderError(providers.ErrorCancelled, s.provider.ID(), "wait for lookup cancelled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	}
}

// join registers the caller on the flight for key, starting one detached
// from ctx's cancellation when none is pending.
func (s *Service) join(ctx context.Context, key string) *flight {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.waiting[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.waiting[key] = f
	}
	f.waiters++
	return f
}

func (s *Service) leave(key string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if s.waiting[key] == f {
		delete(s.waiting, key)
	}
	f.cancel()
}

// fetch runs the retrying network lookup and records definitive outcomes.
func (s *Service) fetch(ctx context.Context, id domain.ProfileID) (Entry, error) {
	ctx, span := s.tracer.Start(ctx, "names.fetch", trace.WithAttributes(
		attribute.String("profile.id", id.String()),
	))
	defer span.End()

	start := s.clock.Now()
	defer func() {
		s.metrics.ObserveLookupDuration(s.clock.Now().Sub(start).Seconds())
	}()

	var (
		profile  *providers.Profile
		attempts int
	)
	operation := func() error {
		attempts++
		if err := s.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(s.limiterError(ctx, err))
		}
		s.metrics.IncrementRequests()
		p, err := s.provider.Lookup(ctx, id)
		if err != nil {
			if providers.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		profile = p
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.metrics.IncrementRetries()
		s.logger.WarnContext(ctx, "HTTP request for name failed",
			"profile_id", id.String(),
			"attempt", attempts,
			"retry_in", next,
			"error", err,
		)
	}

	err := backoff.RetryNotifyWithTimer(operation, s.newBackOff(ctx), notify, clock.NewTimer(s.clock))
	span.SetAttributes(attribute.Int("lookup.attempts", attempts))

	switch {
	case err == nil:
		entry := Entry{Name: profile.Name, Found: true}
		s.remember(ctx, id, entry)
		s.metrics.IncrementLookups(metrics.OutcomeResolved)
		return entry, nil

	case providers.IsDefinitive(err):
		entry := Entry{}
		s.remember(ctx, id, entry)
		s.metrics.IncrementLookups(metrics.OutcomeAbsent)
		s.logger.InfoContext(ctx, "identity service has no profile for id", "profile_id", id.String())
		return entry, nil
	}

	err = s.failure(ctx, err, attempts)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(providers.GetCategory(err)))
	if providers.GetCategory(err) == providers.ErrorCancelled {
		s.metrics.IncrementLookups(metrics.OutcomeCancelled)
	} else {
		s.metrics.IncrementLookups(metrics.OutcomeFailed)
	}
	s.logger.WarnContext(ctx, "failed to get a name for profile id",
		"profile_id", id.String(),
		"category", providers.GetCategory(err),
		"attempts", attempts,
		"error", err,
	)
	return Entry{}, err
}

// failure normalizes the error left by the retry loop. Nothing here is cached.
func (s *Service) failure(ctx context.Context, err error, attempts int) error {
	if ctx.Err() != nil && providers.GetCategory(err) != providers.ErrorCancelled {
		return providers.NewProviderError(providers.ErrorCancelled, s.provider.ID(), "lookup cancelled", ctx.Err())
	}
	if providers.IsRetryable(err) {
		return fmt.Errorf("%w after %d attempts: %w", providers.ErrAttemptsExhausted, attempts, err)
	}
	return err
}

func (s *Service) limiterError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return providers.NewProviderError(providers.ErrorCancelled, s.provider.ID(), "rate limiter wait cancelled", err)
	}
	return providers.NewProviderError(providers.ErrorInternal, s.provider.ID(), "rate limiter", err)
}

func (s *Service) remember(ctx context.Context, id domain.ProfileID, entry Entry) {
	if err := s.cache.Save(ctx, id, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to cache name", "profile_id", id.String(), "error", err)
	}
}

// newBackOff yields initialDelay, initialDelay*multiplier, ... with no jitter,
// allowing maxAttempts-1 retries.
func (s *Service) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialDelay
	b.Multiplier = s.multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)
}
