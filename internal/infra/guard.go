package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"poly_trader/internal/domain"
)

// RetryPolicy bounds how a Guard retries classified failures.
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration // floor for RATE_LIMITED backoff
}

// DefaultRetryPolicy returns 3 retries with 1s..16s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       16 * time.Second,
		RateLimitDelay: 5 * time.Second,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int, cat domain.ErrorCategory) time.Duration {
	d := CalculateBackoffWith(attempt, p.BaseDelay, p.MaxDelay)
	if cat == domain.CategoryRateLimited && d < p.RateLimitDelay {
		d = p.RateLimitDelay
	}
	return d
}

// Guard protects one call-class with a breaker, a limiter and a retry policy.
// Safe for concurrent use; all call sites of a class share one Guard.
type Guard struct {
	name    string
	breaker *CircuitBreaker
	limiter *SlidingWindowLimiter
	policy  RetryPolicy
	metrics *Metrics
	logger  *slog.Logger
}

// NewGuard wires the three resilience pieces for a call-class.
func NewGuard(name string, breaker *CircuitBreaker, limiter *SlidingWindowLimiter, policy RetryPolicy) *Guard {
	return &Guard{
		name:    name,
		breaker: breaker,
		limiter: limiter,
		policy:  policy,
		metrics: GlobalMetrics,
		logger:  slog.Default().With("module", "guard", "class", name),
	}
}

// Name returns the call-class.
func (g *Guard) Name() string { return g.name }

// Breaker exposes the breaker for monitoring.
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// Limiter exposes the limiter for monitoring.
func (g *Guard) Limiter() *SlidingWindowLimiter { return g.limiter }

// Do runs op under breaker, limiter and retry.
// An open breaker fails fast without consuming a limiter slot.
// Every failed call counts against the breaker; only FATAL ones skip the retry.
func (g *Guard) Do(ctx context.Context, op func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if !g.breaker.Allow() {
			return &domain.BreakerOpenError{Name: g.name}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			g.breaker.Abandon()
			return err
		}

		err := op(ctx)
		if err == nil {
			g.breaker.RecordSuccess()
			return nil
		}

		if ctx.Err() != nil {
			g.breaker.Abandon()
			return err
		}

		cat := domain.Classify(err)
		if cat == domain.CategoryBreakerOpen {
			g.breaker.Abandon()
			return err
		}

		g.breaker.RecordFailure()
		g.metrics.RecordError()

		if cat == domain.CategoryFatal {
			return err
		}

		if attempt >= g.policy.MaxRetries {
			return fmt.Errorf("%s: giving up after %d attempts: %w", g.name, attempt+1, err)
		}

		delay := g.policy.Delay(attempt, cat)
		g.logger.Warn("Call failed, retrying",
			slog.String("category", cat.String()),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		g.metrics.RecordRetry()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, g *Guard, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Guards holds one Guard per remote call-class.
type Guards struct {
	Gamma  *Guard // market discovery
	CLOB   *Guard // books, fee rates, order status
	Orders *Guard // order submission, never retried
}

// NewGuards builds independent guards for every call-class from config.
func NewGuards(cfg *Config, m *Metrics) *Guards {
	r := cfg.Resilience
	mk := func(name string, policy RetryPolicy) *Guard {
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: r.FailureThreshold,
			SuccessThreshold: r.SuccessThreshold,
			Timeout:          r.RecoveryTimeout,
		}).WithMetrics(m)
		g := NewGuard(name, cb, NewSlidingWindowLimiter(r.RateLimit, r.RateWindow), policy)
		g.metrics = m
		return g
	}

	policy := RetryPolicy{
		MaxRetries:     r.MaxRetries,
		BaseDelay:      r.RetryBaseDelay,
		MaxDelay:       r.RetryMaxDelay,
		RateLimitDelay: r.RateLimitDelay,
	}
	orders := policy
	orders.MaxRetries = 0

	return &Guards{
		Gamma:  mk("gamma", policy),
		CLOB:   mk("clob", policy),
		Orders: mk("orders", orders),
	}
}
