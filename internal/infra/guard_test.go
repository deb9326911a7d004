package infra

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"poly_trader/internal/domain"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     retries,
		BaseDelay:      time.Millisecond,
		MaxDelay:       4 * time.Millisecond,
		RateLimitDelay: 5 * time.Millisecond,
	}
}

func newTestGuard(retries int) *Guard {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          50 * time.Millisecond,
	})
	g := NewGuard("test", cb, NewSlidingWindowLimiter(1000, time.Minute), fastPolicy(retries))
	g.metrics = &Metrics{}
	return g
}

func TestGuard_RetriesRetryableThenSucceeds(t *testing.T) {
	g := newTestGuard(3)
	var calls int32

	err := g.Do(context.Background(), func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &domain.APIError{Op: "book", StatusCode: 503}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if g.metrics.Snapshot().Retries != 2 {
		t.Errorf("Expected 2 retries recorded, got %d", g.metrics.Snapshot().Retries)
	}
}

func TestGuard_FatalNotRetried(t *testing.T) {
	g := newTestGuard(3)
	var calls int32

	err := g.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return fmt.Errorf("post order: %w", domain.ErrInsufficientBalance)
	})

	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("Expected insufficient balance error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if g.Breaker().GetState() != StateClosed {
		t.Error("A single fatal error should stay below the failure threshold")
	}
}

func TestGuard_FatalCountsTowardFailureStreak(t *testing.T) {
	g := newTestGuard(0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		g.Do(ctx, func(ctx context.Context) error {
			return &domain.APIError{Op: "book", StatusCode: 503}
		})
	}
	g.Do(ctx, func(ctx context.Context) error {
		return &domain.APIError{Op: "book", StatusCode: 404}
	})

	if g.Breaker().GetState() != StateOpen {
		t.Errorf("Expected OPEN after 5 consecutive failures, got %s", g.Breaker().GetState())
	}
}

func TestGuard_FailedHalfOpenTrialReopens(t *testing.T) {
	g := newTestGuard(0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		g.Do(ctx, func(ctx context.Context) error {
			return &domain.APIError{Op: "book", StatusCode: 503}
		})
	}
	if g.Breaker().GetState() != StateOpen {
		t.Fatalf("Expected OPEN, got %s", g.Breaker().GetState())
	}

	time.Sleep(60 * time.Millisecond)

	var calls int32
	err := g.Do(ctx, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return &domain.APIError{Op: "book", StatusCode: 400}
	})

	if err == nil {
		t.Fatal("Expected the trial error to surface")
	}
	if calls != 1 {
		t.Errorf("Expected the trial call to run once, got %d", calls)
	}
	if g.Breaker().GetState() != StateOpen {
		t.Errorf("Expected OPEN after a failed half-open trial, got %s", g.Breaker().GetState())
	}
}

func TestGuard_GivesUpAfterMaxRetries(t *testing.T) {
	g := newTestGuard(2)
	var calls int32
	cause := errors.New("dial tcp: connection refused")

	err := g.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return cause
	})

	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 1 call + 2 retries, got %d", calls)
	}
}

func TestGuard_RateLimitedUsesFloorDelay(t *testing.T) {
	p := fastPolicy(3)
	if got := p.Delay(0, domain.CategoryRateLimited); got != 5*time.Millisecond {
		t.Errorf("Expected rate limit floor 5ms, got %s", got)
	}
	if got := p.Delay(0, domain.CategoryRetryable); got != time.Millisecond {
		t.Errorf("Expected base delay 1ms, got %s", got)
	}
	if got := DefaultRetryPolicy().Delay(10, domain.CategoryRetryable); got != 16*time.Second {
		t.Errorf("Expected cap 16s, got %s", got)
	}
}

func TestGuard_OpenBreakerFailsFastWithoutSlot(t *testing.T) {
	g := newTestGuard(0)
	for i := 0; i < 5; i++ {
		_ = g.Do(context.Background(), func(ctx context.Context) error {
			return &domain.APIError{Op: "book", StatusCode: 500}
		})
	}
	if g.Breaker().GetState() != StateOpen {
		t.Fatalf("Expected OPEN, got %s", g.Breaker().GetState())
	}

	used := g.Limiter().Count()
	var invoked bool
	err := g.Do(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})

	if !errors.Is(err, domain.ErrBreakerOpen) {
		t.Errorf("Expected breaker open error, got %v", err)
	}
	if invoked {
		t.Error("Operation must not run while the breaker is open")
	}
	if g.Limiter().Count() != used {
		t.Errorf("Open breaker consumed a limiter slot: %d -> %d", used, g.Limiter().Count())
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	g := newTestGuard(1)
	v, err := Call(context.Background(), g, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("Expected 42, got %d (%v)", v, err)
	}
}

func TestNewGuards_OrdersNeverRetry(t *testing.T) {
	cfg := Default()
	guards := NewGuards(cfg, &Metrics{})
	var calls int32

	_ = guards.Orders.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return &domain.APIError{Op: "order", StatusCode: 503}
	})

	if calls != 1 {
		t.Errorf("Expected order submission to run once, got %d", calls)
	}
	if guards.Gamma.Breaker() == guards.CLOB.Breaker() {
		t.Error("Call-classes must not share breakers")
	}
}
