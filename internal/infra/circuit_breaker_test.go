package infra

import (
	"testing"
	"time"
)

func TestCircuitBreaker_AllowInClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	if !cb.Allow() {
		t.Error("Expected Allow() to return true in CLOSED state")
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state CLOSED, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_OpensAfterFiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	if cb.GetState() != StateClosed {
		t.Error("Should still be CLOSED after 4 failures")
	}

	cb.RecordFailure() // 5th failure

	if cb.GetState() != StateOpen {
		t.Errorf("Expected OPEN after 5 failures, got %s", cb.GetState())
	}

	// Should reject requests when open
	if cb.Allow() {
		t.Error("Expected Allow() to return false in OPEN state")
	}
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected CLOSED since failures were not consecutive, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cfg := CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	}
	cb := NewCircuitBreaker(cfg)

	// Open the breaker
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Fatal("Expected OPEN state")
	}

	// Wait for timeout
	time.Sleep(60 * time.Millisecond)

	// Should transition to half-open
	if !cb.Allow() {
		t.Error("Expected Allow() to return true after timeout (half-open)")
	}

	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected HALF_OPEN, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ClosesAfterThreeSuccesses(t *testing.T) {
	cfg := CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          10 * time.Millisecond,
	}
	cb := NewCircuitBreaker(cfg)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	time.Sleep(15 * time.Millisecond)

	for i := 1; i <= 3; i++ {
		if !cb.Allow() {
			t.Fatalf("Expected trial call %d to be allowed", i)
		}
		cb.RecordSuccess()
		if i < 3 && cb.GetState() != StateHalfOpen {
			t.Errorf("Should still be HALF_OPEN after %d successes", i)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected CLOSED after 3 successes, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 3,
		Timeout:          10 * time.Millisecond,
	}
	cb := NewCircuitBreaker(cfg)

	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("Expected half-open trial to be allowed")
	}
	cb.RecordSuccess()
	if !cb.Allow() {
		t.Fatal("Expected second trial to be allowed")
	}
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Errorf("Expected OPEN after half-open failure, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Error("Expected reopened breaker to reject immediately")
	}
}

func TestCircuitBreaker_HalfOpenLimitsTrials(t *testing.T) {
	cfg := CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	}
	cb := NewCircuitBreaker(cfg)

	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() || !cb.Allow() {
		t.Fatal("Expected two concurrent trials to be allowed")
	}
	if cb.Allow() {
		t.Error("Expected third concurrent trial to be rejected")
	}

	cb.Abandon()
	if !cb.Allow() {
		t.Error("Expected abandoned slot to be reusable")
	}
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	m := &Metrics{}
	cfg := CircuitBreakerConfig{Name: "test", FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond}
	cb := NewCircuitBreaker(cfg).WithMetrics(m)

	cb.RecordFailure()
	if got := m.Snapshot().OpenBreakers; got != 1 {
		t.Errorf("Expected 1 open breaker, got %d", got)
	}

	time.Sleep(15 * time.Millisecond)
	cb.Allow()
	if got := m.Snapshot().OpenBreakers; got != 0 {
		t.Errorf("Expected 0 open breakers in HALF_OPEN, got %d", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("test")
	cb := NewCircuitBreaker(cfg)

	// Open the breaker
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	if cb.GetState() != StateOpen {
		t.Fatal("Expected OPEN state")
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("Expected CLOSED after Reset, got %s", cb.GetState())
	}

	if !cb.Allow() {
		t.Error("Expected Allow() to return true after Reset")
	}
}
