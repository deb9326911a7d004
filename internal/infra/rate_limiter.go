package infra

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit calls in any trailing window.
// Callers over the limit are delayed, never dropped.
// Thread-safe and suitable for concurrent API calls.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time // ascending
}

// NewSlidingWindowLimiter creates a limiter of limit calls per window.
func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		calls:  make([]time.Time, 0, limit),
	}
}

// Wait blocks until a slot is free or ctx is done.
func (l *SlidingWindowLimiter) Wait(ctx context.Context) error {
	for {
		delay := l.reserve(time.Now())
		if delay <= 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire takes a slot without blocking.
// Returns true if a slot was acquired, false otherwise.
func (l *SlidingWindowLimiter) TryAcquire() bool {
	return l.reserve(time.Now()) <= 0
}

// TimeUntilAllowed returns how long until the next call would be admitted.
func (l *SlidingWindowLimiter) TimeUntilAllowed() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.prune(now)
	if len(l.calls) < l.limit {
		return 0
	}
	return l.calls[0].Add(l.window).Sub(now)
}

// Count returns the number of calls inside the current window.
func (l *SlidingWindowLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.calls)
}

// reserve records a call at now if a slot is free, else returns the wait.
func (l *SlidingWindowLimiter) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	if len(l.calls) < l.limit {
		l.calls = append(l.calls, now)
		return 0
	}

	wait := l.calls[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// must hold mu
func (l *SlidingWindowLimiter) prune(now time.Time) {
	i := 0
	for i < len(l.calls) && now.Sub(l.calls[i]) >= l.window {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
