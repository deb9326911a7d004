package infra

import (
	"time"
)

const (
	// Standard backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns the exponential backoff duration for a given retry count.
// Logic: baseDelay * 2^retryCount, capped at maxDelay.
// If retryCount is negative, it returns baseDelay.
func CalculateBackoff(retryCount int) time.Duration {
	return CalculateBackoffWith(retryCount, baseDelay, maxDelay)
}

// CalculateBackoffWith is CalculateBackoff with caller supplied base and cap.
func CalculateBackoffWith(retryCount int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		base = baseDelay
	}
	if ceiling < base {
		ceiling = base
	}
	if retryCount < 0 {
		return base
	}

	// 2^30 seconds is far past any sensible cap; avoid shift overflow.
	if retryCount > 30 {
		return ceiling
	}

	backoff := base * time.Duration(1<<retryCount)
	if backoff > ceiling || backoff <= 0 {
		return ceiling
	}

	return backoff
}
