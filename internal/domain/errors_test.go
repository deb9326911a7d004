package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNetworkError(t *testing.T) {
	baseErr := errors.New("connection refused")

	t.Run("retriable error", func(t *testing.T) {
		err := NewNetworkError("connect", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}

		if err.Error() != "connect: connection refused" {
			t.Errorf("Error message = %q, want %q", err.Error(), "connect: connection refused")
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("fatal error", func(t *testing.T) {
		err := NewFatalNetworkError("auth", baseErr)

		if err.IsRetriable() {
			t.Error("Expected error to not be retriable")
		}
	})

	t.Run("IsRetriable helper", func(t *testing.T) {
		retriable := NewNetworkError("dial", baseErr)
		fatal := NewFatalNetworkError("auth", baseErr)
		plain := errors.New("plain error")

		if !IsRetriable(retriable) {
			t.Error("IsRetriable should return true for retriable error")
		}

		if IsRetriable(fatal) {
			t.Error("IsRetriable should return false for fatal error")
		}

		if IsRetriable(plain) {
			t.Error("IsRetriable should return false for plain error")
		}
	})
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("missing value")
	err := &ConfigError{Field: "api_key", Err: baseErr}

	if err.IsRetriable() {
		t.Error("ConfigError should never be retriable")
	}

	expected := "config error [api_key]: missing value"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"api 429", &APIError{Op: "book", StatusCode: 429}, CategoryRateLimited},
		{"api 503", &APIError{Op: "book", StatusCode: 503}, CategoryRetryable},
		{"api 404", &APIError{Op: "book", StatusCode: 404}, CategoryFatal},
		{"api 422", &APIError{Op: "order", StatusCode: 422}, CategoryFatal},
		{"breaker open", &BreakerOpenError{Name: "clob"}, CategoryBreakerOpen},
		{"wrapped insufficient balance", fmt.Errorf("post order: %w", ErrInsufficientBalance), CategoryFatal},
		{"deadline", context.DeadlineExceeded, CategoryRetryable},
		{"cancelled", context.Canceled, CategoryFatal},
		{"retriable network", NewNetworkError("dial", errors.New("reset")), CategoryRetryable},
		{"fatal network", NewFatalNetworkError("auth", errors.New("bad key")), CategoryFatal},
		{"rate limit text", errors.New("Rate limit exceeded"), CategoryRateLimited},
		{"timeout text", errors.New("read: i/o timeout"), CategoryRetryable},
		{"connection refused text", errors.New("dial tcp: connection refused"), CategoryRetryable},
		{"invalid text", errors.New("invalid token id"), CategoryFatal},
		{"unknown", errors.New("something odd"), CategoryRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestBreakerOpenError_Is(t *testing.T) {
	err := fmt.Errorf("get book: %w", &BreakerOpenError{Name: "clob"})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Error("Expected wrapped BreakerOpenError to match ErrBreakerOpen")
	}
	if IsRetriable(err) {
		t.Error("BreakerOpenError should not be retriable")
	}
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{Op: "fee-rate", StatusCode: 500, Body: "oops"}
	expected := "fee-rate: status=500 body=oops"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
	if !err.IsRetriable() {
		t.Error("5xx APIError should be retriable")
	}
}
