package domain

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ErrorCategory tells the resilience layer what to do with a failed call.
type ErrorCategory int

const (
	CategoryRetryable ErrorCategory = iota
	CategoryRateLimited
	CategoryFatal
	CategoryBreakerOpen
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryRetryable:
		return "RETRYABLE"
	case CategoryRateLimited:
		return "RATE_LIMITED"
	case CategoryFatal:
		return "FATAL"
	case CategoryBreakerOpen:
		return "BREAKER_OPEN"
	default:
		return "UNKNOWN"
	}
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// APIError is a non-2xx response from a remote HTTP API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return e.Op + ": status=" + strconv.Itoa(e.StatusCode) + " body=" + body
}

func (e *APIError) IsRetriable() bool {
	c := e.Category()
	return c == CategoryRetryable || c == CategoryRateLimited
}

// Category maps the HTTP status to an error category.
func (e *APIError) Category() ErrorCategory {
	switch {
	case e.StatusCode == 429:
		return CategoryRateLimited
	case e.StatusCode >= 500:
		return CategoryRetryable
	case e.StatusCode >= 400:
		return CategoryFatal
	default:
		return CategoryRetryable
	}
}

// BreakerOpenError is returned without attempting the call.
type BreakerOpenError struct {
	Name string
}

func (e *BreakerOpenError) Error() string {
	return "circuit breaker open [" + e.Name + "]"
}

func (e *BreakerOpenError) IsRetriable() bool {
	return false
}

func (e *BreakerOpenError) Is(target error) bool {
	return target == ErrBreakerOpen
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")

	ErrBreakerOpen         = errors.New("circuit breaker open")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrMarketNotFound      = errors.New("market not found")
	ErrInsufficientDepth   = errors.New("insufficient order book depth")

	// ErrOrderKilled is returned when a fill-or-kill order was cancelled by the exchange.
	ErrOrderKilled = errors.New("order killed")

	// ErrOrderTimeout is returned when an order never reached a terminal state in time.
	ErrOrderTimeout = errors.New("order status timeout")
)

// Classify maps an error to its resilience category.
// Typed errors win; message heuristics cover errors from libraries we don't control.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryRetryable
	}

	if errors.Is(err, ErrBreakerOpen) {
		return CategoryBreakerOpen
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category()
	}

	if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrInvalidOrder) ||
		errors.Is(err, ErrMarketNotFound) || errors.Is(err, ErrInvalidSymbol) ||
		errors.Is(err, ErrOrderKilled) {
		return CategoryFatal
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return CategoryFatal
	}

	if errors.Is(err, context.Canceled) {
		return CategoryFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryRetryable
	}

	var re RetriableError
	if errors.As(err, &re) && !re.IsRetriable() {
		return CategoryFatal
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return CategoryRateLimited
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "connection"):
		return CategoryRetryable
	case strings.Contains(msg, "400"), strings.Contains(msg, "401"),
		strings.Contains(msg, "403"), strings.Contains(msg, "404"),
		strings.Contains(msg, "422"), strings.Contains(msg, "invalid"),
		strings.Contains(msg, "insufficient"), strings.Contains(msg, "balance"):
		return CategoryFatal
	}

	return CategoryRetryable
}
