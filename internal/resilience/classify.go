// Package resilience classifies external-call failures and wraps calls to
// the source and target APIs with retry and circuit-breaker policies. Every
// failure is classified here before it crosses a component boundary.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Class partitions failures by how callers must react.
type Class int

const (
	// ClassTransient failures (network timeout, 5xx, 429) are retried with
	// backoff and never surfaced unless retries exhaust
	ClassTransient Class = iota
	// ClassFatalItem failures (schema/validation/mapping-not-found) are
	// recorded against the item; the batch continues
	ClassFatalItem
	// ClassFatalBatch failures (auth failure, breaker open) abort the batch
	// immediately and propagate to the coordinator
	ClassFatalBatch
)

// String returns the class name for logging and reports
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatalItem:
		return "fatal_item"
	case ClassFatalBatch:
		return "fatal_batch"
	default:
		return "unknown"
	}
}

// Error is a classified failure. RetryAfter is honored for transient
// failures carrying a 429 Retry-After hint.
type Error struct {
	Class      Class
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure
func Transient(err error) *Error {
	return &Error{Class: ClassTransient, Err: err}
}

// TransientAfter wraps err as a retryable failure with a Retry-After hint
func TransientAfter(err error, retryAfter time.Duration) *Error {
	return &Error{Class: ClassTransient, RetryAfter: retryAfter, Err: err}
}

// FatalItem wraps err as an item-level failure
func FatalItem(err error) *Error {
	return &Error{Class: ClassFatalItem, Err: err}
}

// FatalBatch wraps err as a batch-aborting failure
func FatalBatch(err error) *Error {
	return &Error{Class: ClassFatalBatch, Err: err}
}

// ClassOf returns the classification of err. Context cancellation aborts
// the batch; unclassified errors are treated as transient, the safe default
// for network-facing code.
func ClassOf(err error) Class {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatalBatch
	}
	return ClassTransient
}

// RetryAfterOf returns the Retry-After hint carried by err, if any
func RetryAfterOf(err error) time.Duration {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.RetryAfter
	}
	return 0
}

// FromStatusCode classifies an HTTP response status. A nil return means
// success.
func FromStatusCode(statusCode int, body string, retryAfter time.Duration) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return FatalBatch(fmt.Errorf("authentication failed: status %d: %s", statusCode, body))
	case statusCode == http.StatusTooManyRequests:
		return TransientAfter(fmt.Errorf("rate limited: status %d", statusCode), retryAfter)
	case statusCode >= 500:
		return Transient(fmt.Errorf("server error: status %d: %s", statusCode, body))
	default:
		// 4xx other than auth/rate-limit means this request is malformed or
		// refers to something that does not exist; retrying cannot help.
		return FatalItem(fmt.Errorf("request rejected: status %d: %s", statusCode, body))
	}
}
