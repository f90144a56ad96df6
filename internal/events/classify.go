package events

import (
	"context"
	"errors"
	"strings"
)

// NonRetryableError marks an error the retry engine must not redrive.
// Deserialization failures and data-dependent business errors wear it.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// transientIndicators are matched against the lowercased error text. Errors
// from drivers and remote services rarely share types but do share vocabulary.
var transientIndicators = []string{
	"connection",
	"timeout",
	"temporary",
	"unavailable",
	"retry",
}

// IsRetryable classifies an error as transient infrastructure (retry) or
// data-dependent (dead-letter). Business-logic failures that match none of
// the transient indicators will not change on a re-run, so they are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var nonRetry NonRetryableError
	if errors.As(err, &nonRetry) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range transientIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
