// Package sinkerr classifies time-series sink failures as retryable or fatal.
// Typed categories (already classified errors, context deadlines, network timeouts)
// are checked before falling back to keyword matching on the error text.
package sinkerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// RetryableSinkError is a transient sink or network failure.
type RetryableSinkError struct {
	Err error
}

func (e *RetryableSinkError) Error() string {
	return fmt.Sprintf("retryable sink error: %v", e.Err)
}

func (e *RetryableSinkError) Unwrap() error {
	return e.Err
}

// FatalSinkError is a failure that will not go away by retrying
// (authentication, permissions, malformed line protocol).
type FatalSinkError struct {
	Err error
}

func (e *FatalSinkError) Error() string {
	return fmt.Sprintf("fatal sink error: %v", e.Err)
}

func (e *FatalSinkError) Unwrap() error {
	return e.Err
}

// Retryable marks err as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableSinkError{Err: err}
}

// Fatal marks err as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalSinkError{Err: err}
}

var retryableKeywords = []string{
	"timeout",
	"temporary",
	"unavailable",
	"connection",
	"network",
}

// Classify wraps err in RetryableSinkError or FatalSinkError. Errors that are already
// classified are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var retryable *RetryableSinkError
	if errors.As(err, &retryable) {
		return err
	}
	var fatal *FatalSinkError
	if errors.As(err, &fatal) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return Fatal(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable(err)
	}

	msg := strings.ToLower(err.Error())
	for _, keyword := range retryableKeywords {
		if strings.Contains(msg, keyword) {
			return Retryable(err)
		}
	}

	return Fatal(err)
}

// IsRetryable reports whether err should be retried, classifying it first if needed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable *RetryableSinkError
	if errors.As(err, &retryable) {
		return true
	}
	var fatal *FatalSinkError
	if errors.As(err, &fatal) {
		return false
	}
	return IsRetryable(Classify(err))
}
