package storage

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/c360studio/semstreams/pkg/retry"
)

// Common storage errors.
var (
	// ErrRepositoryNotFound is returned when a repository does not exist.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrRepositoryExists is returned when creating a repository that already exists.
	ErrRepositoryExists = errors.New("repository already exists")
)

// Error types for classifying store errors.

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// ClassifyHTTPError determines if an HTTP error status is transient or fatal.
func ClassifyHTTPError(op string, statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("%s: store error (status %d): %s", op, statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		// Rate limiting is transient
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusNotFound:
		return NewFatalError(fmt.Errorf("%w: %w", ErrRepositoryNotFound, err))
	case statusCode == http.StatusConflict:
		return NewFatalError(fmt.Errorf("%w: %w", ErrRepositoryExists, err))
	default:
		// Auth, bad request and unknown errors are fatal
		return NewFatalError(err)
	}
}

// RetryableOnly marks every non-transient error as non-retryable, so that
// retry.Do only repeats calls that failed transiently.
func RetryableOnly(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return retry.NonRetryable(err)
}
