// Package common holds the error values, retry loop and logging setup shared by
// every nexus package.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Storage errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDatabaseBusy      = errors.New("database busy")
	ErrDatabaseCorrupted = errors.New("database corrupted")
)

// ErrNoTransactions is returned when a run is requested for an analysis with
// no imported sales.
var ErrNoTransactions = errors.New("no transactions to analyze")

// Configuration errors.
var (
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError carries a message meant for the person at the terminal or the API
// client, alongside the underlying cause.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.UserMessage
	}
	return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
}

func (e *UserError) Unwrap() error { return e.Err }

// NewUserError wraps err with a message suitable for display.
func NewUserError(userMessage string, err error) error {
	return &UserError{UserMessage: userMessage, Err: err}
}

// RetryableError lets a caller mark an arbitrary error as transient or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth another attempt. A locked database
// and a timed-out statement are; an explicit RetryableError decides for itself.
func IsRetryable(err error) bool {
	var marked *RetryableError
	if errors.As(err, &marked) {
		return marked.Retryable
	}
	return errors.Is(err, ErrDatabaseBusy) || errors.Is(err, context.DeadlineExceeded)
}
