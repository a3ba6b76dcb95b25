package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMaxRetries is wrapped around the last error once every attempt failed.
var ErrMaxRetries = errors.New("max retries exceeded")

// RetryOptions bounds WithRetry. Zero fields fall back to defaultRetry.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

var defaultRetry = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2,
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultRetry.MaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaultRetry.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultRetry.MaxDelay
	}
	if o.Multiplier <= 0 {
		o.Multiplier = defaultRetry.Multiplier
	}
	return o
}

// backoff returns the wait before the given retry, counting from one.
func (o RetryOptions) backoff(retry int) time.Duration {
	delay := float64(o.InitialDelay)
	for i := 1; i < retry; i++ {
		delay *= o.Multiplier
		if delay >= float64(o.MaxDelay) {
			return o.MaxDelay
		}
	}
	return time.Duration(delay)
}

// WithRetry runs fn until it succeeds, returns an error IsRetryable rejects,
// or runs out of attempts. Waiting between attempts honours ctx.
func WithRetry(ctx context.Context, fn func() error, opts RetryOptions) error {
	opts = opts.withDefaults()

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, attempt, err)
		}

		wait := opts.backoff(attempt)
		slog.Warn("Retrying after transient error",
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"wait", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
