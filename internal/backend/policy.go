// ABOUTME: Per-adapter timeout and retry policy
// ABOUTME: Runs each attempt under its own deadline and retries transient failures at most once

package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Default per-adapter timeouts
const (
	DefaultAdvisoryTimeout = 20 * time.Second
	DefaultVisionTimeout   = 12 * time.Second
	DefaultWeatherTimeout  = 5 * time.Second
)

// maxRetries caps Policy.MaxRetries
const maxRetries = 1

// Policy controls how an adapter call is attempted
type Policy struct {
	Timeout    time.Duration // per attempt; zero means no deadline beyond the caller's
	MaxRetries int           // retries after the first attempt, clamped to [0, 1]
	Backoff    time.Duration // pause before a retry
}

func (p Policy) retries() int {
	switch {
	case p.MaxRetries < 0:
		return 0
	case p.MaxRetries > maxRetries:
		return maxRetries
	default:
		return p.MaxRetries
	}
}

// run executes fn under the policy. Errors from fn that are not already *Error
// are treated as malformed responses.
func run[T any](ctx context.Context, p Policy, adapter string, logger *slog.Logger, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr *Error

	attempts := 1 + p.retries()
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if p.Backoff > 0 {
				select {
				case <-ctx.Done():
					return zero, lastErr
				case <-time.After(p.Backoff):
				}
			}
			logger.Warn("retrying adapter call",
				"adapter", adapter,
				"attempt", attempt,
				"kind", lastErr.Kind,
				"error", lastErr.Err)
		}

		res, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			return res, nil
		}

		lastErr = asAdapterError(adapter, err)

		// Caller gave up; no point retrying
		if ctx.Err() != nil || !lastErr.Transient() {
			break
		}
	}

	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := fn(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !IsKind(err, KindTimeout) {
		var zero T
		return zero, &Error{Kind: KindTimeout, Err: err}
	}
	return res, err
}

func asAdapterError(adapter string, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Adapter == "" {
			ae.Adapter = adapter
		}
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(adapter, KindTimeout, err)
	}
	return newError(adapter, KindMalformedResponse, err)
}
