// Package retry wraps avast/retry-go with a fixed-attempt, exponential
// back-off policy for transient backend errors.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v5"
)

// Retryer re-runs an operation a bounded number of times. The zero
// value is not usable; build one with New.
type Retryer struct {
	attempts  uint
	baseDelay time.Duration
	maxDelay  time.Duration
	retryIf   func(error) bool
}

// Option configures a Retryer.
type Option func(*Retryer)

// WithAttempts sets the total number of tries (first call included).
// 1 disables retrying.
func WithAttempts(n uint) Option {
	return func(r *Retryer) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBackoff sets the initial and maximum delays between tries.
func WithBackoff(base, max time.Duration) Option {
	return func(r *Retryer) {
		if base > 0 {
			r.baseDelay = base
		}
		if max > 0 {
			r.maxDelay = max
		}
	}
}

// WithRetryIf limits which errors are retried; others return
// immediately. Default retries everything except context cancellation.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retryer) { r.retryIf = fn }
}

// New builds a Retryer: 3 attempts, 50ms base delay doubling up to 1s,
// unless overridden.
func New(opts ...Option) *Retryer {
	r := &Retryer{
		attempts:  3,
		baseDelay: 50 * time.Millisecond,
		maxDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is
// cancelled. The last error is returned unwrapped.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retrygo.New(
		retrygo.Context(ctx),
		retrygo.Attempts(r.attempts),
		retrygo.Delay(r.baseDelay),
		retrygo.MaxDelay(r.maxDelay),
		retrygo.DelayType(retrygo.BackOffDelay),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			if r.retryIf != nil {
				return r.retryIf(err)
			}
			return true
		}),
	).Do(func() error { return fn(ctx) })
}
