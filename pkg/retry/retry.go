// Package retry provides bounded retry combinators built on failsafe-go
package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryPolicy defines how to retry an operation
type RetryPolicy struct {
	MaxAttempts int
	// Delay is used as a fixed delay when MaxBackoff is zero, otherwise as
	// the initial delay of an exponential backoff capped at MaxBackoff.
	Delay      time.Duration
	MaxBackoff time.Duration
}

// DefaultPolicy retries three times with exponential backoff
var DefaultPolicy = RetryPolicy{
	MaxAttempts: 3,
	Delay:       100 * time.Millisecond,
	MaxBackoff:  2 * time.Second,
}

// Fixed returns a policy of n attempts separated by a constant delay
func Fixed(attempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Delay: delay}
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Always retries every error
func Always(err error) bool { return err != nil }

func build[T any](policy RetryPolicy, isTransient IsTransientFunc) retrypolicy.RetryPolicy[T] {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := retrypolicy.NewBuilder[T]().
		HandleIf(func(_ T, err error) bool {
			return err != nil && isTransient(err)
		}).
		WithMaxAttempts(attempts).
		ReturnLastFailure()

	switch {
	case policy.MaxBackoff > 0 && policy.Delay > 0:
		b = b.WithBackoff(policy.Delay, policy.MaxBackoff)
	case policy.Delay > 0:
		b = b.WithDelay(policy.Delay)
	}
	return b.Build()
}

// Get runs fn until it succeeds, returns a non-transient error, or the
// attempts are exhausted. Delays between attempts end early when ctx is done.
func Get[T any](ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func(context.Context) (T, error)) (T, error) {
	if isTransient == nil {
		isTransient = Always
	}
	return failsafe.With[T](build[T](policy, isTransient)).
		WithContext(ctx).
		Get(func() (T, error) {
			if err := ctx.Err(); err != nil {
				var zero T
				return zero, err
			}
			return fn(ctx)
		})
}

// Do is Get for operations without a result
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func(context.Context) error) error {
	_, err := Get(ctx, policy, isTransient, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
