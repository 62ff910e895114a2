package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
)

// RetryPolicy bounds RetryTransient.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used by the CLI.
func DefaultRetryPolicy(maxTries uint) RetryPolicy {
	return RetryPolicy{
		MaxTries:        maxTries,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// RetryTransient runs op until it succeeds, fails with a non-transient
// error, or the policy is exhausted. Only lock contention is retried; every
// other error is returned after the first attempt.
func RetryTransient[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	maxTries := policy.MaxTries
	if maxTries == 0 {
		maxTries = 1
	}
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}
	return backoff.Retry(ctx, func() (T, error) {
		value, err := op(ctx)
		if err != nil && !apperrors.IsTransient(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
}
