package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/operator"
)

type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Retry runs fn until it succeeds, returns a permanent error or the policy
// runs out of attempts. Business rejections are never retried.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	if policy.MaxInterval > 0 {
		exp.MaxInterval = policy.MaxInterval
	}
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(policy.MaxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case models.IsBusiness(err), errors.Is(err, operator.ErrRejected):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
