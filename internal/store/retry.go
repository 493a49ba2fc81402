package store

import (
	"context"
	"time"

	"go.uber.org/zap"
	"storyloom/pkg/errors"
)

// RetryPolicy bounds how often a store call or an optimistic transaction
// is re-attempted before its failure is surfaced.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy matches the documented bound: 3 attempts with
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = 50 * time.Millisecond
	}
	return p
}

// sleep waits for the backoff of the given attempt (0-based), doubling per
// attempt, unless the context ends first.
func (p RetryPolicy) sleep(ctx context.Context, attempt int) error {
	d := p.Backoff << attempt
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryOnConflict runs fn until it succeeds, fails with a non-conflict
// error, or exhausts the policy. Exhaustion surfaces the last conflict.
func RetryOnConflict(ctx context.Context, logger *zap.Logger, policy RetryPolicy, resource string, fn func() error) error {
	policy = policy.normalize()
	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.IsKind(lastErr, errors.KindConflict) {
			return lastErr
		}
		if attempt < policy.Attempts-1 {
			logger.Debug("version conflict, retrying",
				zap.String("resource", resource),
				zap.Int("attempt", attempt+1),
			)
			if err := policy.sleep(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return errors.NewConflict(resource, policy.Attempts, lastErr)
}

// retryTransient runs a store call that may fail transiently (connection
// reset, lock timeout) and escalates to StoreUnavailable after the policy
// is exhausted. isTransient decides which failures are worth retrying.
func retryTransient(ctx context.Context, logger *zap.Logger, policy RetryPolicy, op string, isTransient func(error) bool, fn func() error) error {
	policy = policy.normalize()
	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < policy.Attempts-1 {
			logger.Warn("transient store fault, retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
			if err := policy.sleep(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return errors.NewStoreUnavailable(op, policy.Attempts, lastErr)
}
