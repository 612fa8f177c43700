// Package retry runs calls to external services with bounded exponential
// backoff, jitter and a timeout per attempt.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy controls how often and how patiently a call is retried.
type Policy struct {
	MaxAttempts int           // total attempts including the first (minimum 1)
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap on any single delay
	Timeout     time.Duration // per-attempt deadline, 0 disables it
}

// DefaultPolicy returns the policy used for embedding calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Timeout:     15 * time.Second,
	}
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// attempts run out. It returns the number of attempts made and the last
// error. Cancelling ctx stops the wait between attempts.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = call(ctx, p.Timeout, fn)
		if err == nil {
			return attempt + 1, nil
		}
		if retryable != nil && !retryable(err) {
			return attempt + 1, err
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(Backoff(p.BaseDelay, p.MaxDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, err
		case <-timer.C:
		}
	}
	return attempts, err
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var out T
	n, err := Do(ctx, p, retryable, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, n, err
}

func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// Backoff computes min(base * 2^attempt, max) with +/-25% jitter.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base << uint(attempt)
	if delay <= 0 || (max > 0 && delay > max) {
		delay = max
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}
	return delay
}
