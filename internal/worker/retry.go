// Package worker consumes action jobs from the queue and drives them through
// their dispatcher under a retry policy, logging every terminal outcome and
// dead-lettering permanent failures.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/R3E-Network/triggerflow/internal/actions"
)

// RetryPolicy bounds attempts and backoff for retryable dispatch failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64 // 0-1, adds randomness
}

// DefaultRetryPolicy returns sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// ExecuteWithRetry runs fn under the policy. Non-retryable failures
// short-circuit immediately; retryable ones back off exponentially between
// attempts. Returns the attempt count alongside the final error.
func ExecuteWithRetry(ctx context.Context, policy RetryPolicy, fn func() error) (int, error) {
	var lastErr error
	delay := policy.InitialBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !actions.IsRetryable(err) {
			return attempt, err
		}

		if attempt < policy.MaxAttempts {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(addJitter(delay, policy.Jitter)):
			}
			delay = nextDelay(delay, policy)
		}
	}
	return policy.MaxAttempts, lastErr
}

func nextDelay(current time.Duration, policy RetryPolicy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxBackoff {
		return policy.MaxBackoff
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
