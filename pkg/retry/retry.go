package retry

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines how to retry an operation
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is the exchange-call retry policy of spec §7: base 1s,
// cap 30s, at most 3 attempts per request.
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
}

// RateLimitPolicy is used once a 429-equivalent response is observed;
// spec §7 specifies a backoff 3x the normal policy.
var RateLimitPolicy = RetryPolicy{
	MaxAttempts:    DefaultPolicy.MaxAttempts,
	InitialBackoff: DefaultPolicy.InitialBackoff * 3,
	MaxBackoff:     DefaultPolicy.MaxBackoff * 3,
}

// Schedule returns the backoff duration for a fixed, discrete retry
// schedule such as the grid bot's follow-up backoff (spec §4.2:
// [2, 5, 15, 30, 60] minutes) or the stop-loss executor's market-sell
// backoff (spec §4.8: [2, 5, 10] seconds). attempt is 1-indexed; once
// attempt exceeds len(schedule) the last entry is reused.
func Schedule(schedule []time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Do executes a function with retries according to the policy
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		// Calculate jittered backoff: backoff + random(0, 50% of backoff)
		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		sleepTime := backoff + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
