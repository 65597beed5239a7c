package db

import (
	"context"
	"math"
	"time"
)

// One retry routine serves every retry loop in this package. It is driven
// entirely by the caller's context, so it behaves the same whether the
// caller blocks a worker thread or cooperates on an event loop.

// BackoffFunc returns the delay to apply after the given zero-based attempt.
type BackoffFunc func(attempt int) time.Duration

const maxBackoffShift = 62

// ExponentialBackoff returns a backoff schedule of base * 2^attempt,
// capped at max. A non-positive max leaves the schedule uncapped.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if base <= 0 {
			return 0
		}
		if attempt < 0 {
			attempt = 0
		} else if attempt > maxBackoffShift {
			attempt = maxBackoffShift
		}

		multiplier := int64(1) << attempt
		d := time.Duration(math.MaxInt64)
		if int64(base) <= math.MaxInt64/multiplier {
			d = base * time.Duration(multiplier)
		}

		if max > 0 && d > max {
			d = max
		}
		return d
	}
}

// Retry runs op up to attempts times, sleeping per the backoff schedule
// between failures. It returns nil on the first success, the context error
// if the caller is cancelled (including mid-sleep), and otherwise the error
// from the final attempt.
func Retry(ctx context.Context, attempts int, backoff BackoffFunc, op func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		if err = op(ctx); err == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}

		if serr := sleepContext(ctx, backoff(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

// sleepContext sleeps for the given duration but returns early with the
// context error if the context is done first. Zero or negative durations
// return immediately.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
