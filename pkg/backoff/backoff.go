// Package backoff provides exponential backoff and a bounded retry loop.
package backoff

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 50ms
	Max     time.Duration // default: 1s
}

const (
	defaultInitial = 50 * time.Millisecond
	defaultMax     = time.Second
)

// Exponential calculates the delay before the given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, capped at max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := defaultInitial
	maxBackoff := defaultMax
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}
	return time.Duration(d)
}

// Retry calls fn up to maxAttempts times, sleeping between attempts while
// retryable(err) holds. It returns the last error, or ctx.Err() if the
// context ends while waiting.
func Retry(ctx context.Context, maxAttempts int, cfg *Config, retryable func(error) bool, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil || !retryable(err) || attempt == maxAttempts {
			return err
		}

		timer := time.NewTimer(Exponential(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
