// Package retry provides bounded retries with exponential backoff for
// transient network faults.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config holds retry tuning.
type Config struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Jitter      float64 // 0-1 fraction of the computed wait
}

// DefaultConfig matches what the GitHub client uses for connection-level
// failures: three attempts, 100ms initial wait, doubling.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// DoWithResult runs fn until it succeeds, returns a non-retryable error, or
// attempts are exhausted. retryable decides eligibility per error.
func DoWithResult[T any](ctx context.Context, cfg Config, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		wait := float64(cfg.InitialWait) * math.Pow(cfg.Multiplier, float64(attempt-1))
		if wait > float64(cfg.MaxWait) {
			wait = float64(cfg.MaxWait)
		}
		if cfg.Jitter > 0 {
			wait += wait * cfg.Jitter * (rand.Float64()*2 - 1)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(time.Duration(wait)):
		}
	}

	return zero, lastErr
}
