// Package retry runs operations again after transient failures with
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool
	// ShouldRetry limits retries to matching errors. Nil retries every
	// non-permanent error.
	ShouldRetry func(error) bool
	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Once retries a single time after delay. Used where a conflict is expected
// to clear after the competing writer commits.
func Once(delay time.Duration, shouldRetry func(error) bool) Config {
	return Config{
		MaxAttempts:  2,
		InitialDelay: delay,
		MaxDelay:     delay,
		Factor:       1,
		Jitter:       true,
		ShouldRetry:  shouldRetry,
	}
}

// Result contains the outcome of a retry operation.
// Err is the last error, nil on success.
type Result struct {
	Attempts int
	Err      error
	Duration time.Duration
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// Delay returns the un-jittered pause after the given failed attempt (1-based).
func (c Config) Delay(attempt int) time.Duration {
	c = c.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialDelay) * math.Pow(c.Factor, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// Do executes op until it succeeds, fails permanently, or attempts run out.
func Do(ctx context.Context, config Config, op func() error) Result {
	start := time.Now()
	config = config.normalized()
	result := Result{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		err := op()
		result.Err = err
		if err == nil || IsPermanent(err) {
			break
		}
		if config.ShouldRetry != nil && !config.ShouldRetry(err) {
			break
		}
		if attempt == config.MaxAttempts {
			break
		}

		sleep := config.Delay(attempt)
		if config.Jitter {
			sleep = time.Duration(float64(sleep) * (0.5 + rand.Float64())) // #nosec G404 -- jitter does not require cryptographic randomness
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-timer.C:
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
