// Package retry provides bounded retry loops with fixed or exponential
// backoff and optional jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first one.
	// Zero means retry until the operation succeeds, fails permanently or
	// the context is done.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts. Zero disables the cap.
	MaxBackoff time.Duration
	// Multiplier grows the delay after every failed attempt. Values <= 1
	// keep the delay fixed.
	Multiplier float64
	// JitterFraction is the fraction of backoff used for jitter (0.0-1.0).
	JitterFraction float64
	// Sleep waits between attempts. Nil uses SleepContext.
	Sleep Sleeper
	// OnRetry, if set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Sleeper blocks for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// DefaultConfig returns exponential backoff defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    6,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2, // +/- 20% jitter
	}
}

// Fixed returns a config making at most attempts tries with a constant delay
// between them and no jitter.
func Fixed(attempts int, delay time.Duration) Config {
	return Config{
		MaxAttempts:    attempts,
		InitialBackoff: delay,
		Multiplier:     1,
	}
}

// ErrorClassifier determines if an error is retryable.
type ErrorClassifier func(error) bool

// IsRetryable is the default classifier: everything except context errors.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Do executes fn with retry logic, using classifier to decide whether a
// failed attempt may be retried. It returns nil on success, the error itself
// when it is permanent, the context error when ctx is done while waiting, and
// a *RetryableError once the attempts are exhausted.
func Do(ctx context.Context, cfg Config, classifier ErrorClassifier, fn func(context.Context) error) error {
	if classifier == nil {
		classifier = IsRetryable
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	backoff := cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !classifier(err) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return &RetryableError{Err: err, Attempts: attempt}
		}

		wait := backoff + jitter(backoff, cfg.JitterFraction)
		if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}
		if wait < 0 {
			wait = 0
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}

		if cfg.Multiplier > 1 {
			backoff = time.Duration(float64(backoff) * cfg.Multiplier)
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}
}

// SleepContext waits for d or returns ctx.Err() if ctx is done first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jitter returns a random duration in range [-jitterFraction*d, +jitterFraction*d].
func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return 0
	}
	jitterRange := float64(d) * fraction
	jitterValue := (rand.Float64() - 0.5) * 2 * jitterRange
	return time.Duration(jitterValue)
}

// RetryableError reports an operation that kept failing with retryable
// errors until the attempt budget ran out.
type RetryableError struct {
	Err      error
	Attempts int
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
