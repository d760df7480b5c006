// Package retry runs an operation again with exponential backoff until it
// succeeds, the attempts are used up, or the context ends.
//
//	err := retry.WithRetry(ctx, func() error {
//		return connect()
//	}, retry.DefaultBackoffConfig())
//
// Returning retry.Stop(err) from the operation ends the loop at once. The
// account store never retries on its own. Only process startup uses this,
// to wait for a database that is still coming up.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/grufocom/postsible/logger"
)

type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
	MaxRetries      int
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		MaxRetries:      5,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return c.jitter(c.InitialInterval)
	}
	interval := float64(c.InitialInterval) * math.Pow(c.Multiplier, float64(attempt-1))
	if max := float64(c.MaxInterval); c.MaxInterval > 0 && interval > max {
		interval = max
	}
	return c.jitter(time.Duration(interval))
}

// jitter keeps the delay in [d/2, d).
func (c BackoffConfig) jitter(d time.Duration) time.Duration {
	if !c.Jitter || d < 2 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)))
}

// StopError marks an error that must not be retried.
type StopError struct {
	Err error
}

func (s StopError) Error() string { return s.Err.Error() }

func (s StopError) Unwrap() error { return s.Err }

// Stop wraps err so WithRetry returns it without further attempts.
func Stop(err error) error {
	return StopError{Err: err}
}

func IsStopError(err error) bool {
	var stop StopError
	return errors.As(err, &stop)
}

// WithRetry calls fn until it returns nil. The error of the last attempt is
// wrapped in the returned error.
func WithRetry(ctx context.Context, fn func() error, config BackoffConfig) error {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(config.Delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled by context: %w (last error: %v)", ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		var stop StopError
		if errors.As(err, &stop) {
			return stop.Err
		}
		lastErr = err
		if attempt < config.MaxRetries {
			logger.Warn("Retry: attempt failed", "attempt", attempts, "max", config.MaxRetries+1, "error", err)
		}
	}
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}
