package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/iKryptonic/RBXStateMachine/internal/logging"
)

// RetryConfig configures exponential backoff retry behavior. The
// KV-store adapter (§2) uses this to implement the spec's "retry"
// requirement around the abstract store.
type RetryConfig struct {
	MaxAttempts  int           // maximum retry attempts beyond the first try (default: 3)
	BaseDelay    time.Duration // base delay for exponential backoff (default: 1s)
	MaxDelay     time.Duration // ceiling on backoff delay (default: 30s)
	JitterFactor float64       // randomization applied to each delay (default: 0.25 = +/-25%)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with exponential backoff, stopping early on a
// permanent (non-transient) error.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	return RetryWithLog(ctx, config, fn, nil)
}

// RetryWithLog is Retry with an explicit logger; a nil logger falls
// back to a component logger tagged "retry".
func RetryWithLog(ctx context.Context, config RetryConfig, fn RetryableFunc, logger logging.Logger) error {
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("retry")
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if attempt == 0 {
			logger.Debug("executing (attempt 1/%d)", config.MaxAttempts+1)
		} else {
			logger.Debug("retrying (attempt %d/%d)", attempt+1, config.MaxAttempts+1)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded after %d attempts", attempt+1)
			}
			return nil
		}

		lastErr = err
		logger.Debug("attempt %d failed: %v", attempt+1, err)

		if !IsTransient(err) {
			logger.Debug("error is not transient, stopping retries")
			return err
		}

		if attempt == config.MaxAttempts {
			logger.Warn("max retries (%d) exhausted", config.MaxAttempts+1)
			break
		}

		delay := calculateBackoff(attempt, config)
		logger.Debug("waiting %v before next retry", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// RetryWithResult is Retry for functions that also return a value.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-time.After(calculateBackoff(attempt, config)):
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// RetryStats reports how a RetryWithStats call played out.
type RetryStats struct {
	TotalAttempts     int
	SuccessfulRetries int // 1 if the call eventually succeeded after at least one retry
	FailedRetries     int // 1 if all attempts were exhausted without success
}

// RetryWithStats is Retry but also reports attempt counts, useful for
// the scheduler's per-task dispatch metrics.
func RetryWithStats(ctx context.Context, config RetryConfig, fn RetryableFunc) (RetryStats, error) {
	var stats RetryStats

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return stats, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		stats.TotalAttempts++
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				stats.SuccessfulRetries = 1
			}
			return stats, nil
		}

		if !IsTransient(err) {
			return stats, err
		}
		if attempt == config.MaxAttempts {
			stats.FailedRetries = 1
			return stats, fmt.Errorf("max retries exceeded: %w", err)
		}

		select {
		case <-time.After(calculateBackoff(attempt, config)):
		case <-ctx.Done():
			return stats, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return stats, nil
}

// ShouldRetry reports whether another attempt should be made given the
// error from the most recent attempt and how many attempts have run.
func ShouldRetry(err error, attemptNumber, maxAttempts int) bool {
	if err == nil {
		return false
	}
	if attemptNumber >= maxAttempts {
		return false
	}
	return IsTransient(err)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(config.BaseDelay) * multiplier)
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		jitterAmount := (rand.Float64()*2 - 1) * jitter
		delay = time.Duration(float64(delay) + jitterAmount)
		if delay < 0 {
			delay = config.BaseDelay
		}
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return delay
}
