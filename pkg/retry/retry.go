package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts        int           // Total attempts; 0 means retry until the context ends
	InitialDelay       time.Duration // Delay after the first failure
	MaxDelay           time.Duration // Upper bound for a single delay (0 = no cap)
	Multiplier         float64       // Backoff multiplier; 1 gives a fixed interval
	Jitter             bool          // Spread delays by up to ±25%
	NonRetryableErrors []error       // Matched with errors.Is
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Fixed returns an unbounded fixed-interval configuration.
func Fixed(interval time.Duration) Config {
	return Config{InitialDelay: interval, Multiplier: 1}
}

// Exhausted reports whether attempt (1-based count of attempts made) has used up the budget.
func (c Config) Exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt >= c.MaxAttempts
}

// Backoff returns the delay to wait after the given failed attempt (0-based).
func (c Config) Backoff(attempt int) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(c.InitialDelay) * math.Pow(mult, float64(attempt))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	d := time.Duration(delay)
	if c.Jitter && d > 0 {
		quarter := int64(d / 4)
		if quarter > 0 {
			d = d - time.Duration(quarter) + time.Duration(rand.Int63n(2*quarter))
		}
	}
	return d
}

// Retry executes fn until it succeeds, a non-retryable error is returned,
// the attempt budget is spent or ctx is done.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions that return a value.
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, lastErr)
			}
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if isNonRetryable(err, cfg.NonRetryableErrors) {
			return zero, err
		}
		if cfg.Exhausted(attempt + 1) {
			return zero, fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
		}

		timer := time.NewTimer(cfg.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled during wait: %w", lastErr)
		case <-timer.C:
		}
	}
}

func isNonRetryable(err error, nonRetryable []error) bool {
	for _, target := range nonRetryable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
