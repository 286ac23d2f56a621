package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	MaxAttempts     int              `json:"max_attempts"`
	InitialDelay    time.Duration    `json:"initial_delay"`
	MaxDelay        time.Duration    `json:"max_delay"`
	BackoffFactor   float64          `json:"backoff_factor"`
	JitterEnabled   bool             `json:"jitter_enabled"`
	RetryableErrors func(error) bool `json:"-"`
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// RetryWithConfig executes a function with retry logic using custom configuration
func RetryWithConfig(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.RetryableErrors == nil {
		config.RetryableErrors = apperrors.IsRetryableError
	}

	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !config.RetryableErrors(err) {
			break
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(calculateDelay(config, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt)))

	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	// up to 10% jitter
	if config.JitterEnabled && delay >= 10 {
		delay += time.Duration(rand.Int63n(int64(delay / 10)))
	}

	return delay
}

// RetryPolicy defines different retry strategies
type RetryPolicy struct {
	Name   string
	Config RetryConfig
}

var (
	// FastRetryPolicy for quick-retry scenarios
	FastRetryPolicy = RetryPolicy{
		Name: "fast",
		Config: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      1 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
	}

	// StandardRetryPolicy for general use cases
	StandardRetryPolicy = RetryPolicy{
		Name: "standard",
		Config: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
	}

	// SlowRetryPolicy for external APIs that need longer delays
	SlowRetryPolicy = RetryPolicy{
		Name: "slow",
		Config: RetryConfig{
			MaxAttempts:   5,
			InitialDelay:  1 * time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 1.5,
			JitterEnabled: true,
		},
	}

	// PersistRetryPolicy retries local store writes that follow an accepted ledger write.
	// Every error except cancellation is retried.
	PersistRetryPolicy = RetryPolicy{
		Name: "persist",
		Config: RetryConfig{
			MaxAttempts:     5,
			InitialDelay:    50 * time.Millisecond,
			MaxDelay:        2 * time.Second,
			BackoffFactor:   2.0,
			JitterEnabled:   true,
			RetryableErrors: retryUnlessCancelled,
		},
	}
)

func retryUnlessCancelled(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// RetryWithPolicy executes a function with a predefined retry policy
func RetryWithPolicy(ctx context.Context, policy RetryPolicy, fn RetryableFunc) error {
	return RetryWithConfig(ctx, policy.Config, fn)
}
