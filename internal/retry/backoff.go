package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	MaxRetries int           `json:"max_retries"` // Total attempt budget, including the first call (default: 3)
	BaseDelay  time.Duration `json:"base_delay"`  // Base delay between retries (default: 1s)
	MaxDelay   time.Duration `json:"max_delay"`   // Maximum delay between retries (default: 30s)
	Multiplier float64       `json:"multiplier"`  // Exponential backoff multiplier (default: 2.0)
	Jitter     bool          `json:"jitter"`      // Add random jitter to prevent thundering herd (default: true)

	// OnRetry is called after each retryable failure, before the backoff
	// delay. attempt counts from 1.
	OnRetry func(attempt int, err error) `json:"-"`
}

// Classifier decides whether an error aborts the retry loop immediately.
type Classifier func(err error) bool

// DefaultConfig returns a retry configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// ModelConfig returns a retry configuration tuned for model inference
// requests, which are slower and favor longer delays.
func ModelConfig(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
	}
}

// Do executes operation at most config.MaxRetries times with exponential
// backoff between attempts. A nil error stops the loop and so does any error
// fatal reports as non-retryable. The last error seen is returned after the
// attempt budget is spent.
func Do(ctx context.Context, config Config, operation func() error, fatal Classifier) error {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 1 {
				log.Debug().Int("attempts", attempt).Msg("operation succeeded after retrying")
			}
			return nil
		}
		lastErr = err

		if fatal != nil && fatal(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn().Err(err).Int("attempt", attempt).Int("max", config.MaxRetries).
			Msg("caught retryable error, backing off")
		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(calculateDelay(config, attempt-1)):
		}
	}
	log.Error().Err(lastErr).Int("attempts", config.MaxRetries).Msg("retry budget exhausted")
	return lastErr
}

// calculateDelay calculates the delay for the next retry attempt using
// exponential backoff.
func calculateDelay(config Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	// Up to 10% random jitter to prevent thundering herd.
	if config.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}
