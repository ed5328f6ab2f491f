package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ErrNotRetryable marks an error that must end the retry loop immediately.
var ErrNotRetryable = errors.New("not retryable")

type Config struct {
	MaxAttempts int
	// BaseDelay is scaled by 2^attempt, so the wait before the second
	// attempt is 2*BaseDelay and before the third 4*BaseDelay.
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
	Retryable      func(error) bool
	Logger         *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Logger:      zap.NewNop(),
	}
}

// Backoff returns the wait that precedes the given zero-based attempt.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

func Do(ctx context.Context, cfg Config, operation func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := addJitter(cfg.Backoff(attempt), cfg.JitterFraction)
			cfg.Logger.Warn("Operation failed, retrying",
				zap.Error(lastErr),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", cfg.MaxAttempts),
				zap.Duration("delay", delay),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(attempt)
		if err == nil {
			if attempt > 0 {
				cfg.Logger.Info("Operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err, cfg.Retryable) {
			cfg.Logger.Debug("Error not retryable", zap.Error(err), zap.Int("attempt", attempt+1))
			return err
		}
	}

	return lastErr
}

func DoWithResult[T any](ctx context.Context, cfg Config, operation func(attempt int) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(attempt int) error {
		var err error
		result, err = operation(attempt)
		return err
	})
	return result, err
}

func isRetryable(err error, retryable func(error) bool) bool {
	if errors.Is(err, ErrNotRetryable) || errors.Is(err, context.Canceled) {
		return false
	}
	if retryable == nil {
		return true
	}
	return retryable(err)
}

func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 || duration <= 0 {
		return duration
	}

	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	if rand.Intn(2) == 0 {
		return duration - jitter
	}
	return duration + jitter
}
