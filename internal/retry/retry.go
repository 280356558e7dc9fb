// Package retry provides exponential backoff for read-only calls against the backing store.
//
// Writes must never go through this package: a commit whose acknowledgement was lost
// would be appended twice.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	perrors "github.com/p-blackswan/codevault/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultConfig returns the read-path defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Jitter:      true,
	}
}

// Read executes fn with exponential backoff and returns its value.
// Only errors classified by perrors.IsRetryable are retried.
func Read[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		val T
		err error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		val, err = fn(ctx)
		if err == nil || !perrors.IsRetryable(err) {
			return val, err
		}
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return val, ctx.Err()
		case <-time.After(cfg.backoff(attempt)):
		}
	}
	return val, err
}

// Do is Read for calls that only return an error.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := Read(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (c Config) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}
