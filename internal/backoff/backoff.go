// Package backoff computes redial delays for callers that reconnect after a
// channel disconnects. Channels never retry on their own.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var ErrExhausted = errors.New("backoff: attempts exhausted")

// Config defines retry backoff behavior.
type Config struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
	Jitter       bool
}

func DefaultConfig() Config {
	return Config{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// NextDelay returns the retry delay for attempt N (1-based).
func NextDelay(cfg Config, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempt is past MaxAttempts. Zero means unlimited.
func (c Config) Exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt > c.MaxAttempts
}

// Retry runs op until it returns nil or an error retryable rejects, sleeping
// NextDelay between attempts. onRetry, if set, sees each failure before the
// sleep. Running out of attempts yields an error matching both ErrExhausted and
// the last failure.
func Retry(ctx context.Context, cfg Config, retryable func(error) bool, onRetry func(attempt int, delay time.Duration, err error), op func(attempt int) error) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		err := op(attempt)
		if err == nil || (retryable != nil && !retryable(err)) {
			return err
		}
		if cfg.Exhausted(attempt + 1) {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}
		delay := NextDelay(cfg, attempt, rng)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
