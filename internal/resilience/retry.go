package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig is the retry policy for a geocoding provider.
type RetryConfig struct {
	// MaxAttempts counts the first call.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// JitterFraction spreads each computed wait by ±fraction.
	JitterFraction float64

	// ShouldRetry replaces IsTransient when set.
	ShouldRetry func(err error) bool

	// OnRetry runs before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultRetryConfig returns the policy used when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// FromRetryConfig builds a RetryConfig from the geocode.retry settings.
// Zero values keep the defaults.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// DoVal calls fn until it succeeds, fails permanently, or runs out of
// attempts, and returns fn's last result. Between attempts it waits for the
// longer of the exponential backoff and any Retry-After the provider sent,
// never beyond MaxBackoff. Cancelling ctx ends the loop at once.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var (
		val T
		err error
	)
	for attempt := 1; ; attempt++ {
		val, err = fn(ctx)
		if err == nil || attempt >= cfg.MaxAttempts || ctx.Err() != nil || !retryable(err) {
			return val, err
		}

		wait := cfg.wait(attempt, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, wait, err)
		}
		if !sleep(ctx, wait) {
			return val, err
		}
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	c.JitterFraction = max(c.JitterFraction, 0)
	return c
}

// wait returns the pause after the given failed attempt (1-based).
func (c RetryConfig) wait(attempt int, err error) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt-1))
	if c.JitterFraction > 0 {
		d += (rand.Float64()*2 - 1) * d * c.JitterFraction
	}
	wait := time.Duration(max(d, 0))
	wait = max(wait, RetryAfterOf(err))
	return min(wait, c.MaxBackoff)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RetryLogger returns an OnRetry callback that logs each retry.
func RetryLogger(logger *zap.Logger, provider string) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, err error) {
		logger.Warn("retrying geocode request",
			zap.String("provider", provider),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}
