package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig is the retry policy for a remote lookup. Zero fields take the
// values from DefaultRetryConfig.
type RetryConfig struct {
	// MaxAttempts counts the first call. 1 disables retries.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry; each later wait is
	// Multiplier times the previous one, up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// JitterFraction spreads each wait by up to ±fraction of its length.
	JitterFraction float64

	// ShouldRetry defaults to IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry runs before each wait with the 1-based retry number.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry policy used for remote chemistry
// services: three attempts spaced 300ms, 600ms apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 300 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
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
	if c.ShouldRetry == nil {
		c.ShouldRetry = IsTransient
	}
	return c
}

// Do calls fn until it succeeds, returns an error ShouldRetry rejects, the
// attempts run out, or ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	for attempt := 0; ; attempt++ {
		val, err := fn(ctx)
		switch {
		case err == nil:
			return val, nil
		case ctx.Err() != nil,
			!cfg.ShouldRetry(err),
			attempt+1 >= cfg.MaxAttempts:
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}
		if !sleep(ctx, waitFor(attempt, err, cfg)) {
			return zero, err
		}
	}
}

// waitFor picks the delay before retry attempt+1: the exponential backoff,
// stretched to the server's Retry-After hint, never beyond MaxBackoff.
func waitFor(attempt int, err error, cfg RetryConfig) time.Duration {
	d := computeBackoff(attempt, cfg)
	if hint := retryAfterHint(err); hint > d {
		d = min(hint, cfg.MaxBackoff)
	}
	return d
}

func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := math.Min(
		float64(cfg.InitialBackoff)*math.Pow(cfg.Multiplier, float64(attempt)),
		float64(cfg.MaxBackoff),
	)
	if cfg.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * cfg.JitterFraction
	}
	return time.Duration(math.Max(delay, 0))
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryLogger returns an OnRetry callback that logs each retry at warn level.
func RetryLogger(service, operation string) func(int, error) {
	log := zap.L().With(zap.String("service", service), zap.String("operation", operation))
	return func(attempt int, err error) {
		log.Warn("retrying request", zap.Int("attempt", attempt), zap.Error(err))
	}
}
