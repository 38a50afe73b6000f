package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded is returned by Poll when the condition never held.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

var errNotReady = errors.New("condition not met")

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts counts the first call. Zero means 3.
	MaxAttempts int
	// InitialBackoff is the delay after the first failure.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay.
	MaxBackoff time.Duration
	// BackoffFactor multiplies the delay after every failure.
	BackoffFactor float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
	// RetryIf reports whether err is worth another attempt.
	RetryIf func(error) bool
	// OnRetry runs before sleeping.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryConfig returns exponential backoff starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        DefaultRetryIf,
	}
}

// FixedDelayConfig retries every interval, without growth or jitter.
func FixedDelayConfig(attempts int, interval time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: interval,
		MaxBackoff:     interval,
		BackoffFactor:  1.0,
	}
}

// DefaultRetryIf retries everything but context errors.
func DefaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.RetryIf == nil {
		c.RetryIf = d.RetryIf
	}
	return c
}

// Retry calls fn until it succeeds, returns an error RetryIf rejects, or
// MaxAttempts is reached. The last error is returned.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if attempt >= cfg.MaxAttempts || !cfg.RetryIf(err) {
			return zero, err
		}

		wait := backoff(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

// RetryFunc is Retry for functions without a result.
func RetryFunc(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := Retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Poll calls check until it reports true, an error, or the attempts in cfg
// run out. Exhaustion returns ErrMaxRetriesExceeded; errors from check stop
// polling immediately.
func Poll(ctx context.Context, cfg RetryConfig, check func() (bool, error)) error {
	cfg.RetryIf = func(err error) bool { return errors.Is(err, errNotReady) }
	err := RetryFunc(ctx, cfg, func() error {
		ok, err := check()
		switch {
		case err != nil:
			return err
		case !ok:
			return errNotReady
		}
		return nil
	})
	if errors.Is(err, errNotReady) {
		return ErrMaxRetriesExceeded
	}
	return err
}

// backoff is InitialBackoff * BackoffFactor^(attempt-1), jittered and
// capped at MaxBackoff.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if cfg.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * cfg.Jitter
	}
	if d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if d <= 0 {
		d = float64(cfg.InitialBackoff)
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
