// Package backoff wraps cenkalti/backoff with the retry policy used for
// reconnecting exchange feeds: exponential delays with jitter, a per-delay
// cap, and optional bounds on total elapsed time.
package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Wayy-Research/wrdata/pkg/logger"
)

// Config contains tunables for exponential backoff. Zero values mean
// "use the default".
type Config struct {
	InitialInterval     time.Duration
	RandomizationFactor float64 // jitter, 0 < f <= 1
	Multiplier          float64
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration // 0 = retry forever (until ctx cancel)
}

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.5
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 60 * time.Second
	}
}

// RetryableFunc is a unit of work re-executed until it succeeds, the
// strategy gives up, or ctx is cancelled.
type RetryableFunc func(ctx context.Context) error

// Permanent marks an error as non-retryable.
func Permanent(err error) error { return backoff.Permanent(err) }

// Execute runs fn with the exponential backoff defined by cfg, logging each
// retry through log.
func Execute(ctx context.Context, cfg Config, log *logger.Logger, fn RetryableFunc) error {
	cfg.applyDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.RandomizationFactor = cfg.RandomizationFactor
	bo.Multiplier = cfg.Multiplier
	bo.MaxInterval = cfg.MaxInterval
	if cfg.MaxElapsedTime > 0 {
		bo.MaxElapsedTime = cfg.MaxElapsedTime
	} else {
		bo.MaxElapsedTime = 0 // never stop on elapsed time
	}

	attempts := 0
	operation := func() error {
		attempts++
		return fn(ctx)
	}
	notify := func(err error, delay time.Duration) {
		log.Warn("backoff retry",
			logger.Int("attempt", attempts),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return fmt.Errorf("after %d attempt(s): %w", attempts, err)
	}
	return nil
}
