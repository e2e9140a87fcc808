package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arrowship/arrowship/pkg/config"
)

// newBackOff returns the delay policy between attempts: base, 2*base,
// 4*base, ... capped at max. Delays never decrease and carry no jitter.
func newBackOff(cfg config.RetryConfig) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	if cfg.MaxAttempts <= 1 {
		return backoff.WithMaxRetries(b, 0)
	}
	return backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
