// Package retry wraps fallible operations with bounded, fixed-delay retry.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/polish/internal/config"
)

// Policy retries an operation up to MaxAttempts total attempts, sleeping
// Delay between attempts. The delay is constant, not exponential. Sleeping
// suspends only the calling goroutine and aborts early on context
// cancellation.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	logger      *zap.Logger

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy builds a policy from retry configuration.
func NewPolicy(cfg config.RetryConfig, logger *zap.Logger) *Policy {
	return &Policy{
		MaxAttempts: cfg.MaxAttempts,
		Delay:       time.Duration(cfg.DelaySeconds) * time.Second,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Do invokes op until it succeeds or attempts are exhausted. Returns the
// first success, or the last failure after MaxAttempts attempts.
func (p *Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	start := time.Now()
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s canceled: %w", name, err)
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 && p.logger != nil {
				p.logger.Info("operation recovered after retries",
					zap.String("operation", name),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		if p.logger != nil {
			p.logger.Warn("operation failed, retrying",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Duration("delay", p.Delay),
				zap.Error(err),
			)
		}
		if err := p.sleep(ctx, p.Delay); err != nil {
			return fmt.Errorf("%s canceled: %w", name, err)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}

// sleepCtx blocks for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
