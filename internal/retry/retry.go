package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/omniquery/fanout-api/internal/domain"
	"go.uber.org/zap"
)

// Policy bounds one retried operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy gives the 1s/2s/4s backoff progression with four attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   1 * time.Second,
		MaxDelay:    32 * time.Second,
	}
}

// Engine decorates fallible operations with bounded exponential backoff and
// the per-provider adaptive throttle. It knows nothing about what the
// operation does; failures must be *domain.ErrorRecord to be considered
// for retry.
type Engine struct {
	logger    *zap.Logger
	throttles *ThrottleRegistry

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(logger *zap.Logger, throttles *ThrottleRegistry) *Engine {
	return &Engine{
		logger:    logger,
		throttles: throttles,
		sleep:     sleepContext,
	}
}

// ProgressFunc receives a human-readable status line before each retry.
type ProgressFunc func(status string)

// Do runs fn under the engine's policy. A nil error returns immediately.
// Non-retryable errors and exhausted attempts return the last ErrorRecord;
// errors that are not ErrorRecords are returned as-is without retry.
func Do[T any](ctx context.Context, e *Engine, provider string, policy Policy, fn func(context.Context) (T, error), onProgress ProgressFunc) (T, error) {
	var zero T
	var lastRec *domain.ErrorRecord

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := e.throttles.Wait(ctx, provider); err != nil {
			if lastRec != nil {
				return zero, lastRec
			}
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var rec *domain.ErrorRecord
		if !errors.As(err, &rec) {
			return zero, err
		}
		lastRec = rec

		if rec.Kind == domain.KindRateLimited {
			e.throttles.Trip(provider)
			e.logger.Warn("provider throttled",
				zap.String("provider", provider),
				zap.Float64("effective_rps", e.throttles.Limit(provider)))
		}

		if !rec.Retryable || attempt == policy.MaxAttempts-1 {
			return zero, rec
		}

		delay := Backoff(policy, attempt)
		if onProgress != nil {
			onProgress(fmt.Sprintf("%s failed (%s), retrying in %s (attempt %d/%d)",
				provider, rec.Kind, delay.Round(100*time.Millisecond), attempt+2, policy.MaxAttempts))
		}
		e.logger.Debug("retrying provider call",
			zap.String("provider", provider),
			zap.String("kind", string(rec.Kind)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		if err := e.sleep(ctx, delay); err != nil {
			return zero, lastRec
		}
	}

	return zero, lastRec
}

// Backoff computes base*2^attempt plus uniform jitter in [0, base), capped
// at the policy max.
func Backoff(policy Policy, attempt int) time.Duration {
	delay := float64(policy.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	delay += rand.Float64() * float64(policy.BaseDelay)
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
