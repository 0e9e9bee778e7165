package retry

import (
	"context"
	"testing"
	"time"

	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testEngine() (*Engine, *[]time.Duration) {
	var slept []time.Duration
	e := NewEngine(zap.NewNop(), NewThrottleRegistry(1000, 1000))
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func rateLimited(provider string) *domain.ErrorRecord {
	return &domain.ErrorRecord{
		Kind:       domain.KindRateLimited,
		Retryable:  true,
		StatusCode: 429,
		RawMessage: "slow down",
		Provider:   provider,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	e, slept := testEngine()

	calls := 0
	out, err := Do(context.Background(), e, "openai", DefaultPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDo_RetriesTransientUntilExhausted(t *testing.T) {
	e, slept := testEngine()

	calls := 0
	_, err := Do(context.Background(), e, "openai", DefaultPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "", rateLimited("openai")
	}, nil)

	assert.Equal(t, 4, calls)

	var rec *domain.ErrorRecord
	assert.ErrorAs(t, err, &rec)
	assert.Equal(t, domain.KindRateLimited, rec.Kind)

	// Backoff doubles from the base, with jitter bounded by one base unit.
	assert.Len(t, *slept, 3)
	for i, want := range []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second} {
		got := (*slept)[i]
		assert.GreaterOrEqual(t, got, want)
		assert.Less(t, got, want+1*time.Second)
	}
}

func TestDo_FatalErrorSingleAttempt(t *testing.T) {
	e, slept := testEngine()

	calls := 0
	_, err := Do(context.Background(), e, "anthropic", DefaultPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "", &domain.ErrorRecord{
			Kind:       domain.KindAuthFailed,
			Retryable:  false,
			StatusCode: 401,
			RawMessage: "invalid x-api-key",
			Provider:   "anthropic",
		}
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)

	var rec *domain.ErrorRecord
	assert.ErrorAs(t, err, &rec)
	assert.Equal(t, domain.KindAuthFailed, rec.Kind)
}

func TestDo_RecoversMidway(t *testing.T) {
	e, _ := testEngine()

	calls := 0
	out, err := Do(context.Background(), e, "openai", DefaultPolicy(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &domain.ErrorRecord{Kind: domain.KindServerError, Retryable: true, Provider: "openai"}
		}
		return "recovered", nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 3, calls)
}

func TestDo_ReportsProgress(t *testing.T) {
	e, _ := testEngine()

	var updates []string
	_, _ = Do(context.Background(), e, "openai", DefaultPolicy(), func(ctx context.Context) (string, error) {
		return "", rateLimited("openai")
	}, func(status string) {
		updates = append(updates, status)
	})

	assert.Len(t, updates, 3)
	assert.Contains(t, updates[0], "openai")
	assert.Contains(t, updates[0], "rate_limited")
}

func TestDo_NonRecordErrorNotRetried(t *testing.T) {
	e, slept := testEngine()

	calls := 0
	_, err := Do(context.Background(), e, "openai", DefaultPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "", assert.AnError
	}, nil)

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestThrottle_TripAndRecovery(t *testing.T) {
	reg := NewThrottleRegistry(10, 10)
	now := time.Now()
	reg.now = func() time.Time { return now }

	assert.InDelta(t, 10.0, reg.Limit("openai"), 0.001)

	reg.Trip("openai")
	assert.InDelta(t, 3.0, reg.Limit("openai"), 0.001)

	// Still inside the cool-down window.
	now = now.Add(10 * time.Minute)
	assert.InDelta(t, 3.0, reg.Limit("openai"), 0.001)

	// Halfway through recovery: halfway between 30% and 100%.
	now = now.Add(5*time.Minute + 150*time.Second)
	assert.InDelta(t, 6.5, reg.Limit("openai"), 0.01)

	// Fully recovered.
	now = now.Add(10 * time.Minute)
	assert.InDelta(t, 10.0, reg.Limit("openai"), 0.001)

	// Other providers are unaffected throughout.
	assert.InDelta(t, 10.0, reg.Limit("anthropic"), 0.001)
}

func TestBackoff_CapsAtMaxDelay(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 1 * time.Second, MaxDelay: 32 * time.Second}
	got := Backoff(p, 9) // 512s uncapped
	assert.LessOrEqual(t, got, 32*time.Second)
}
