package retry

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const throttledFraction = 0.3

// ThrottleRegistry holds one adaptive limiter per provider. When a provider
// signals overload (429) the limiter is tripped: outbound rate drops to 30%
// of nominal for a cool-down window, then ramps linearly back to nominal
// over the recovery window. State is shared by every call touching that
// provider.
type ThrottleRegistry struct {
	mu        sync.Mutex
	providers map[string]*throttleState

	nominal  rate.Limit
	burst    int
	cooldown time.Duration
	recovery time.Duration

	now func() time.Time
}

type throttleState struct {
	limiter   *rate.Limiter
	trippedAt time.Time
}

func NewThrottleRegistry(nominalRPS float64, burst int) *ThrottleRegistry {
	return &ThrottleRegistry{
		providers: make(map[string]*throttleState),
		nominal:   rate.Limit(nominalRPS),
		burst:     burst,
		cooldown:  15 * time.Minute,
		recovery:  5 * time.Minute,
		now:       time.Now,
	}
}

// Wait blocks until the provider's current effective rate admits one
// request, or the context is done.
func (r *ThrottleRegistry) Wait(ctx context.Context, provider string) error {
	st := r.adjusted(provider)
	return st.limiter.Wait(ctx)
}

// Trip records a rate-limit signal from the provider. Re-tripping during
// cool-down restarts the window.
func (r *ThrottleRegistry) Trip(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stateLocked(provider)
	st.trippedAt = r.now()
	st.limiter.SetLimit(r.nominal * throttledFraction)
}

// Limit reports the provider's current effective rate, for logging and the
// providers view.
func (r *ThrottleRegistry) Limit(provider string) float64 {
	return float64(r.adjusted(provider).limiter.Limit())
}

func (r *ThrottleRegistry) adjusted(provider string) *throttleState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stateLocked(provider)
	if st.trippedAt.IsZero() {
		return st
	}

	elapsed := r.now().Sub(st.trippedAt)
	switch {
	case elapsed < r.cooldown:
		st.limiter.SetLimit(r.nominal * throttledFraction)
	case elapsed < r.cooldown+r.recovery:
		// Linear ramp from 30% back to nominal.
		frac := throttledFraction + (1-throttledFraction)*float64(elapsed-r.cooldown)/float64(r.recovery)
		st.limiter.SetLimit(r.nominal * rate.Limit(frac))
	default:
		st.trippedAt = time.Time{}
		st.limiter.SetLimit(r.nominal)
	}
	return st
}

func (r *ThrottleRegistry) stateLocked(provider string) *throttleState {
	st, ok := r.providers[provider]
	if !ok {
		st = &throttleState{limiter: rate.NewLimiter(r.nominal, r.burst)}
		r.providers[provider] = st
	}
	return st
}
