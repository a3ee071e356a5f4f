package upload

import (
	"context"
	"math/rand/v2"
	"time"
)

// Retry budget and backoff constants.
const (
	maxAttempts    = 4 // 1 initial + 3 retries
	maxJitter      = time.Second
	poorMultiplier = 1.5
	offlineFactor  = 2.0
)

// baseDelays holds the backoff schedule by retry index. Attempts beyond the
// table reuse the last value.
var baseDelays = []time.Duration{
	1000 * time.Millisecond,
	2500 * time.Millisecond,
	5000 * time.Millisecond,
}

// backoffDelay computes the wait before the retry that follows the given
// attempt index. The base delay is scaled by the network condition sampled
// at submission (not re-sampled mid-retry, keeping the schedule
// deterministic per invocation), then extended with 0–1s of uniform jitter
// to avoid synchronized retry storms across concurrent uploads.
func backoffDelay(attempt int, cond Condition) time.Duration {
	idx := attempt
	if idx >= len(baseDelays) {
		idx = len(baseDelays) - 1
	}

	delay := float64(baseDelays[idx])

	switch cond {
	case ConditionPoor:
		delay *= poorMultiplier
	case ConditionOffline:
		delay *= offlineFactor
	case ConditionGood:
		// base delay unchanged
	}

	jitter := rand.Float64() * float64(maxJitter) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(delay + jitter)
}

// sleepContext waits for the given duration or until the context is
// canceled. It is the default sleepFunc for the orchestrator; tests
// substitute a no-op to avoid real delays.
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
