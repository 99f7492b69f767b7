package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// JitterFraction is the uniform perturbation applied to every computed delay
// (±20%).
const JitterFraction = 0.2

// ComputeDelay returns the wait before retry number attempt (1-based):
// base * 2^(attempt-1), jittered uniformly by ±JitterFraction and clamped to
// zero. A nil rng uses the package-level source; pass a seeded *rand.Rand for
// deterministic delays.
func ComputeDelay(attempt int, base time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	// Cap before jitter: an overflowed exponent is +Inf and Inf*(negative
	// jitter) + Inf would be NaN.
	const maxDelay = float64(math.MaxInt64)
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > maxDelay {
		delay = maxDelay
	}

	var u float64
	if rng != nil {
		u = rng.Float64()
	} else {
		u = rand.Float64()
	}
	delay += (u*2 - 1) * delay * JitterFraction // [-20%, +20%]

	if delay < 0 || math.IsNaN(delay) {
		delay = 0
	}
	if delay >= maxDelay {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
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
