package queue

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy calculates the delay before a failed job becomes claimable
// again. The zero value is usable and falls back to the package defaults.
type RetryPolicy struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryPolicy balances quick recovery from transient failures with
// protection against hammering a persistently failing dependency.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:    30 * time.Second,
		MaxDelay:     time.Hour,
		JitterFactor: 0.1,
	}
}

// Delay returns the backoff for a job that has made attempt claims so far.
// Formula: min(BaseDelay * 2^(attempt-1), MaxDelay), optionally jittered by
// ±JitterFactor to spread retry storms.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	base := p.BaseDelay
	if base == 0 {
		base = 30 * time.Second
	}

	maxDelay := p.MaxDelay
	if maxDelay == 0 {
		maxDelay = time.Hour
	}

	delay := float64(base) * math.Pow(2, float64(attempt-1))

	if p.JitterFactor > 0 {
		randomJitter := (rand.Float64()*2 - 1) * p.JitterFactor
		delay = delay * (1 + randomJitter)
	}

	// Cap after jitter so the configured ceiling always holds
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	return time.Duration(delay)
}

// NextRun returns the wall-clock time of the next eligible claim for a job
// that has made attempt claims so far.
func (p RetryPolicy) NextRun(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
