package webhook

import (
	"math/rand"
	"time"
)

// RetrySchedule spaces delivery attempts with capped exponential growth.
// The first retry waits Base, each further retry doubles the wait up to
// Cap, and Jitter spreads the result by ±Jitter fraction so endpoints
// recovering from an outage are not hit by synchronized retries.
//
// The zero value is usable and falls back to the package defaults.
type RetrySchedule struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
}

const (
	defaultRetryBase = time.Second
	defaultRetryCap  = 30 * time.Second
)

// Delay returns the wait before the given retry. Retries count from 1;
// non-positive values return 0 so the first attempt is never delayed.
func (rs RetrySchedule) Delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}

	base := rs.Base
	if base <= 0 {
		base = defaultRetryBase
	}
	cap := rs.Cap
	if cap <= 0 {
		cap = defaultRetryCap
	}

	d := base
	for i := 1; i < retry && d < cap; i++ {
		d *= 2
	}
	if d > cap {
		d = cap
	}

	if rs.Jitter > 0 {
		j := rs.Jitter
		if j > 1 {
			j = 1
		}
		spread := 1 + (rand.Float64()*2-1)*j
		d = time.Duration(float64(d) * spread)
		if d < 0 {
			d = 0
		}
	}

	return d
}
