package webhook

import (
	"sync"
	"time"
)

// BreakerState describes how the sender currently treats an endpoint.
type BreakerState string

const (
	// EndpointHealthy means deliveries go out normally.
	EndpointHealthy BreakerState = "healthy"
	// EndpointSuspended means deliveries fail fast with ErrEndpointSuspended
	// until the probe window opens.
	EndpointSuspended BreakerState = "suspended"
	// EndpointProbing means the suspension aged past the probe window and
	// deliveries are allowed through to test recovery.
	EndpointProbing BreakerState = "probing"
)

// endpointSet tracks delivery health per endpoint host. Consecutive
// unreachable or 5xx outcomes suspend a host; after probeAfter the next
// deliveries are let through, and successNeed consecutive successes clear
// the suspension. An answered 4xx never counts against the host: the
// endpoint is alive, the request was just rejected.
type endpointSet struct {
	mu      sync.Mutex
	entries map[string]*endpointHealth

	failLimit   int
	probeAfter  time.Duration
	successNeed int
}

type endpointHealth struct {
	failures    int
	successes   int
	suspended   bool
	suspendedAt time.Time
}

func newEndpointSet(failLimit int, probeAfter time.Duration, successNeed int) *endpointSet {
	if failLimit <= 0 {
		failLimit = 5
	}
	if probeAfter <= 0 {
		probeAfter = 30 * time.Second
	}
	if successNeed <= 0 {
		successNeed = 2
	}
	return &endpointSet{
		entries:     make(map[string]*endpointHealth),
		failLimit:   failLimit,
		probeAfter:  probeAfter,
		successNeed: successNeed,
	}
}

func (es *endpointSet) allow(host string) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	e, ok := es.entries[host]
	if !ok || !e.suspended {
		return true
	}
	return time.Since(e.suspendedAt) >= es.probeAfter
}

func (es *endpointSet) record(host string, reachable bool) {
	es.mu.Lock()
	defer es.mu.Unlock()

	e, ok := es.entries[host]
	if !ok {
		e = &endpointHealth{}
		es.entries[host] = e
	}

	if reachable {
		if !e.suspended {
			e.failures = 0
			return
		}
		e.successes++
		if e.successes >= es.successNeed {
			*e = endpointHealth{}
		}
		return
	}

	if e.suspended {
		// Probe failed; restart the wait.
		e.suspendedAt = time.Now()
		e.successes = 0
		return
	}
	e.failures++
	if e.failures >= es.failLimit {
		e.suspended = true
		e.suspendedAt = time.Now()
		e.successes = 0
	}
}

func (es *endpointSet) state(host string) BreakerState {
	es.mu.Lock()
	defer es.mu.Unlock()

	e, ok := es.entries[host]
	if !ok || !e.suspended {
		return EndpointHealthy
	}
	if time.Since(e.suspendedAt) >= es.probeAfter {
		return EndpointProbing
	}
	return EndpointSuspended
}
