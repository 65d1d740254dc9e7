package llm

import (
	"sync"
	"time"
)

// circuitBreaker opens after N consecutive terminal failures and stays
// open for a cooldown window, during which calls fail fast (spec.md
// §4.8). Grounded on the same mutex+counter shape the teacher uses for
// its sliding-window caches (pkg/connector/dedupe.go), narrowed to a
// single consecutive-failure counter instead of a keyed map.
type circuitBreaker struct {
	mu            sync.Mutex
	maxFailures   int
	cooldown      time.Duration
	failures      int
	openedAt      time.Time
	now           func() time.Time
}

func newCircuitBreaker(maxFailures int, cooldown time.Duration, now func() time.Time) *circuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &circuitBreaker{maxFailures: maxFailures, cooldown: cooldown, now: now}
}

// Allow reports whether a call may proceed. It returns false while the
// breaker is open (within the cooldown window since it tripped).
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.maxFailures {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		// cooldown elapsed: half-open, allow one probe and reset the counter
		b.failures = 0
		return true
	}
	return false
}

// RecordSuccess resets the consecutive-failure counter.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// RecordFailure increments the counter and, on crossing the threshold,
// opens the circuit starting now.
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures == b.maxFailures {
		b.openedAt = b.now()
	}
}

// IsOpen reports whether the breaker is currently rejecting calls,
// without consuming a half-open probe (used for status/telemetry).
func (b *circuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.maxFailures {
		return false
	}
	return b.now().Sub(b.openedAt) < b.cooldown
}
