// Package ratelimit implements the three independent throttle gates of
// spec.md §4.11: a per-user/hour sliding window, a per-feature hourly/daily
// quota with an adaptive reputation multiplier, and a per-command cooldown
// with a debounced warning. All three are built on the same sliding-window
// prune idiom as the teacher's pkg/connector/dedupe.go DedupeCache: a
// mutex-guarded map of timestamps, pruned lazily on each check rather than
// by a background sweep.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a throttle check, mirroring the
// (allowed, remaining, retry_after_seconds) tuple spec.md §4.11 calls for.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// UserLimiter enforces a sliding per-user/hour request count. Admins bypass
// the gate entirely and never consume a slot.
type UserLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	requests map[int64][]time.Time
}

// NewUserLimiter builds a limiter allowing limit requests per window for
// each user. now is injected so tests can drive the clock explicitly.
func NewUserLimiter(limit int, window time.Duration, now func() time.Time) *UserLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Hour
	}
	return &UserLimiter{
		limit:    limit,
		window:   window,
		now:      now,
		requests: make(map[int64][]time.Time),
	}
}

// Allow records and checks one request for userID. It is not idempotent:
// a call that returns Allowed=true consumes a slot.
func (l *UserLimiter) Allow(userID int64, isAdmin bool) Decision {
	if isAdmin {
		return Decision{Allowed: true, Remaining: l.limit}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	timestamps := prune(l.requests[userID], cutoff)

	if len(timestamps) >= l.limit {
		retryAfter := timestamps[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.requests[userID] = timestamps
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	timestamps = append(timestamps, now)
	l.requests[userID] = timestamps
	return Decision{Allowed: true, Remaining: l.limit - len(timestamps)}
}

// Reset clears userID's sliding window, used by /gryagreset (spec.md
// §6.4) to let an admin manually lift a throttle.
func (l *UserLimiter) Reset(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.requests, userID)
}

// prune drops timestamps at or before cutoff, preserving order (oldest
// first) so the caller can read the next expiry off index 0.
func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	kept := timestamps[:0:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
