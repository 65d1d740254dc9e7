package ratelimit

import (
	"sync"
	"time"
)

const (
	defaultReputationScore = 1.0
	hourlyWindow           = time.Hour
	dailyWindow            = 24 * time.Hour
)

// FeatureLimiter enforces hourly and daily windowed counts per (feature,
// user), scaled by a per-user reputation multiplier clamped into
// [minFactor, maxFactor]. A feature with no configured daily limit only
// enforces the hourly window.
type FeatureLimiter struct {
	mu         sync.Mutex
	now        func() time.Time
	minFactor  float64
	maxFactor  float64
	hourly     map[string]int // feature -> base hourly limit
	daily      map[string]int // feature -> base daily limit, 0 = unset
	usage      map[string]map[int64][]time.Time
	dailyUsage map[string]map[int64][]time.Time
	reputation map[int64]float64
}

// NewFeatureLimiter builds a limiter whose adaptive multiplier is clamped
// to [minFactor, maxFactor] per spec.md §4.11 (default 0.5-2.0).
func NewFeatureLimiter(minFactor, maxFactor float64, now func() time.Time) *FeatureLimiter {
	if minFactor <= 0 {
		minFactor = 0.5
	}
	if maxFactor <= 0 {
		maxFactor = 2.0
	}
	return &FeatureLimiter{
		now:        now,
		minFactor:  minFactor,
		maxFactor:  maxFactor,
		hourly:     make(map[string]int),
		daily:      make(map[string]int),
		usage:      make(map[string]map[int64][]time.Time),
		dailyUsage: make(map[string]map[int64][]time.Time),
		reputation: make(map[int64]float64),
	}
}

// Configure sets the base hourly and (optionally, if > 0) daily quota for
// a feature name, e.g. "weather" or "image_generation".
func (l *FeatureLimiter) Configure(feature string, hourlyLimit, dailyLimit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hourly[feature] = hourlyLimit
	l.daily[feature] = dailyLimit
}

// SetReputation records userID's reputation multiplier, clamped into the
// configured [minFactor, maxFactor] range. A score outside that range is
// clamped rather than rejected.
func (l *FeatureLimiter) SetReputation(userID int64, score float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reputation[userID] = l.clampFactor(score)
}

func (l *FeatureLimiter) clampFactor(score float64) float64 {
	if score < l.minFactor {
		return l.minFactor
	}
	if score > l.maxFactor {
		return l.maxFactor
	}
	return score
}

func (l *FeatureLimiter) factorFor(userID int64) float64 {
	if score, ok := l.reputation[userID]; ok {
		return score
	}
	return l.clampFactor(defaultReputationScore)
}

// Allow checks and, if permitted, records one use of feature by userID.
// Admins bypass both windows. A zero-valued base limit (hourly or daily)
// means that window is not enforced for this feature.
func (l *FeatureLimiter) Allow(feature string, userID int64, isAdmin bool) Decision {
	if isAdmin {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	factor := l.factorFor(userID)

	hourlyTimestamps, hourlyOK, hourlyWait := l.checkWindow(l.usage, feature, userID, l.hourly[feature], factor, hourlyWindow, now)
	if !hourlyOK {
		return Decision{Allowed: false, RetryAfter: hourlyWait}
	}
	dailyTimestamps, dailyOK, dailyWait := l.checkWindow(l.dailyUsage, feature, userID, l.daily[feature], factor, dailyWindow, now)
	if !dailyOK {
		return Decision{Allowed: false, RetryAfter: dailyWait}
	}

	if hourlyTimestamps != nil {
		l.usage[feature][userID] = append(hourlyTimestamps, now)
	}
	if dailyTimestamps != nil {
		l.dailyUsage[feature][userID] = append(dailyTimestamps, now)
	}
	return Decision{Allowed: true}
}

// checkWindow prunes and checks one window's usage for feature/userID. A
// zero base limit disables the window (returned timestamps are nil, so the
// caller skips recording a hit for it). The returned timestamps, when
// non-nil, are the pruned slice the caller should append now to on success.
func (l *FeatureLimiter) checkWindow(store map[string]map[int64][]time.Time, feature string, userID int64, base int, factor float64, window time.Duration, now time.Time) ([]time.Time, bool, time.Duration) {
	if base <= 0 {
		return nil, true, 0
	}
	effective := int(float64(base) * factor)
	if effective < 1 {
		effective = 1
	}
	perFeature := store[feature]
	if perFeature == nil {
		perFeature = make(map[int64][]time.Time)
		store[feature] = perFeature
	}
	timestamps := prune(perFeature[userID], now.Add(-window))
	perFeature[userID] = timestamps
	if len(timestamps) >= effective {
		return timestamps, false, timestamps[0].Add(window).Sub(now)
	}
	return timestamps, true, 0
}
