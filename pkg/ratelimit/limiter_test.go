package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// movableClock lets a test advance simulated time deterministically.
type movableClock struct {
	t time.Time
}

func (c *movableClock) now() time.Time { return c.t }
func (c *movableClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMovableClock() *movableClock {
	return &movableClock{t: time.Unix(1700000000, 0)}
}

func TestUserLimiterAllowsUpToLimitThenBlocks(t *testing.T) {
	clock := newMovableClock()
	l := NewUserLimiter(3, time.Hour, clock.now)

	for i := 0; i < 3; i++ {
		d := l.Allow(42, false)
		require.True(t, d.Allowed)
	}
	d := l.Allow(42, false)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestUserLimiterAdminBypasses(t *testing.T) {
	clock := newMovableClock()
	l := NewUserLimiter(1, time.Hour, clock.now)

	require.True(t, l.Allow(7, true).Allowed)
	require.True(t, l.Allow(7, true).Allowed)
	require.True(t, l.Allow(7, true).Allowed)
}

func TestUserLimiterWindowExpires(t *testing.T) {
	clock := newMovableClock()
	l := NewUserLimiter(1, time.Hour, clock.now)

	require.True(t, l.Allow(1, false).Allowed)
	require.False(t, l.Allow(1, false).Allowed)

	clock.advance(time.Hour + time.Second)
	require.True(t, l.Allow(1, false).Allowed)
}

func TestUserLimiterTracksUsersIndependently(t *testing.T) {
	clock := newMovableClock()
	l := NewUserLimiter(1, time.Hour, clock.now)

	require.True(t, l.Allow(1, false).Allowed)
	require.True(t, l.Allow(2, false).Allowed)
	require.False(t, l.Allow(1, false).Allowed)
}
