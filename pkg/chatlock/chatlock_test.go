package chatlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type movableClock struct {
	mu sync.Mutex
	t  time.Time
}

func newMovableClock() *movableClock {
	return &movableClock{t: time.Unix(1700000000, 0)}
}

func (c *movableClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *movableClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestAcquireSerializesSameKey(t *testing.T) {
	clock := newMovableClock()
	m := New(time.Minute, clock.now)
	key := Key{ChatID: -100, ThreadID: 0, UserID: 42}

	release, err := m.Acquire(context.Background(), key)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release2, err := m.Acquire(context.Background(), key)
		require.NoError(t, err)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should not succeed while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should succeed after release")
	}
}

func TestAcquireDifferentKeysDoNotContend(t *testing.T) {
	clock := newMovableClock()
	m := New(time.Minute, clock.now)

	release1, err := m.Acquire(context.Background(), Key{ChatID: -100, UserID: 1})
	require.NoError(t, err)
	defer release1()

	done := make(chan struct{})
	go func() {
		release2, err := m.Acquire(context.Background(), Key{ChatID: -100, UserID: 2})
		require.NoError(t, err)
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated key should not contend with held key")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	clock := newMovableClock()
	m := New(time.Minute, clock.now)
	key := Key{ChatID: -100, UserID: 1}

	release, err := m.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGCReclaimsIdleLanes(t *testing.T) {
	clock := newMovableClock()
	m := New(time.Minute, clock.now)
	key := Key{ChatID: -100, UserID: 1}

	release, err := m.Acquire(context.Background(), key)
	require.NoError(t, err)
	release()
	require.Equal(t, 1, m.Len())

	require.Equal(t, 0, m.GC(), "lane is not yet idle long enough")
	require.Equal(t, 1, m.Len())

	clock.advance(2 * time.Minute)
	require.Equal(t, 1, m.GC())
	require.Equal(t, 0, m.Len())
}

func TestGCNeverReclaimsHeldLane(t *testing.T) {
	clock := newMovableClock()
	m := New(time.Minute, clock.now)
	key := Key{ChatID: -100, UserID: 1}

	release, err := m.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer release()

	clock.advance(10 * time.Minute)
	require.Equal(t, 0, m.GC())
	require.Equal(t, 1, m.Len())
}
