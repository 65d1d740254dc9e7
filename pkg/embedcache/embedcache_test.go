package embedcache

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/store"
)

func newTestCache(t *testing.T, maxSize int) *Cache {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, "text-embedding-004", maxSize)
}

func TestGetMissThenPutThenHitIncrementsCounters(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "hello world")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Put(ctx, "hello world", []float32{1, 2, 3}))

	vec, ok, err := c.Get(ctx, "hello world")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, vec)

	stats := c.Stats()
	require.GreaterOrEqual(t, stats.Hits, int64(1), "cache_hits >= 1 for text seen twice with a successful embedding")
	require.GreaterOrEqual(t, stats.Misses, int64(1))
	require.Equal(t, int64(1), stats.Stores)
}

func TestGetSurvivesAcrossInMemoryEvictionViaDurableBacking(t *testing.T) {
	c := newTestCache(t, 2)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", []float32{1}))
	require.NoError(t, c.Put(ctx, "b", []float32{2}))
	require.NoError(t, c.Put(ctx, "c", []float32{3})) // evicts "a" from memory, not from disk

	require.LessOrEqual(t, c.InMemorySize(), 2)

	vec, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok, "durable backing recovers an entry evicted from the in-memory LRU layer")
	require.Equal(t, []float32{1}, vec)
}

func TestContentHashIsStableAndDistinctPerText(t *testing.T) {
	h1 := ContentHash("same text")
	h2 := ContentHash("same text")
	h3 := ContentHash("different text")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
}

func TestInMemoryCapacityIsRespected(t *testing.T) {
	c := newTestCache(t, 5)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, c.Put(ctx, fmt.Sprintf("text-%d", i), []float32{float32(i)}))
	}
	require.LessOrEqual(t, c.InMemorySize(), 5)
}
