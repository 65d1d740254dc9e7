// Package embedcache implements the content-addressed embedding cache:
// an in-memory LRU ceiling backed durably by the embedding_cache table,
// so a restart doesn't cold the cache and a single process doesn't grow
// memory unbounded.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/store"
	"github.com/gryagbot/gryag/pkg/vecenc"
)

// DefaultMaxEntries is the in-memory LRU ceiling (the durable table is
// unbounded; only the hot in-process map is capacity-limited).
const DefaultMaxEntries = 10000

type entry struct {
	vector     []float32
	accessedAt int64
}

// Cache is a thread-safe, content-addressed vector cache with an
// in-memory LRU layer (same hand-rolled map+scan eviction shape as the
// teacher's DedupeCache) and a durable write-through backing store.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	maxSize int
	lastTS  int64

	store *store.Store
	model string

	hits   atomic.Int64
	misses atomic.Int64
	stores atomic.Int64
}

// New builds a Cache backed by st for embeddings produced by model.
func New(st *store.Store, model string, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	return &Cache{
		entries: make(map[string]entry),
		maxSize: maxSize,
		store:   st,
		model:   model,
	}
}

// ContentHash is the cache key for text: sha256 hex digest.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached embedding for text, or ok=false on a miss. A
// durable-store hit is promoted into the in-memory layer.
func (c *Cache) Get(ctx context.Context, text string) (vector []float32, ok bool, err error) {
	hash := ContentHash(text)

	c.mu.Lock()
	if e, found := c.entries[hash]; found {
		c.touch(hash, e.vector)
		c.mu.Unlock()
		c.hits.Add(1)
		return e.vector, true, nil
	}
	c.mu.Unlock()

	row := c.store.DB.QueryRow(ctx, `SELECT embedding FROM embedding_cache WHERE content_hash=$1`, hash)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if aierrors.IsStorageError(err) {
			return nil, false, aierrors.New(aierrors.KindStorageError, err, "op", "embedcache_get")
		}
		c.misses.Add(1)
		return nil, false, nil
	}

	vec, decodeErr := vecenc.Decode(blob)
	if decodeErr != nil {
		c.misses.Add(1)
		return nil, false, nil
	}

	now := time.Now().Unix()
	_, _ = c.store.DB.Exec(ctx,
		`UPDATE embedding_cache SET hit_count=hit_count+1, last_hit_at=$1 WHERE content_hash=$2`,
		now, hash,
	)

	c.mu.Lock()
	c.touch(hash, vec)
	c.mu.Unlock()

	c.hits.Add(1)
	return vec, true, nil
}

// Put stores text's embedding both in memory and durably.
func (c *Cache) Put(ctx context.Context, text string, vector []float32) error {
	hash := ContentHash(text)
	blob, err := vecenc.Encode(vector)
	if err != nil {
		return aierrors.New(aierrors.KindInternalBug, err, "op", "embedcache_encode")
	}

	now := time.Now().Unix()
	_, err = c.store.DB.Exec(ctx,
		`INSERT INTO embedding_cache (content_hash, model, embedding, hit_count, created_at) VALUES ($1, $2, $3, 0, $4)
		 ON CONFLICT (content_hash) DO UPDATE SET embedding=excluded.embedding, model=excluded.model`,
		hash, c.model, blob, now,
	)
	if err != nil {
		return aierrors.New(aierrors.KindStorageError, err, "op", "embedcache_put")
	}

	c.mu.Lock()
	c.touch(hash, vector)
	c.mu.Unlock()

	c.stores.Add(1)
	return nil
}

// touch records/refreshes hash in the in-memory layer and evicts the
// least-recently-used entry if over capacity. Caller holds c.mu.
func (c *Cache) touch(hash string, vector []float32) {
	now := time.Now().UnixNano()
	if now <= c.lastTS {
		now = c.lastTS + 1
	}
	c.lastTS = now
	c.entries[hash] = entry{vector: vector, accessedAt: now}

	for len(c.entries) > c.maxSize {
		var oldestKey string
		var oldestAt int64 = 1<<63 - 1
		for k, e := range c.entries {
			if e.accessedAt < oldestAt {
				oldestKey, oldestAt = k, e.accessedAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.entries, oldestKey)
	}
}

// Stats is a snapshot of the cache's telemetry counters.
type Stats struct {
	Hits   int64
	Misses int64
	Stores int64
}

// Stats returns the current cache_hits/cache_misses/cache_stores
// telemetry counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Stores: c.stores.Load(),
	}
}

// InMemorySize returns the number of entries currently held in the
// in-memory LRU layer (bounded by maxSize).
func (c *Cache) InMemorySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
