// Package coordination provides an OPTIONAL, best-effort cross-process
// distributed lock and counter over Redis (spec.md §5: most deployments
// run a single process and never need this; a multi-instance deployment
// does). Grounded on the teacher-adjacent pack's own Redis-over-context
// idiom rather than the teacher itself, which has no cross-process
// coordination concern of its own (pkg/connector runs single-process
// against one Matrix homeserver).
package coordination

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by TryLock when another holder already owns
// the key.
var ErrNotAcquired = errors.New("coordination: lock not acquired")

// Coordinator wraps a Redis client with the small set of primitives the
// pipeline needs when running as more than one process: a distributed
// mutual-exclusion lock (e.g. one instance running the retention pruner)
// and a shared counter (e.g. a cross-instance feature quota).
type Coordinator struct {
	client *redis.Client
	prefix string
}

// New builds a Coordinator against addr (host:port, as accepted by
// redis.Options.Addr — miniredis's Addr() in tests, a real Redis
// endpoint in production).
func New(addr, prefix string) *Coordinator {
	if prefix == "" {
		prefix = "gryag:coord:"
	}
	return &Coordinator{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

// Ping validates connectivity at startup, the way the teacher's Redis
// consumers fail fast rather than deferring the error to first use.
func (c *Coordinator) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection pool.
func (c *Coordinator) Close() error {
	return c.client.Close()
}

func (c *Coordinator) key(name string) string {
	return c.prefix + name
}

// TryLock attempts to acquire a distributed lock named name for ttl,
// using Redis's atomic SET NX as the compare-and-swap primitive. It
// returns ErrNotAcquired (not an error the caller should retry
// aggressively on) when another process already holds it.
func (c *Coordinator) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key(name), 1, ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNotAcquired
	}
	return true, nil
}

// Unlock releases a previously acquired lock. Safe to call even if the
// lock already expired; Redis DEL on a missing key is a no-op.
func (c *Coordinator) Unlock(ctx context.Context, name string) error {
	return c.client.Del(ctx, c.key(name)).Err()
}

// Incr atomically increments a shared counter and returns its new value,
// setting ttl on first creation so stale counters (e.g. an hourly quota
// from a crashed deployment) self-expire instead of accumulating forever.
func (c *Coordinator) Incr(ctx context.Context, name string, ttl time.Duration) (int64, error) {
	key := c.key(name)
	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if val == 1 && ttl > 0 {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return val, err
		}
	}
	return val, nil
}

// Get reads a shared counter's current value, returning 0 if unset.
func (c *Coordinator) Get(ctx context.Context, name string) (int64, error) {
	val, err := c.client.Get(ctx, c.key(name)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}
