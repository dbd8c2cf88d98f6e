// Package rediscache implements relgraph's Cache interface over
// go-redis/v9, grounded in the JSON-over-redis caching pattern used in the
// wider example corpus (e.g. OperationsPAI-AegisLab's repository/cache.go).
//
// Invalidation doesn't enumerate keys: each namespace has a generation
// counter, and the generation is folded into every cache key. Invalidating
// a namespace is a single INCR rather than a SCAN-and-DEL sweep, at the
// cost of leaving previous-generation entries to expire on their own TTL.
// Because of that, entries here always carry a TTL — unlike MemoryCache,
// where a TTL of 0 is a valid "never expire" choice.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relgraph/relgraph/internal/model"
)

// DefaultTTL is used when New is called without WithTTL.
const DefaultTTL = 5 * time.Minute

// entry is the JSON payload stored per cache key.
type entry struct {
	Allowed bool   `json:"allowed"`
	Err     string `json:"err,omitempty"`
}

// Cache caches permission check results in Redis, shared across process
// instances, unlike the in-memory MemoryCache.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	ctx context.Context // background context used for every Redis call; the public methods take no ctx parameter
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL. A non-positive ttl is ignored, so entries
// always expire.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New wraps an existing *redis.Client. Callers own the client's lifecycle
// (Close it themselves); Cache never closes it.
func New(rdb *redis.Client, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, ttl: DefaultTTL, ctx: context.Background()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func genKey(namespace string) string {
	return fmt.Sprintf("relgraph:gen:%s", namespace)
}

func (c *Cache) generation(ctx context.Context, namespace string) int64 {
	n, err := c.rdb.Get(ctx, genKey(namespace)).Int64()
	if err != nil {
		return 0 // redis.Nil or a transient error both fall back to generation 0
	}
	return n
}

func entryKey(namespace string, generation int64, subjectID string, relation model.Relation, object model.Object) string {
	return fmt.Sprintf("relgraph:check:%s:%d:%s:%s:%s:%s", namespace, generation, subjectID, relation, object.Type, object.ID)
}

// Get retrieves a cached result. ok is false on a miss, a decode failure, or
// a Redis error — all treated as "re-evaluate", never as a false allow.
func (c *Cache) Get(namespace, subjectID string, relation model.Relation, object model.Object) (allowed bool, err error, ok bool) {
	key := entryKey(namespace, c.generation(c.ctx, namespace), subjectID, relation, object)
	raw, rerr := c.rdb.Get(c.ctx, key).Bytes()
	if rerr != nil {
		return false, nil, false
	}
	var e entry
	if jerr := json.Unmarshal(raw, &e); jerr != nil {
		return false, nil, false
	}
	if e.Err != "" {
		return e.Allowed, fmt.Errorf("%s", e.Err), true
	}
	return e.Allowed, nil, true
}

// Set stores a result with the configured TTL.
func (c *Cache) Set(namespace, subjectID string, relation model.Relation, object model.Object, allowed bool, err error) {
	e := entry{Allowed: allowed}
	if err != nil {
		e.Err = err.Error()
	}
	raw, jerr := json.Marshal(e)
	if jerr != nil {
		return
	}
	key := entryKey(namespace, c.generation(c.ctx, namespace), subjectID, relation, object)
	c.rdb.Set(c.ctx, key, raw, c.ttl)
}

// InvalidateNamespace bumps the namespace's generation counter so every
// entry written under the previous generation becomes unreachable; those
// keys still exist in Redis until their TTL elapses, but Get never finds
// them again.
func (c *Cache) InvalidateNamespace(namespace string) {
	c.rdb.Incr(c.ctx, genKey(namespace))
}
