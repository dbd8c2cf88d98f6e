package relgraph

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relgraph/relgraph/internal/cache/rediscache"
)

// RedisCache is a Cache backed by Redis, shared across process instances —
// unlike MemoryCache, which is local to one process.
type RedisCache = rediscache.Cache

// RedisCacheOption configures a RedisCache.
type RedisCacheOption = rediscache.Option

// WithRedisTTL overrides the default entry TTL (5 minutes). Redis cache
// entries always carry a TTL, since invalidation works by bumping a
// namespace generation counter rather than deleting keys outright; without
// a TTL, superseded generations would accumulate forever.
func WithRedisTTL(ttl time.Duration) RedisCacheOption { return rediscache.WithTTL(ttl) }

// NewRedisCache wraps an existing *redis.Client as a Cache. The caller owns
// the client's lifecycle.
func NewRedisCache(rdb *redis.Client, opts ...RedisCacheOption) *RedisCache {
	return rediscache.New(rdb, opts...)
}

var _ Cache = (*RedisCache)(nil)
