package logpipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"coordinator/pkg/logging"
)

// RedisCacheTTL bounds how long a point-lookup entry survives in the
// optional Redis front, independent of the in-process LRU.
const RedisCacheTTL = 10 * time.Minute

// RedisCache is an optional, best-effort read-through front for Store's
// point lookups, for deployments that run the coordinator as more than one
// replica sharing a single durable log directory over a network
// filesystem — a local process-memory LRU alone would miss across
// replicas. Absent entirely in single-replica deployments (COORD_REDIS_URL
// unset); the durable append-only Store on disk remains canonical either
// way: Redis fronts it, it never replaces it.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already-connected client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func recordKey(interactionID string) string { return "coord:interaction:" + interactionID }

// Get returns a cached record, if present and not expired.
func (c *RedisCache) Get(ctx context.Context, interactionID string) (Record, bool) {
	if c == nil || c.client == nil {
		return Record{}, false
	}
	data, err := c.client.Get(ctx, recordKey(interactionID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logging.Warn("LogPipeline", "redis cache get failed for %s: %v", interactionID, err)
		}
		return Record{}, false
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		logging.Warn("LogPipeline", "redis cache decode failed for %s: %v", interactionID, err)
		return Record{}, false
	}
	return r, true
}

// Set writes r through to the cache with RedisCacheTTL, best-effort.
func (c *RedisCache) Set(ctx context.Context, r Record) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, recordKey(r.InteractionID), data, RedisCacheTTL).Err(); err != nil {
		logging.Warn("LogPipeline", "redis cache set failed for %s: %v", r.InteractionID, err)
	}
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
