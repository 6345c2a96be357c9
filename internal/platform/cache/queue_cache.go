// Package cache provides a Redis-backed cache for rendered queue views.
// Caching is strictly best-effort: a Redis outage degrades to recomputing
// views from the database, never to request failures.
package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/db"
)

const keyPrefix = "queue:view:"

// QueueCache stores serialized per-clinic queue views in Redis with a short
// TTL. Keys are namespaced by tenant so clinic IDs cannot collide across
// operators sharing one Redis instance.
type QueueCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to Redis using a redis:// URL and returns a QueueCache.
func New(redisURL string, ttl time.Duration, logger zerolog.Logger) (*QueueCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewWithClient(redis.NewClient(opts), ttl, logger), nil
}

// NewWithClient wraps an existing Redis client. Used by tests.
func NewWithClient(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *QueueCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &QueueCache{client: client, ttl: ttl, logger: logger}
}

// Ping verifies the Redis connection.
func (c *QueueCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (c *QueueCache) Close() error {
	return c.client.Close()
}

func (c *QueueCache) key(ctx context.Context, clinicID string) string {
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = "default"
	}
	return keyPrefix + tenant + ":" + clinicID
}

// GetQueue returns the cached queue view for a clinic, if present.
func (c *QueueCache) GetQueue(ctx context.Context, clinicID string) ([]byte, bool) {
	payload, err := c.client.Get(ctx, c.key(ctx, clinicID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug().Err(err).Str("clinic_id", clinicID).Msg("queue cache read failed")
		}
		return nil, false
	}
	return payload, true
}

// SetQueue stores the queue view for a clinic with the configured TTL.
func (c *QueueCache) SetQueue(ctx context.Context, clinicID string, payload []byte) {
	if err := c.client.Set(ctx, c.key(ctx, clinicID), payload, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Str("clinic_id", clinicID).Msg("queue cache write failed")
	}
}

// Invalidate drops the cached view for a clinic after a queue mutation.
func (c *QueueCache) Invalidate(ctx context.Context, clinicID string) {
	if err := c.client.Del(ctx, c.key(ctx, clinicID)).Err(); err != nil && err != redis.Nil {
		c.logger.Debug().Err(err).Str("clinic_id", clinicID).Msg("queue cache invalidation failed")
	}
}
