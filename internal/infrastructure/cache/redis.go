package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sentinel-lab/internal/config"
	"sentinel-lab/pkg/logger"
)

// Cache key namespaces. Every key also carries the configured prefix.
const (
	KeyEnrichmentPrefix = "cache:enrichment:"
	KeyRateLimitPrefix  = "rate_limit:"
	KeyWorkerLock       = "worker:lock:"
	KeyRunHistory       = "worker:runs:"
	KeyStats            = "cache:stats"
)

// RedisCache wraps the Redis client with the typed operations the platform
// needs: the enrichment hot tier, worker locks and run history, rate
// limiting, and small JSON blobs.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *logger.Logger
}

// NewRedis creates a new Redis client and verifies the connection
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis")

	return &RedisCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    log,
	}, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// key prepends the namespace prefix to a key
func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// Get retrieves a value. Returns redis.Nil when the key is absent.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, c.key(key)).Result()
}

// GetJSON retrieves and unmarshals a JSON value
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// Set stores a value with a TTL (0 = no expiry)
func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// SetJSON marshals and stores a value
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

// Delete removes keys
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	prefixedKeys := make([]string, len(keys))
	for i, k := range keys {
		prefixedKeys[i] = c.key(k)
	}
	return c.client.Del(ctx, prefixedKeys...).Err()
}

// Expire sets a TTL on a key
func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, c.key(key), ttl).Err()
}

// SetNX sets a value only if the key does not exist
func (c *RedisCache) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.key(key), value, ttl).Result()
}

// CacheEnrichment caches an enrichment record by IP in the hot tier
func (c *RedisCache) CacheEnrichment(ctx context.Context, ip string, data any, ttl time.Duration) error {
	return c.SetJSON(ctx, KeyEnrichmentPrefix+ip, data, ttl)
}

// GetCachedEnrichment retrieves a hot-tier enrichment record
func (c *RedisCache) GetCachedEnrichment(ctx context.Context, ip string, dest any) error {
	return c.GetJSON(ctx, KeyEnrichmentPrefix+ip, dest)
}

// AcquireLock attempts to acquire a distributed worker lock
func (c *RedisCache) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, KeyWorkerLock+lockKey, "locked", ttl)
}

// ReleaseLock releases a distributed worker lock
func (c *RedisCache) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.Delete(ctx, KeyWorkerLock+lockKey)
}

// RefreshLock extends a held lock's TTL
func (c *RedisCache) RefreshLock(ctx context.Context, lockKey string, ttl time.Duration) error {
	return c.Expire(ctx, KeyWorkerLock+lockKey, ttl)
}

// RecordWorkerRun prepends a run entry to a worker's history list, keeping
// the newest keep entries
func (c *RedisCache) RecordWorkerRun(ctx context.Context, worker string, entry string, keep int64) error {
	key := c.key(KeyRunHistory + worker)

	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, keep-1)
	_, err := pipe.Exec(ctx)
	return err
}

// WorkerRunHistory returns the newest count entries of a worker's run history
func (c *RedisCache) WorkerRunHistory(ctx context.Context, worker string, count int64) ([]string, error) {
	return c.client.LRange(ctx, c.key(KeyRunHistory+worker), 0, count-1).Result()
}

// CheckRateLimit checks and increments a fixed-window rate limit counter.
// Returns (allowed, remaining, resetTime, error).
func (c *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error) {
	now := time.Now()
	windowKey := c.key(fmt.Sprintf("%s%s:%d", KeyRateLimitPrefix, key, now.Unix()/int64(window.Seconds())))

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, time.Time{}, err
	}

	count := incr.Val()
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= limit, remaining, now.Add(window), nil
}
