package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"pagesentry/internal/metrics"
)

const redisKeyPrefix = "pagesentry:cache:"

// RedisCache is the durable backend. Expiry is delegated to Redis key TTLs,
// so ClearExpired has nothing to do.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to the Redis instance at rawURL.
func NewRedisCache(rawURL string, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{rdb: redis.NewClient(opt), ttl: ttl, logger: logger}, nil
}

// Ping checks connectivity; used by the deep health check.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Client exposes the connection for other Redis users such as the rate
// limiter.
func (c *RedisCache) Client() *redis.Client {
	return c.rdb
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func (c *RedisCache) Get(ctx context.Context, key Key) ([]byte, bool) {
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", "key", key.String(), "error", err)
		}
		metrics.RecordCacheLookup("redis", false)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		metrics.RecordCacheLookup("redis", false)
		return nil, false
	}
	if time.Since(entry.Timestamp) > c.ttl {
		c.rdb.Del(ctx, redisKeyPrefix+key.String())
		metrics.RecordCacheLookup("redis", false)
		return nil, false
	}
	metrics.RecordCacheLookup("redis", true)
	return entry.Data, true
}

func (c *RedisCache) Set(ctx context.Context, key Key, data []byte) {
	entry := Entry{
		Key:       key.String(),
		URL:       key.URL,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+key.String(), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key.String(), "error", err)
	}
}

func (c *RedisCache) ClearByPattern(ctx context.Context, p Pattern) int {
	p = p.normalized()

	match := redisKeyPrefix + "*"
	if p.Type != "" {
		match = redisKeyPrefix + p.Type + ":*"
	}

	n := 0
	iter := c.rdb.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if p.URL != "" {
			raw, err := c.rdb.Get(ctx, k).Bytes()
			if err != nil {
				continue
			}
			var entry Entry
			if err := json.Unmarshal(raw, &entry); err != nil {
				continue
			}
			if !p.matches(entry.Key, entry.URL) {
				continue
			}
		}
		if err := c.rdb.Del(ctx, k).Err(); err == nil {
			n++
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache scan failed", "error", err)
	}
	return n
}

func (c *RedisCache) ClearExpired(context.Context) int {
	return 0
}
