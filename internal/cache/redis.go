package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ivf-outcome-server/internal/domain"
)

// RedisCache shares prediction results between server replicas.
type RedisCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

type cachedResults struct {
	Results   *domain.PredictionResults `json:"results"`
	CachedAt  time.Time                 `json:"cached_at"`
	ExpiresAt time.Time                 `json:"expires_at"`
}

// NewRedisCache connects to the Redis server named by config.RedisURL.
func NewRedisCache(ctx context.Context, config domain.CacheConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, config.DefaultTTL), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, defaultTTL time.Duration) *RedisCache {
	return &RedisCache{redis: client, defaultTTL: defaultTTL}
}

// Get retrieves cached results. Corrupt or expired entries are removed and reported as misses.
func (c *RedisCache) Get(ctx context.Context, key string) (*domain.PredictionResults, bool, error) {
	val, err := c.redis.Get(ctx, KeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get prediction cache: %w", err)
	}

	var cached cachedResults
	if err := json.Unmarshal([]byte(val), &cached); err != nil || cached.Results == nil {
		c.redis.Del(ctx, KeyPrefix+key)
		return nil, false, nil
	}

	if !cached.ExpiresAt.IsZero() && time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, KeyPrefix+key)
		return nil, false, nil
	}

	return cached.Results, true, nil
}

// Set caches results for ttl, or the default TTL when ttl is zero.
func (c *RedisCache) Set(ctx context.Context, key string, results *domain.PredictionResults, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	cached := cachedResults{Results: results, CachedAt: now}
	if ttl > 0 {
		cached.ExpiresAt = now.Add(ttl)
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction cache data: %w", err)
	}

	return c.redis.Set(ctx, KeyPrefix+key, data, ttl).Err()
}

// Delete removes a single entry.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.redis.Del(ctx, KeyPrefix+key).Err()
}

// InvalidateAll removes every prediction entry, for example after a model change.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan prediction keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete prediction keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping checks if the Redis connection is alive.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.redis.Close()
}
