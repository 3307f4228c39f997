package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valinor-ai/haven/internal/entitlement"
)

const defaultKeyPrefix = "haven:limits:"

// RedisConfig holds connection settings for RedisLimitCache.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisLimitCache shares resolved limit sets across server instances.
type RedisLimitCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLimitCache creates a cache with its own client.
func NewRedisLimitCache(cfg RedisConfig) *RedisLimitCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisLimitCacheFromClient(client, cfg.KeyPrefix, cfg.TTL)
}

// NewRedisLimitCacheFromClient creates a cache on an existing client.
func NewRedisLimitCacheFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisLimitCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLimitCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisLimitCache) key(storeID string) string {
	return c.prefix + storeID
}

func (c *RedisLimitCache) Get(ctx context.Context, storeID string) (entitlement.Limits, bool, error) {
	val, err := c.client.Get(ctx, c.key(storeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var limits entitlement.Limits
	if err := json.Unmarshal(val, &limits); err != nil {
		return nil, false, fmt.Errorf("decoding cached limits: %w", err)
	}
	if limits == nil {
		limits = entitlement.Limits{}
	}
	return limits, true, nil
}

func (c *RedisLimitCache) Set(ctx context.Context, storeID string, limits entitlement.Limits) error {
	if limits == nil {
		limits = entitlement.Limits{}
	}
	val, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("encoding limits: %w", err)
	}
	return c.client.Set(ctx, c.key(storeID), val, c.ttl).Err()
}

func (c *RedisLimitCache) Invalidate(ctx context.Context, storeID string) error {
	return c.client.Del(ctx, c.key(storeID)).Err()
}

func (c *RedisLimitCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisLimitCache) Close() error {
	return c.client.Close()
}
