package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/ladder/internal/domain"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every Redis key written by Ladder.
const keyPrefix = "ladder:"

// incrWithExpiry increments KEYS[1] and starts its window on first use.
var incrWithExpiry = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache implements domain.Cache on Redis.
// Used as the pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value, returning nil on a miss.
func (c *RedisCache) Get(ctx context.Context, merchantID string, key string) ([]byte, error) {
	if merchantID == "" {
		return nil, ErrMerchantRequired
	}

	val, err := c.client.Get(ctx, redisKey(merchantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value with TTL.
func (c *RedisCache) Set(ctx context.Context, merchantID string, key string, value []byte, ttl time.Duration) error {
	if merchantID == "" {
		return ErrMerchantRequired
	}
	return c.client.Set(ctx, redisKey(merchantID, key), value, ttl).Err()
}

// Delete removes a value.
func (c *RedisCache) Delete(ctx context.Context, merchantID string, key string) error {
	if merchantID == "" {
		return ErrMerchantRequired
	}
	return c.client.Del(ctx, redisKey(merchantID, key)).Err()
}

// GetProgram retrieves a cached program document.
func (c *RedisCache) GetProgram(ctx context.Context, merchantID string, programID string) (*domain.PersistedProgram, error) {
	return getProgram(ctx, c, merchantID, programID)
}

// SetProgram caches a program document.
func (c *RedisCache) SetProgram(ctx context.Context, merchantID string, programID string, doc *domain.PersistedProgram, ttl time.Duration) error {
	return setProgram(ctx, c, merchantID, programID, doc, ttl)
}

// IncrementCounter atomically increments a counter whose window starts on
// the first increment.
func (c *RedisCache) IncrementCounter(ctx context.Context, merchantID string, key string, window time.Duration) (int64, error) {
	if merchantID == "" {
		return 0, ErrMerchantRequired
	}

	fullKey := redisKey(merchantID, "counter:"+key)
	return incrWithExpiry.Run(ctx, c.client, []string{fullKey}, window.Milliseconds()).Int64()
}

// ResetCounter drops a counter.
func (c *RedisCache) ResetCounter(ctx context.Context, merchantID string, key string) error {
	if merchantID == "" {
		return ErrMerchantRequired
	}
	return c.client.Del(ctx, redisKey(merchantID, "counter:"+key)).Err()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(merchantID, key string) string {
	return keyPrefix + scopedKey(merchantID, key)
}
