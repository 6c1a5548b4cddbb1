package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/ladder/internal/domain"
)

// ErrMerchantRequired is returned when a call omits the merchant scope.
var ErrMerchantRequired = errors.New("merchantID is required")

// New creates a cache based on configuration.
// "memory" returns an LRU cache. "redis" returns a Redis cache, or a
// TwoPhaseCache (LRU in front of Redis) when two-phase is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// byteStore is the raw key/value surface the program helpers are built on.
type byteStore interface {
	Get(ctx context.Context, merchantID string, key string) ([]byte, error)
	Set(ctx context.Context, merchantID string, key string, value []byte, ttl time.Duration) error
}

func getProgram(ctx context.Context, s byteStore, merchantID, programID string) (*domain.PersistedProgram, error) {
	data, err := s.Get(ctx, merchantID, domain.ProgramCacheKey(programID))
	if err != nil || data == nil {
		return nil, err
	}

	var doc domain.PersistedProgram
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode cached program %s: %w", programID, err)
	}
	return &doc, nil
}

func setProgram(ctx context.Context, s byteStore, merchantID, programID string, doc *domain.PersistedProgram, ttl time.Duration) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.Set(ctx, merchantID, domain.ProgramCacheKey(programID), data, ttl)
}

// TwoPhaseCache reads from a local LRU (L1) before Redis (L2) and writes
// through to both.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 30 * time.Second
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, merchantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, merchantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, merchantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, merchantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both L1 and L2. L1 keeps the shorter of the two TTLs.
func (c *TwoPhaseCache) Set(ctx context.Context, merchantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, merchantID, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, merchantID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, merchantID string, key string) error {
	if err := c.local.Delete(ctx, merchantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, merchantID, key)
}

// GetProgram retrieves a cached program document.
func (c *TwoPhaseCache) GetProgram(ctx context.Context, merchantID string, programID string) (*domain.PersistedProgram, error) {
	return getProgram(ctx, c, merchantID, programID)
}

// SetProgram caches a program document in both layers.
func (c *TwoPhaseCache) SetProgram(ctx context.Context, merchantID string, programID string, doc *domain.PersistedProgram, ttl time.Duration) error {
	return setProgram(ctx, c, merchantID, programID, doc, ttl)
}

// IncrementCounter always goes to Redis so attempts are counted across nodes.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, merchantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, merchantID, key, window)
}

// ResetCounter drops the Redis counter.
func (c *TwoPhaseCache) ResetCounter(ctx context.Context, merchantID string, key string) error {
	return c.remote.ResetCounter(ctx, merchantID, key)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
