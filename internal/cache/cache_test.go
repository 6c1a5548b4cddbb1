package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/ladder/internal/domain"
)

// fakeClock lets tests move LRU time forward without sleeping.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLRU(size int) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clock.now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	merchantID := "merchant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		c, _ := newTestLRU(100)
		if err := c.Set(ctx, merchantID, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, merchantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}

		miss, err := c.Get(ctx, merchantID, "nonexistent")
		if err != nil || miss != nil {
			t.Errorf("expected nil miss, got %v (err %v)", miss, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c, _ := newTestLRU(100)
		_ = c.Set(ctx, merchantID, "key2", []byte("value2"), time.Minute)

		if err := c.Delete(ctx, merchantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := c.Get(ctx, merchantID, "key2"); val != nil {
			t.Error("expected nil after delete")
		}
		if err := c.Delete(ctx, merchantID, "key2"); err != nil {
			t.Errorf("deleting a missing key should not fail: %v", err)
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		c, clock := newTestLRU(100)
		_ = c.Set(ctx, merchantID, "expiring", []byte("temp"), 2*time.Minute)

		clock.advance(time.Minute)
		if val, _ := c.Get(ctx, merchantID, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		clock.advance(2 * time.Minute)
		if val, _ := c.Get(ctx, merchantID, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expired entry should be dropped on read, size=%d", size)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		c, _ := newTestLRU(3)
		_ = c.Set(ctx, merchantID, "a", []byte("1"), time.Minute)
		_ = c.Set(ctx, merchantID, "b", []byte("2"), time.Minute)
		_ = c.Set(ctx, merchantID, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' is the least recently used.
		_, _ = c.Get(ctx, merchantID, "a")
		_ = c.Set(ctx, merchantID, "d", []byte("4"), time.Minute)

		if val, _ := c.Get(ctx, merchantID, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := c.Get(ctx, merchantID, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("MerchantIsolation", func(t *testing.T) {
		c, _ := newTestLRU(100)
		_ = c.Set(ctx, "merchant-001", "shared-key", []byte("one"), time.Minute)
		_ = c.Set(ctx, "merchant-002", "shared-key", []byte("two"), time.Minute)

		val1, _ := c.Get(ctx, "merchant-001", "shared-key")
		val2, _ := c.Get(ctx, "merchant-002", "shared-key")
		if string(val1) != "one" || string(val2) != "two" {
			t.Errorf("merchant values leaked: %q %q", val1, val2)
		}
	})

	t.Run("RequiresMerchantID", func(t *testing.T) {
		c, _ := newTestLRU(100)
		if err := c.Set(ctx, "", "key", []byte("value"), time.Minute); !errors.Is(err, ErrMerchantRequired) {
			t.Errorf("expected ErrMerchantRequired, got %v", err)
		}
		if _, err := c.Get(ctx, "", "key"); !errors.Is(err, ErrMerchantRequired) {
			t.Errorf("expected ErrMerchantRequired, got %v", err)
		}
		if _, err := c.IncrementCounter(ctx, "", "key", time.Minute); !errors.Is(err, ErrMerchantRequired) {
			t.Errorf("expected ErrMerchantRequired, got %v", err)
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		c, clock := newTestLRU(100)
		window := time.Minute

		for want := int64(1); want <= 3; want++ {
			got, err := c.IncrementCounter(ctx, merchantID, "delete-attempts:p1", window)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("expected count %d, got %d", want, got)
			}
		}

		clock.advance(window + time.Second)
		if got, _ := c.IncrementCounter(ctx, merchantID, "delete-attempts:p1", window); got != 1 {
			t.Errorf("expected count 1 after window reset, got %d", got)
		}
	})

	t.Run("ResetCounter", func(t *testing.T) {
		c, _ := newTestLRU(100)
		_, _ = c.IncrementCounter(ctx, merchantID, "delete-attempts:p1", time.Minute)
		_, _ = c.IncrementCounter(ctx, merchantID, "delete-attempts:p1", time.Minute)

		if err := c.ResetCounter(ctx, merchantID, "delete-attempts:p1"); err != nil {
			t.Fatalf("ResetCounter failed: %v", err)
		}
		if got, _ := c.IncrementCounter(ctx, merchantID, "delete-attempts:p1", time.Minute); got != 1 {
			t.Errorf("expected count 1 after reset, got %d", got)
		}
		if err := c.ResetCounter(ctx, "", "delete-attempts:p1"); !errors.Is(err, ErrMerchantRequired) {
			t.Errorf("expected ErrMerchantRequired, got %v", err)
		}
	})

	t.Run("ProgramDocument", func(t *testing.T) {
		c, _ := newTestLRU(100)
		doc := &domain.PersistedProgram{
			Name:         "Coffee Loyalty Program",
			PIN:          "2468",
			Type:         domain.PersistedProgramType,
			Status:       domain.ProgramStatusActive,
			Rewards:      []domain.PersistedReward{{ID: "reward-1", Type: domain.RewardVoucher}},
			TotalRewards: 1,
		}

		if err := c.SetProgram(ctx, merchantID, "program_1", doc, time.Minute); err != nil {
			t.Fatalf("SetProgram failed: %v", err)
		}

		got, err := c.GetProgram(ctx, merchantID, "program_1")
		if err != nil {
			t.Fatalf("GetProgram failed: %v", err)
		}
		if got == nil || got.Name != doc.Name || got.TotalRewards != 1 || got.Rewards[0].ID != "reward-1" {
			t.Errorf("unexpected cached program %+v", got)
		}

		missing, err := c.GetProgram(ctx, merchantID, "program_2")
		if err != nil || missing != nil {
			t.Errorf("expected nil for missing program, got %+v (err %v)", missing, err)
		}

		_ = c.Set(ctx, merchantID, domain.ProgramCacheKey("broken"), []byte("{not json"), time.Minute)
		if _, err := c.GetProgram(ctx, merchantID, "broken"); err == nil {
			t.Error("expected decode error for corrupt entry")
		}
	})

	t.Run("Close", func(t *testing.T) {
		c, _ := newTestLRU(10)
		_ = c.Set(ctx, merchantID, "k", []byte("v"), time.Minute)

		if err := c.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := c.Get(ctx, merchantID, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		lru, ok := c.(*LRUCache)
		if !ok {
			t.Fatal("expected LRUCache for memory type")
		}
		if _, capacity := lru.Stats(); capacity != 100 {
			t.Errorf("expected capacity 100, got %d", capacity)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestRedisKey(t *testing.T) {
	if got := redisKey("m1", domain.ProgramCacheKey("p1")); got != "ladder:m1:program:p1" {
		t.Errorf("unexpected redis key %q", got)
	}
}
