package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

func TestLRUCache(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		c.Set(ctx, "key1", "value1", time.Minute)

		val, ok := c.Get(ctx, "key1")
		if !ok || val != "value1" {
			t.Errorf("Get = %q, %v; want value1, true", val, ok)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		if _, ok := c.Get(ctx, "nonexistent"); ok {
			t.Error("expected miss for unknown key")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		c.Set(ctx, "expiring", "temp", 10*time.Millisecond)

		if _, ok := c.Get(ctx, "expiring"); !ok {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		if _, ok := c.Get(ctx, "expiring"); ok {
			t.Error("expected miss after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		small.Set(ctx, "a", "1", time.Minute)
		small.Set(ctx, "b", "2", time.Minute)
		small.Set(ctx, "c", "3", time.Minute)

		// Access 'a' to make it recently used
		small.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		small.Set(ctx, "d", "4", time.Minute)

		if _, ok := small.Get(ctx, "b"); ok {
			t.Error("expected 'b' to be evicted")
		}
		if _, ok := small.Get(ctx, "a"); !ok {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("UpdateExisting", func(t *testing.T) {
		c.Set(ctx, "key1", "value2", time.Minute)
		val, _ := c.Get(ctx, "key1")
		if val != "value2" {
			t.Errorf("Get = %q, want updated value", val)
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", MaxEntries: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()
		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("got %T, want *LRUCache", c)
		}
	})

	t.Run("none", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "none"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		c.Set(context.Background(), "k", "v", time.Minute)
		if _, ok := c.Get(context.Background(), "k"); ok {
			t.Error("nop cache must always miss")
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
