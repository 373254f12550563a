package rules

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/cache"
)

type countingHistory struct {
	fakeHistory
	calls int
}

func (c *countingHistory) CountAccountTransactionsInWindow(ctx context.Context, accountID int64, from, to time.Time) (int, error) {
	c.calls++
	return c.fakeHistory.CountAccountTransactionsInWindow(ctx, accountID, from, to)
}

func (c *countingHistory) DistinctCustomerCountries(ctx context.Context, customerID int64, from, to time.Time) ([]string, error) {
	c.calls++
	return c.fakeHistory.DistinctCustomerCountries(ctx, customerID, from, to)
}

func TestCachedHistory(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2025, 3, 1, 11, 45, 0, 0, time.UTC)
	to := from.Add(15 * time.Minute)

	t.Run("window count served from cache", func(t *testing.T) {
		inner := &countingHistory{fakeHistory: fakeHistory{windowCount: 7}}
		h := NewCachedHistory(inner, cache.NewLRUCache(10), time.Minute)

		for i := 0; i < 3; i++ {
			n, err := h.CountAccountTransactionsInWindow(ctx, 1, from, to)
			if err != nil || n != 7 {
				t.Fatalf("count = %d, %v; want 7", n, err)
			}
		}
		if inner.calls != 1 {
			t.Errorf("inner calls = %d, want 1", inner.calls)
		}
	})

	t.Run("distinct windows miss separately", func(t *testing.T) {
		inner := &countingHistory{fakeHistory: fakeHistory{windowCount: 7}}
		h := NewCachedHistory(inner, cache.NewLRUCache(10), time.Minute)

		h.CountAccountTransactionsInWindow(ctx, 1, from, to)
		h.CountAccountTransactionsInWindow(ctx, 2, from, to)
		h.CountAccountTransactionsInWindow(ctx, 1, from.Add(time.Minute), to)
		if inner.calls != 3 {
			t.Errorf("inner calls = %d, want 3", inner.calls)
		}
	})

	t.Run("countries round-trip including empty", func(t *testing.T) {
		inner := &countingHistory{fakeHistory: fakeHistory{countries: []string{"FR", "GB"}}}
		h := NewCachedHistory(inner, cache.NewLRUCache(10), time.Minute)

		got, err := h.DistinctCustomerCountries(ctx, 5, from, to)
		if err != nil || len(got) != 2 {
			t.Fatalf("countries = %v, %v", got, err)
		}
		got, _ = h.DistinctCustomerCountries(ctx, 5, from, to)
		if len(got) != 2 || got[0] != "FR" {
			t.Errorf("cached countries = %v", got)
		}
		if inner.calls != 1 {
			t.Errorf("inner calls = %d, want 1", inner.calls)
		}

		inner.countries = nil
		empty, err := h.DistinctCustomerCountries(ctx, 6, from, to)
		if err != nil || len(empty) != 0 {
			t.Fatalf("countries = %v, %v; want empty", empty, err)
		}
		empty, _ = h.DistinctCustomerCountries(ctx, 6, from, to)
		if len(empty) != 0 {
			t.Errorf("cached empty = %v", empty)
		}
	})
}
