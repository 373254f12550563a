package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// CachedHistory is a read-through cache over a HistoryReader. Several
// rules query the same account windows for the same timestamps; the
// counts are immutable within a run, so caching them is safe.
type CachedHistory struct {
	inner HistoryReader
	cache domain.Cache
	ttl   time.Duration
}

// NewCachedHistory wraps inner with the given cache.
func NewCachedHistory(inner HistoryReader, cache domain.Cache, ttl time.Duration) *CachedHistory {
	return &CachedHistory{inner: inner, cache: cache, ttl: ttl}
}

func (h *CachedHistory) CountAccountTransactionsInWindow(ctx context.Context, accountID int64, from, to time.Time) (int, error) {
	key := fmt.Sprintf("wc:%d:%d:%d", accountID, from.Unix(), to.Unix())
	if v, ok := h.cache.Get(ctx, key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n, nil
		}
	}
	n, err := h.inner.CountAccountTransactionsInWindow(ctx, accountID, from, to)
	if err != nil {
		return 0, err
	}
	h.cache.Set(ctx, key, strconv.Itoa(n), h.ttl)
	return n, nil
}

func (h *CachedHistory) CountAccountAmountRange(ctx context.Context, accountID int64, minAmount, maxAmount float64, from, to time.Time) (int, error) {
	key := fmt.Sprintf("ar:%d:%g:%g:%d:%d", accountID, minAmount, maxAmount, from.Unix(), to.Unix())
	if v, ok := h.cache.Get(ctx, key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n, nil
		}
	}
	n, err := h.inner.CountAccountAmountRange(ctx, accountID, minAmount, maxAmount, from, to)
	if err != nil {
		return 0, err
	}
	h.cache.Set(ctx, key, strconv.Itoa(n), h.ttl)
	return n, nil
}

func (h *CachedHistory) DistinctCustomerCountries(ctx context.Context, customerID int64, from, to time.Time) ([]string, error) {
	key := fmt.Sprintf("cc:%d:%d:%d", customerID, from.Unix(), to.Unix())
	if v, ok := h.cache.Get(ctx, key); ok {
		if v == "" {
			return nil, nil
		}
		return strings.Split(v, ","), nil
	}
	countries, err := h.inner.DistinctCustomerCountries(ctx, customerID, from, to)
	if err != nil {
		return nil, err
	}
	h.cache.Set(ctx, key, strings.Join(countries, ","), h.ttl)
	return countries, nil
}
