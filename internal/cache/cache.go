// Package cache provides the window-count cache implementations.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// New creates a cache based on configuration. Type "none" disables
// caching entirely; evaluation results are identical either way, only
// query volume changes.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.MaxEntries), nil
	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "none", "":
		return nopCache{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

type nopCache struct{}

func (nopCache) Get(ctx context.Context, key string) (string, bool) { return "", false }

func (nopCache) Set(ctx context.Context, key, value string, ttl time.Duration) {}

func (nopCache) Close() error { return nil }
