package domain

import (
	"context"
	"time"
)

// Cache is a small read-through cache for window-count lookups during
// rule evaluation. Transactions visible to a run are immutable, so a
// short TTL is a correctness-safe optimization, not a source of drift.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Close() error
}

// CacheConfig selects and tunes a cache backend.
type CacheConfig struct {
	Type string `mapstructure:"type"` // "memory", "redis" or "none"

	// Memory (LRU) settings
	MaxEntries int `mapstructure:"max_entries"`

	// TTL in seconds applied to window-count entries.
	TTLSeconds int `mapstructure:"ttl_seconds"`

	// Redis settings
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// TTL returns the configured entry TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TTLSeconds) * time.Second
}
