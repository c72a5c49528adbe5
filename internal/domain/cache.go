package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetBlocklistVerdict retrieves a cached blocklist lookup outcome.
	// Returns nil, nil on a cache miss.
	GetBlocklistVerdict(ctx context.Context, tenantID string, entityType, value string) (*BlocklistResult, error)

	// SetBlocklistVerdict caches a blocklist lookup outcome.
	SetBlocklistVerdict(ctx context.Context, tenantID string, entityType, value string, res *BlocklistResult, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and returns
	// the new value. Used by the velocity engine; increments must not be
	// lost under concurrent decisioning.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
