// Package cache provides a response cache for generated text. Supports an
// in-memory backend for single-instance deployments and Redis for
// multi-instance deployments behind a load balancer.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	appconfig "github.com/chengjon/taskmaster-pro-sub002/config"
)

// Cache stores generated responses keyed by request fingerprint.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the cached value for key. The second return is false
	// when no entry exists or it has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, subject to the backend's TTL.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases any resources held by the cache.
	Close() error
}

// Key builds a cache key by hashing the given request parts. Parts are
// length-prefixed before hashing so adjacent fields cannot collide.
func Key(parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		h.WriteString(strconv.Itoa(len(p)))
		h.WriteString(":")
		h.WriteString(p)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// New builds a cache from configuration. Type "none" disables caching and
// returns nil.
func New(cfg appconfig.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(cfg.CacheTTL()), nil
	case "redis":
		return NewRedisCache(RedisConfig{
			URL: cfg.Redis.URL,
			Key: cfg.Redis.Key,
			TTL: cfg.CacheTTL(),
		})
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (valid: memory, redis, none)", cfg.Type)
	}
}

// backends share this default when no TTL is configured.
const defaultTTL = time.Hour
