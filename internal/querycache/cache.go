// Package querycache stores retrieval results keyed by tenant and query.
//
// Values are opaque bytes. Every entry belongs to exactly one tenant so a
// re-ingestion can drop all of that tenant's entries at once.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/siteindex/internal/config"
	"go.uber.org/zap"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Cache is a tenant-scoped read-through cache.
//
// Implementations are safe for concurrent use. Concurrent Sets of the same
// key are last-writer-wins.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, tenantID, key string) ([]byte, bool, error)

	// Set stores value under key until the cache TTL elapses.
	Set(ctx context.Context, tenantID, key string, value []byte) error

	// InvalidateTenant removes every entry belonging to tenantID.
	InvalidateTenant(ctx context.Context, tenantID string) error

	// Close releases resources held by the cache.
	Close() error
}

// New builds the cache selected by cfg.Backend.
func New(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL.Duration()

	switch cfg.Backend {
	case "memory", "":
		return NewMemoryCache(cfg.MaxEntries, ttl), nil
	case "redis":
		return NewRedisCache(ctx, RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password.Value(),
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       ttl,
		}, logger)
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, string) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, string, []byte) error         { return nil }
func (Noop) InvalidateTenant(context.Context, string) error            { return nil }
func (Noop) Close() error                                              { return nil }

const defaultTTL = 5 * time.Minute
