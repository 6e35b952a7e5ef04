package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a shared Redis-backed cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces every key. Default: "siteindex:query:"
	KeyPrefix string

	// TTL bounds staleness of cached results. Default: 5m
	TTL time.Duration
}

// RedisCache shares cached results between service replicas.
//
// Keys have the form <prefix><tenant>:<sha256(key)> so a tenant's entries
// can be found with a single SCAN pattern.
type RedisCache struct {
	client *goredis.Client
	config RedisConfig
	logger *zap.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "siteindex:query:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisCache{client: client, config: cfg, logger: logger}, nil
}

func (c *RedisCache) tenantPrefix(tenantID string) string {
	return c.config.KeyPrefix + tenantID + ":"
}

func (c *RedisCache) key(tenantID, key string) string {
	sum := sha256.Sum256([]byte(key))
	return c.tenantPrefix(tenantID) + hex.EncodeToString(sum[:])
}

// Get returns the cached value, treating a missing key as a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.key(tenantID, key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

// Set stores value with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID, key string, value []byte) error {
	if err := c.client.Set(ctx, c.key(tenantID, key), value, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// InvalidateTenant scans for and deletes the tenant's keys.
func (c *RedisCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	iter := c.client.Scan(ctx, 0, c.tenantPrefix(tenantID)+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	c.logger.Debug("invalidated cached queries",
		zap.String("tenant_id", tenantID), zap.Int("keys", len(keys)))
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
