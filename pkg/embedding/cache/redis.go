package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/cortexflow/ragcore/pkg/models"
	"github.com/cortexflow/ragcore/pkg/observability"
)

// RedisCache is a Cache backed by Redis. TTL enforcement rides on Redis key
// expiry; invalidation walks matching keys with SCAN so it never blocks the
// server the way KEYS would.
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     observability.Logger
	metrics    observability.MetricsClient
}

// RedisConfig configures the Redis connection
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisCacheOption configures a RedisCache
type RedisCacheOption func(*RedisCache)

// WithRedisLogger sets the logger
func WithRedisLogger(logger observability.Logger) RedisCacheOption {
	return func(c *RedisCache) { c.logger = logger }
}

// WithRedisMetrics sets the metrics client
func WithRedisMetrics(metrics observability.MetricsClient) RedisCacheOption {
	return func(c *RedisCache) { c.metrics = metrics }
}

// NewRedisCache creates a Redis-backed cache and verifies connectivity
func NewRedisCache(cfg RedisConfig, defaultTTL time.Duration, opts ...RedisCacheOption) (*RedisCache, error) {
	if defaultTTL <= 0 {
		defaultTTL = models.DefaultCacheTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	c := &RedisCache{
		client:     client,
		defaultTTL: defaultTTL,
		logger:     observability.NewLogger("embedding.cache.redis"),
		metrics:    observability.NewNoopMetricsClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewRedisCacheWithClient wraps an existing client, used by tests
func NewRedisCacheWithClient(client *redis.Client, defaultTTL time.Duration, opts ...RedisCacheOption) *RedisCache {
	if defaultTTL <= 0 {
		defaultTTL = models.DefaultCacheTTL
	}
	c := &RedisCache{
		client:     client,
		defaultTTL: defaultTTL,
		logger:     observability.NewLogger("embedding.cache.redis"),
		metrics:    observability.NewNoopMetricsClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached vector for (tenant, text, model)
func (c *RedisCache) Get(ctx context.Context, tenantID uuid.UUID, text, modelName string) (models.Vector, bool, error) {
	key := Key(tenantID, text, modelName)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			c.metrics.RecordCacheOperation("get", false, 0)
			return nil, false, nil
		}
		return nil, false, err
	}

	var vector models.Vector
	if err := json.Unmarshal(data, &vector); err != nil {
		// A corrupt entry behaves as a miss and is removed
		c.logger.Warn("dropping undecodable cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		_ = c.client.Del(ctx, key).Err()
		c.metrics.RecordCacheOperation("get", false, 0)
		return nil, false, nil
	}

	c.metrics.RecordCacheOperation("get", true, 0)
	return vector, true, nil
}

// Put stores a vector with the given TTL
func (c *RedisCache) Put(ctx context.Context, tenantID uuid.UUID, text, modelName string, vector models.Vector, ttl time.Duration) error {
	if vector.IsZero() {
		return models.NewValidationError("vector", "refusing to cache empty or zero-norm vector")
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, Key(tenantID, text, modelName), data, ttl).Err()
}

// InvalidateTenant removes every entry for one tenant
func (c *RedisCache) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	pattern := KeyPrefix + tenantID.String() + ":*"
	removed, err := c.deleteByPattern(ctx, pattern)
	if err != nil {
		return err
	}
	c.logger.Info("invalidated tenant cache entries", map[string]interface{}{
		"tenant_id": tenantID.String(),
		"removed":   removed,
	})
	return nil
}

// InvalidateModel removes every entry for one model across tenants. SCAN
// globs cannot express "exactly the model segment", so keys are scanned by
// prefix and matched structurally client-side.
func (c *RedisCache) InvalidateModel(ctx context.Context, modelName string) error {
	var removed int
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if model, ok := keyModel(key); !ok || model != modelName {
			continue
		}
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return err
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return err
	}
	c.logger.Info("invalidated model cache entries", map[string]interface{}{
		"model":   modelName,
		"removed": removed,
	})
	return nil
}

// Stats returns entry count and default TTL
func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	var entries int64
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		entries++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, err
	}
	return Stats{
		Entries:    entries,
		DefaultTTL: c.defaultTTL,
	}, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	var removed int
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, iter.Err()
}
