package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/cortexflow/ragcore/pkg/models"
	"github.com/cortexflow/ragcore/pkg/observability"
)

// MemoryCache is an in-process Cache backed by an LRU. Capacity bounds
// memory; TTL is checked on every read against an injectable clock so tests
// can drive expiry deterministically.
type MemoryCache struct {
	lru        *lru.Cache[string, memoryEntry]
	defaultTTL time.Duration
	now        func() time.Time
	logger     observability.Logger
	metrics    observability.MetricsClient
	mu         sync.Mutex
}

type memoryEntry struct {
	vector    models.Vector
	expiresAt time.Time
}

// MemoryCacheOption configures a MemoryCache
type MemoryCacheOption func(*MemoryCache)

// WithClock injects a clock, used by tests to control TTL expiry
func WithClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) { c.now = now }
}

// WithMemoryLogger sets the logger
func WithMemoryLogger(logger observability.Logger) MemoryCacheOption {
	return func(c *MemoryCache) { c.logger = logger }
}

// WithMemoryMetrics sets the metrics client
func WithMemoryMetrics(metrics observability.MetricsClient) MemoryCacheOption {
	return func(c *MemoryCache) { c.metrics = metrics }
}

// NewMemoryCache creates an in-memory cache holding at most maxEntries
func NewMemoryCache(maxEntries int, defaultTTL time.Duration, opts ...MemoryCacheOption) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if defaultTTL <= 0 {
		defaultTTL = models.DefaultCacheTTL
	}

	backing, err := lru.New[string, memoryEntry](maxEntries)
	if err != nil {
		return nil, err
	}

	c := &MemoryCache{
		lru:        backing,
		defaultTTL: defaultTTL,
		now:        time.Now,
		logger:     observability.NewLogger("embedding.cache.memory"),
		metrics:    observability.NewNoopMetricsClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached vector for (tenant, text, model)
func (c *MemoryCache) Get(ctx context.Context, tenantID uuid.UUID, text, modelName string) (models.Vector, bool, error) {
	key := Key(tenantID, text, modelName)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.metrics.RecordCacheOperation("get", false, 0)
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		// Lazy eviction on read
		c.lru.Remove(key)
		c.metrics.RecordCacheOperation("get", false, 0)
		return nil, false, nil
	}

	c.metrics.RecordCacheOperation("get", true, 0)
	return entry.vector.Clone(), true, nil
}

// Put stores a vector with the given TTL
func (c *MemoryCache) Put(ctx context.Context, tenantID uuid.UUID, text, modelName string, vector models.Vector, ttl time.Duration) error {
	if vector.IsZero() {
		return models.NewValidationError("vector", "refusing to cache empty or zero-norm vector")
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	key := Key(tenantID, text, modelName)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, memoryEntry{
		vector:    vector.Clone(),
		expiresAt: c.now().Add(ttl),
	})
	return nil
}

// InvalidateTenant removes every entry for one tenant
func (c *MemoryCache) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	prefix := KeyPrefix + tenantID.String() + ":"
	removed := c.removeMatching(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
	c.logger.Info("invalidated tenant cache entries", map[string]interface{}{
		"tenant_id": tenantID.String(),
		"removed":   removed,
	})
	return nil
}

// InvalidateModel removes every entry for one model across tenants
func (c *MemoryCache) InvalidateModel(ctx context.Context, modelName string) error {
	removed := c.removeMatching(func(key string) bool {
		model, ok := keyModel(key)
		return ok && model == modelName
	})
	c.logger.Info("invalidated model cache entries", map[string]interface{}{
		"model":   modelName,
		"removed": removed,
	})
	return nil
}

// Stats returns entry count and default TTL
func (c *MemoryCache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:    int64(c.lru.Len()),
		DefaultTTL: c.defaultTTL,
	}, nil
}

// Close implements Cache.Close
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	return nil
}

func (c *MemoryCache) removeMatching(match func(string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doomed []string
	for _, key := range c.lru.Keys() {
		if match(key) {
			doomed = append(doomed, key)
		}
	}
	for _, key := range doomed {
		c.lru.Remove(key)
	}
	return len(doomed)
}
