package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexflow/ragcore/pkg/models"
)

func TestKeyDerivation(t *testing.T) {
	tenantID := uuid.New()

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t,
			Key(tenantID, "cats are mammals", "mock-small"),
			Key(tenantID, "cats are mammals", "mock-small"))
	})

	t.Run("whitespace is trimmed, case preserved", func(t *testing.T) {
		assert.Equal(t,
			Key(tenantID, "  cats are mammals  ", "mock-small"),
			Key(tenantID, "cats are mammals", "mock-small"))
		assert.NotEqual(t,
			Key(tenantID, "Cats Are Mammals", "mock-small"),
			Key(tenantID, "cats are mammals", "mock-small"))
	})

	t.Run("tenant and model separate key spaces", func(t *testing.T) {
		other := uuid.New()
		assert.NotEqual(t,
			Key(tenantID, "same text", "mock-small"),
			Key(other, "same text", "mock-small"))
		assert.NotEqual(t,
			Key(tenantID, "same text", "mock-small"),
			Key(tenantID, "same text", "mock-large"))
	})
}

func TestMemoryCachePutGet(t *testing.T) {
	c, err := NewMemoryCache(100, time.Hour)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	tenantID := uuid.New()
	vector := models.Vector{0.6, 0.8}

	_, hit, err := c.Get(ctx, tenantID, "some text", "mock-small")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Put(ctx, tenantID, "some text", "mock-small", vector, 0))

	got, hit, err := c.Get(ctx, tenantID, "some text", "mock-small")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, vector, got)

	// Hit never crosses tenants for identical text
	_, hit, err = c.Get(ctx, uuid.New(), "some text", "mock-small")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryCacheRejectsZeroVector(t *testing.T) {
	c, err := NewMemoryCache(100, time.Hour)
	require.NoError(t, err)

	err = c.Put(context.Background(), uuid.New(), "text", "mock-small", models.Vector{0, 0}, 0)
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	now := time.Now()
	c, err := NewMemoryCache(100, time.Hour, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	ctx := context.Background()
	tenantID := uuid.New()

	require.NoError(t, c.Put(ctx, tenantID, "expiring", "mock-small", models.Vector{1, 0}, 10*time.Minute))

	_, hit, err := c.Get(ctx, tenantID, "expiring", "mock-small")
	require.NoError(t, err)
	assert.True(t, hit)

	now = now.Add(11 * time.Minute)

	_, hit, err = c.Get(ctx, tenantID, "expiring", "mock-small")
	require.NoError(t, err)
	assert.False(t, hit, "expired entry must behave as absent")

	// Lazy removal on read physically dropped the entry
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Entries)
}

func TestMemoryCacheInvalidateTenant(t *testing.T) {
	c, err := NewMemoryCache(100, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	tenantA := uuid.New()
	tenantB := uuid.New()

	require.NoError(t, c.Put(ctx, tenantA, "text one", "mock-small", models.Vector{1, 0}, 0))
	require.NoError(t, c.Put(ctx, tenantA, "text two", "mock-small", models.Vector{0, 1}, 0))
	require.NoError(t, c.Put(ctx, tenantB, "text one", "mock-small", models.Vector{1, 0}, 0))

	require.NoError(t, c.InvalidateTenant(ctx, tenantA))

	_, hit, _ := c.Get(ctx, tenantA, "text one", "mock-small")
	assert.False(t, hit)
	_, hit, _ = c.Get(ctx, tenantB, "text one", "mock-small")
	assert.True(t, hit, "other tenant's entries survive")
}

func TestMemoryCacheInvalidateModel(t *testing.T) {
	c, err := NewMemoryCache(100, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	tenantA := uuid.New()
	tenantB := uuid.New()

	require.NoError(t, c.Put(ctx, tenantA, "text", "mock-small", models.Vector{1, 0}, 0))
	require.NoError(t, c.Put(ctx, tenantB, "text", "mock-small", models.Vector{1, 0}, 0))
	require.NoError(t, c.Put(ctx, tenantA, "text", "mock-large", models.Vector{0, 1}, 0))

	require.NoError(t, c.InvalidateModel(ctx, "mock-small"))

	_, hit, _ := c.Get(ctx, tenantA, "text", "mock-small")
	assert.False(t, hit)
	_, hit, _ = c.Get(ctx, tenantB, "text", "mock-small")
	assert.False(t, hit, "model invalidation spans tenants")
	_, hit, _ = c.Get(ctx, tenantA, "text", "mock-large")
	assert.True(t, hit, "other model's entries survive")
}

func TestKeyModelExtraction(t *testing.T) {
	tenantID := uuid.New()

	model, ok := keyModel(Key(tenantID, "text", "mock-small"))
	require.True(t, ok)
	assert.Equal(t, "mock-small", model)

	// Bedrock model IDs contain a colon
	model, ok = keyModel(Key(tenantID, "text", "amazon.titan-embed-text-v2:0"))
	require.True(t, ok)
	assert.Equal(t, "amazon.titan-embed-text-v2:0", model)

	_, ok = keyModel("unrelated:key")
	assert.False(t, ok)
}

func TestMemoryCacheInvalidateModelMatchesSegmentExactly(t *testing.T) {
	c, err := NewMemoryCache(100, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	tenantID := uuid.New()

	// "cache" also appears in the key prefix; only the model segment counts
	require.NoError(t, c.Put(ctx, tenantID, "text", "cache", models.Vector{1, 0}, 0))
	require.NoError(t, c.Put(ctx, tenantID, "text", "mock-small", models.Vector{0, 1}, 0))

	require.NoError(t, c.InvalidateModel(ctx, "cache"))

	_, hit, _ := c.Get(ctx, tenantID, "text", "cache")
	assert.False(t, hit)
	_, hit, _ = c.Get(ctx, tenantID, "text", "mock-small")
	assert.True(t, hit, "unrelated model survives despite the prefix collision")
}

func TestMemoryCacheCapacityEviction(t *testing.T) {
	c, err := NewMemoryCache(2, time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	tenantID := uuid.New()

	require.NoError(t, c.Put(ctx, tenantID, "one", "mock-small", models.Vector{1, 0}, 0))
	require.NoError(t, c.Put(ctx, tenantID, "two", "mock-small", models.Vector{0, 1}, 0))
	require.NoError(t, c.Put(ctx, tenantID, "three", "mock-small", models.Vector{1, 1}, 0))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Entries)

	_, hit, _ := c.Get(ctx, tenantID, "one", "mock-small")
	assert.False(t, hit, "oldest entry evicted at capacity")
}
