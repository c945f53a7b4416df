package embedding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cortexflow/ragcore/pkg/embedding/cache"
	"github.com/cortexflow/ragcore/pkg/embedding/providers"
	"github.com/cortexflow/ragcore/pkg/models"
	"github.com/cortexflow/ragcore/pkg/observability"
	"github.com/cortexflow/ragcore/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticTenants struct {
	cfg models.TenantConfig
}

func (s staticTenants) TenantConfig(ctx context.Context, tenantID uuid.UUID) (models.TenantConfig, error) {
	return s.cfg, nil
}

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewMemoryCache(1000, time.Hour)
	require.NoError(t, err)
	return c
}

func newTestService(t *testing.T, tenants TenantConfigSource, opts ...ServiceOption) *GenerationService {
	t.Helper()
	svc, err := NewGenerationService(tenants, newTestCache(t), opts...)
	require.NoError(t, err)
	return svc
}

func mockSmallTenants() staticTenants {
	return staticTenants{cfg: models.TenantConfig{DefaultModel: "mock-small"}}
}

func TestGenerateEmbeddingsSuccess(t *testing.T) {
	provider := providers.NewMockProvider()
	svc := newTestService(t, mockSmallTenants(), WithProvider(provider))

	resp, err := svc.GenerateEmbeddings(context.Background(), GenerateRequest{
		TenantID: uuid.New(),
		Texts:    []string{"cats are mammals", "stocks rose today"},
	})
	require.NoError(t, err)

	require.Len(t, resp.Items, 2)
	assert.Equal(t, 2, resp.SucceededCount)
	assert.Equal(t, 0, resp.FailedCount)
	for _, item := range resp.Items {
		assert.Equal(t, models.StatusSuccess, item.Status)
		assert.Equal(t, "mock-small", item.Model)
		assert.False(t, item.Fallback)
		assert.Len(t, item.Vector, 8)
	}
}

func TestGenerateEmbeddingsSecondCallIsCached(t *testing.T) {
	provider := providers.NewMockProvider()
	svc := newTestService(t, mockSmallTenants(), WithProvider(provider))
	ctx := context.Background()
	tenantID := uuid.New()

	first, err := svc.GenerateEmbeddings(ctx, GenerateRequest{
		TenantID: tenantID,
		Texts:    []string{"repeated text"},
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, first.Items[0].Status)

	second, err := svc.GenerateEmbeddings(ctx, GenerateRequest{
		TenantID: tenantID,
		Texts:    []string{"repeated text"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCached, second.Items[0].Status)
	assert.Equal(t, first.Items[0].Vector, second.Items[0].Vector, "cache hit is bit-identical")
	assert.Equal(t, 1, second.CachedCount)

	assert.Len(t, provider.BatchCalls(), 1, "cached text never reaches the provider")
}

func TestGenerateEmbeddingsCacheIsTenantScoped(t *testing.T) {
	provider := providers.NewMockProvider()
	svc := newTestService(t, mockSmallTenants(), WithProvider(provider))
	ctx := context.Background()

	_, err := svc.GenerateEmbeddings(ctx, GenerateRequest{
		TenantID: uuid.New(),
		Texts:    []string{"shared text"},
	})
	require.NoError(t, err)

	resp, err := svc.GenerateEmbeddings(ctx, GenerateRequest{
		TenantID: uuid.New(),
		Texts:    []string{"shared text"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, resp.Items[0].Status,
		"another tenant's cache entry must not serve this tenant")
}

func TestGenerateEmbeddingsFallbackOnPrimaryOutage(t *testing.T) {
	primary := providers.NewMockProvider(
		providers.WithMockName("primary"),
		providers.WithFailAll(),
	)
	fallback := providers.NewMockProvider(
		providers.WithMockName("fallback"),
		providers.WithMockModel(providers.ModelInfo{
			Name: "fallback-model", Dimensions: 8, MaxBatchSize: 16, MaxTextLength: 128, IsActive: true,
		}),
	)
	tenants := staticTenants{cfg: models.TenantConfig{
		DefaultModel:  "mock-small",
		FallbackModel: "fallback-model",
	}}
	// Model routing prefers the provider registered last for shared models,
	// so the primary is registered after the fallback
	svc := newTestService(t, tenants, WithProvider(fallback), WithProvider(primary))

	resp, err := svc.GenerateEmbeddings(context.Background(), GenerateRequest{
		TenantID: uuid.New(),
		Texts:    []string{"text one", "text two"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.SucceededCount)
	for _, item := range resp.Items {
		assert.Equal(t, models.StatusSuccess, item.Status)
		assert.True(t, item.Fallback, "item must report degraded status")
		assert.Equal(t, "fallback-model", item.Model)
	}
}

func TestGenerateEmbeddingsBatchPartialFailure(t *testing.T) {
	poisoned := "poisoned text number three"
	primary := providers.NewMockProvider(
		providers.WithMockName("primary"),
		providers.WithFailTexts(poisoned),
	)
	fallback := providers.NewMockProvider(
		providers.WithMockName("fallback"),
		providers.WithFailTexts(poisoned),
		providers.WithMockModel(providers.ModelInfo{
			Name: "fallback-model", Dimensions: 8, MaxBatchSize: 16, MaxTextLength: 128, IsActive: true,
		}),
	)
	tenants := staticTenants{cfg: models.TenantConfig{
		DefaultModel:  "mock-small",
		FallbackModel: "fallback-model",
	}}
	svc := newTestService(t, tenants, WithProvider(fallback), WithProvider(primary))

	texts := []string{"one", "two", poisoned, "four", "five"}
	resp, err := svc.GenerateEmbeddings(context.Background(), GenerateRequest{
		TenantID: uuid.New(),
		Texts:    texts,
	})
	require.NoError(t, err, "partial failure must not fail the whole call")

	require.Len(t, resp.Items, 5)
	assert.Equal(t, 4, resp.SucceededCount)
	assert.Equal(t, 1, resp.FailedCount)
	assert.Equal(t, models.StatusFailed, resp.Items[2].Status)
	assert.NotEmpty(t, resp.Items[2].Error)
	for _, i := range []int{0, 1, 3, 4} {
		assert.Equal(t, models.StatusSuccess, resp.Items[i].Status)
	}
}

func TestGenerateEmbeddingsAllFailed(t *testing.T) {
	provider := providers.NewMockProvider(providers.WithFailAll())
	svc := newTestService(t, mockSmallTenants(), WithProvider(provider))

	resp, err := svc.GenerateEmbeddings(context.Background(), GenerateRequest{
		TenantID: uuid.New(),
		Texts:    []string{"one", "two"},
	})
	require.ErrorIs(t, err, models.ErrAllItemsFailed)
	require.NotNil(t, resp, "aggregate response still reports per-item outcomes")
	assert.Equal(t, 2, resp.FailedCount)
}

func TestGenerateEmbeddingsEmptyTextRejected(t *testing.T) {
	provider := providers.NewMockProvider()
	svc := newTestService(t, mockSmallTenants(), WithProvider(provider))

	_, err := svc.GenerateEmbeddings(context.Background(), GenerateRequest{
		TenantID: uuid.New(),
		Texts:    []string{"fine", "   ", "also fine"},
	})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
	assert.Empty(t, provider.BatchCalls(), "validation failures never reach the provider")
}

func TestGenerateEmbeddingsPreservesInputOrderAcrossBatches(t *testing.T) {
	// mock-small has MaxBatchSize 4, so 10 texts force internal splitting
	provider := providers.NewMockProvider()
	svc := newTestService(t, mockSmallTenants(), WithProvider(provider))

	texts := []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9"}
	resp, err := svc.GenerateEmbeddings(context.Background(), GenerateRequest{
		TenantID: uuid.New(),
		Texts:    texts,
	})
	require.NoError(t, err)

	require.Len(t, resp.Items, len(texts))
	for i, item := range resp.Items {
		assert.Equal(t, texts[i], item.Text)
		assert.Equal(t, models.StatusSuccess, item.Status)
	}
	assert.GreaterOrEqual(t, len(provider.BatchCalls()), 3, "oversized batch was split")
}

func TestGenerateEmbeddingsSaturationFailsFast(t *testing.T) {
	provider := providers.NewMockProvider(providers.WithMockLatency(200 * time.Millisecond))
	svc := newTestService(t, mockSmallTenants(), WithProvider(provider), WithMaxConcurrent(1))
	ctx := context.Background()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, _ = svc.GenerateEmbeddings(ctx, GenerateRequest{
			TenantID: uuid.New(),
			Texts:    []string{"slow request"},
		})
	}()

	<-started
	time.Sleep(20 * time.Millisecond)

	_, err := svc.GenerateEmbeddings(ctx, GenerateRequest{
		TenantID: uuid.New(),
		Texts:    []string{"rejected request"},
	})
	assert.ErrorIs(t, err, models.ErrSaturated)
	<-done
}

func TestGenerateAsync(t *testing.T) {
	provider := providers.NewMockProvider()
	svc := newTestService(t, mockSmallTenants(), WithProvider(provider))

	result := <-svc.GenerateAsync(context.Background(), GenerateRequest{
		TenantID: uuid.New(),
		Texts:    []string{"async text"},
	})
	require.NoError(t, result.Err)
	require.NotNil(t, result.Response)
	assert.Equal(t, 1, result.Response.SucceededCount)
}

func TestGenerateQueryEmbedding(t *testing.T) {
	provider := providers.NewMockProvider()
	svc := newTestService(t, mockSmallTenants(), WithProvider(provider))

	vector, modelUsed, err := svc.GenerateQueryEmbedding(context.Background(), uuid.New(), "feline biology", "")
	require.NoError(t, err)
	assert.Equal(t, "mock-small", modelUsed)
	assert.Len(t, vector, 8)
}

func TestEmbedAndStore(t *testing.T) {
	provider := providers.NewMockProvider()
	svc := newTestService(t, mockSmallTenants(), WithProvider(provider))
	store := storage.NewMemoryStore(nil)
	ctx := context.Background()

	tenantID := uuid.New()
	documentID := uuid.New()
	chunkIDs := []uuid.UUID{uuid.New(), uuid.New()}

	resp, err := svc.EmbedAndStore(ctx, GenerateRequest{
		TenantID:   tenantID,
		DocumentID: documentID,
		ChunkIDs:   chunkIDs,
		Texts:      []string{"cats are mammals", "stocks rose today"},
	}, store)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.SucceededCount)

	records, err := store.GetByDocument(ctx, tenantID, documentID, "mock-small")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, chunkIDs[0], records[0].ChunkID)
	assert.Equal(t, "cats are mammals", records[0].Content)
}

type recordingLogger struct {
	observability.Logger
	mu       sync.Mutex
	messages []string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{Logger: observability.NewNoopLogger()}
}

func (l *recordingLogger) Warn(msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *recordingLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == msg {
			return true
		}
	}
	return false
}

func TestWithLoggerReachesGuardsRegardlessOfOptionOrder(t *testing.T) {
	logger := newRecordingLogger()
	provider := providers.NewMockProvider(providers.WithFailAll())

	// The provider option precedes the logger option; the guard must still
	// log through the injected logger
	svc := newTestService(t, mockSmallTenants(),
		WithGuardedProvider(provider, GuardConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			FailureThreshold:  2,
			OpenTimeout:       time.Minute,
		}),
		WithLogger(logger),
	)

	for i := 0; i < 3; i++ {
		_, _ = svc.GenerateEmbeddings(context.Background(), GenerateRequest{
			TenantID: uuid.New(),
			Texts:    []string{"text"},
		})
	}

	assert.True(t, logger.has("provider circuit state changed"),
		"breaker state change must surface on the configured logger")
}

func TestHealthCheckReportsPerProvider(t *testing.T) {
	healthy := providers.NewMockProvider(providers.WithMockName("healthy"))
	sick := providers.NewMockProvider(
		providers.WithMockName("sick"),
		providers.WithHealthCheckError(assert.AnError),
	)
	svc := newTestService(t, mockSmallTenants(), WithProvider(healthy), WithProvider(sick))

	statuses := svc.HealthCheck(context.Background())
	require.Len(t, statuses, 2)
	assert.NoError(t, statuses["healthy"])
	assert.Error(t, statuses["sick"])
}
