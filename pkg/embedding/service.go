// Package embedding orchestrates embedding generation: tenant-aware model
// resolution, cache lookups, provider batching with truncation, fallback
// routing, and backpressure. Providers and caches are injected; the service
// owns only the policy between them.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cortexflow/ragcore/pkg/embedding/cache"
	"github.com/cortexflow/ragcore/pkg/embedding/providers"
	"github.com/cortexflow/ragcore/pkg/models"
	"github.com/cortexflow/ragcore/pkg/observability"
	"github.com/cortexflow/ragcore/pkg/storage"
)

// TenantConfigSource supplies per-tenant configuration. The platform's
// tenant registry implements this; tests use a static map.
type TenantConfigSource interface {
	TenantConfig(ctx context.Context, tenantID uuid.UUID) (models.TenantConfig, error)
}

// GenerateRequest is one embedding generation call for a batch of texts
type GenerateRequest struct {
	TenantID   uuid.UUID   `json:"tenant_id"`
	DocumentID uuid.UUID   `json:"document_id,omitempty"`
	ChunkIDs   []uuid.UUID `json:"chunk_ids,omitempty"`
	Texts      []string    `json:"texts"`
	ModelName  string      `json:"model_name,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
}

// Validate rejects malformed requests before any provider or cache work
func (r *GenerateRequest) Validate() error {
	if r.TenantID == uuid.Nil {
		return models.NewValidationError("tenant_id", "tenant ID is required")
	}
	if len(r.Texts) == 0 {
		return models.NewValidationError("texts", "at least one text is required")
	}
	for i, text := range r.Texts {
		if strings.TrimSpace(text) == "" {
			return models.NewValidationError("texts", "text at index %d is empty", i)
		}
	}
	if len(r.ChunkIDs) > 0 && len(r.ChunkIDs) != len(r.Texts) {
		return models.NewValidationError("chunk_ids", "chunk ID count %d does not match text count %d", len(r.ChunkIDs), len(r.Texts))
	}
	return nil
}

// AsyncResult carries the outcome of a GenerateAsync call
type AsyncResult struct {
	Response *models.EmbeddingResponse
	Err      error
}

// GenerationService coordinates providers, cache, and tenant configuration.
// Concurrency is bounded: when the in-flight limit is reached new calls are
// rejected with ErrSaturated rather than queued.
type GenerationService struct {
	guards  map[string]*guardedProvider // provider name -> guard
	routes  map[string]string           // model name -> provider name
	tenants TenantConfigSource
	cache   cache.Cache
	sem     *semaphore.Weighted
	logger  observability.Logger
	metrics observability.MetricsClient

	// provider registrations collected during option application; guards are
	// built afterwards so they see the final logger regardless of option order
	pending []providerRegistration
}

type providerRegistration struct {
	provider providers.Provider
	guard    GuardConfig
}

// ServiceOption configures a GenerationService
type ServiceOption func(*GenerationService)

// WithProvider registers a provider and routes all its supported models to it
func WithProvider(p providers.Provider) ServiceOption {
	return WithGuardedProvider(p, GuardConfig{})
}

// WithGuardedProvider registers a provider with explicit guard tuning
func WithGuardedProvider(p providers.Provider, guard GuardConfig) ServiceOption {
	return func(s *GenerationService) {
		s.pending = append(s.pending, providerRegistration{provider: p, guard: guard})
	}
}

// WithMaxConcurrent bounds in-flight generation calls
func WithMaxConcurrent(n int64) ServiceOption {
	return func(s *GenerationService) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger observability.Logger) ServiceOption {
	return func(s *GenerationService) { s.logger = logger }
}

// WithMetrics sets the metrics client
func WithMetrics(metrics observability.MetricsClient) ServiceOption {
	return func(s *GenerationService) { s.metrics = metrics }
}

// NewGenerationService creates the orchestrator. At least one provider must
// be registered through the options.
func NewGenerationService(tenants TenantConfigSource, embeddingCache cache.Cache, opts ...ServiceOption) (*GenerationService, error) {
	if tenants == nil {
		return nil, fmt.Errorf("tenant config source is required")
	}
	if embeddingCache == nil {
		return nil, fmt.Errorf("embedding cache is required")
	}

	s := &GenerationService{
		guards:  make(map[string]*guardedProvider),
		routes:  make(map[string]string),
		tenants: tenants,
		cache:   embeddingCache,
		sem:     semaphore.NewWeighted(64),
		logger:  observability.NewLogger("embedding.service"),
		metrics: observability.NewNoopMetricsClient(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, reg := range s.pending {
		s.guards[reg.provider.Name()] = newGuardedProvider(reg.provider, reg.guard, s.logger)
		for _, m := range reg.provider.GetSupportedModels() {
			if m.IsActive {
				s.routes[m.Name] = reg.provider.Name()
			}
		}
	}
	s.pending = nil

	if len(s.guards) == 0 {
		return nil, fmt.Errorf("at least one provider must be registered")
	}
	return s, nil
}

// GenerateEmbeddings produces one vector per input text. Items succeed or
// fail independently: a cache hit is CACHED, a fresh vector is SUCCESS, and
// a text that failed on both the resolved model and the tenant fallback is
// FAILED. The call itself errors only on invalid input, saturation, or when
// every item failed.
func (s *GenerationService) GenerateEmbeddings(ctx context.Context, req GenerateRequest) (*models.EmbeddingResponse, error) {
	ctx, span := observability.StartSpan(ctx, "embedding.generate")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	if !s.sem.TryAcquire(1) {
		s.metrics.RecordCounter("embedding.saturated", 1, map[string]string{"tenant_id": req.TenantID.String()})
		return nil, models.ErrSaturated
	}
	defer s.sem.Release(1)

	start := time.Now()

	tenantCfg, err := s.tenants.TenantConfig(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolving tenant config: %w", err)
	}
	model := tenantCfg.EffectiveModel(req.ModelName)
	if model == "" {
		return nil, models.NewValidationError("model_name", "no model requested and tenant has no default model")
	}
	ttl := tenantCfg.EffectiveTTL()

	resp := &models.EmbeddingResponse{
		TenantID:   req.TenantID,
		DocumentID: req.DocumentID,
		ModelName:  model,
		Items:      make([]models.EmbeddingItem, len(req.Texts)),
	}
	for i, text := range req.Texts {
		chunkID := uuid.New()
		if len(req.ChunkIDs) > 0 {
			chunkID = req.ChunkIDs[i]
		}
		resp.Items[i] = models.EmbeddingItem{
			ChunkID: chunkID,
			Text:    text,
			Model:   model,
		}
	}

	// Cache pass: hits never touch a provider
	var misses []int
	for i, text := range req.Texts {
		vector, hit, err := s.cache.Get(ctx, req.TenantID, text, model)
		if err != nil {
			s.logger.Warn("cache read failed, treating as miss", map[string]interface{}{
				"tenant_id": req.TenantID.String(),
				"error":     err.Error(),
			})
		}
		if hit {
			resp.Items[i].Vector = vector
			resp.Items[i].Status = models.StatusCached
			continue
		}
		misses = append(misses, i)
	}

	// Primary pass over the resolved model
	failed := s.generateInto(ctx, resp, misses, model, ttl, false, req.RequestID)

	// Fallback pass for items the primary could not serve
	if len(failed) > 0 {
		fallback := tenantCfg.FallbackModel
		if fallback != "" && fallback != model {
			s.logger.Info("routing failed items to fallback model", map[string]interface{}{
				"tenant_id": req.TenantID.String(),
				"primary":   model,
				"fallback":  fallback,
				"items":     len(failed),
			})
			failed = s.generateInto(ctx, resp, failed, fallback, ttl, true, req.RequestID)
		}
		for _, i := range failed {
			resp.Items[i].Status = models.StatusFailed
			resp.Items[i].Vector = nil
		}
	}

	resp.Recount()
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()

	s.metrics.RecordLatency("embedding.generate", time.Since(start))
	s.metrics.RecordCounter("embedding.items.succeeded", float64(resp.SucceededCount), map[string]string{"model": model})
	s.metrics.RecordCounter("embedding.items.cached", float64(resp.CachedCount), map[string]string{"model": model})
	s.metrics.RecordCounter("embedding.items.failed", float64(resp.FailedCount), map[string]string{"model": model})

	if resp.AllFailed() {
		observability.RecordSpanError(span, models.ErrAllItemsFailed)
		return resp, models.ErrAllItemsFailed
	}
	return resp, nil
}

// generateInto runs provider batches for the given item indexes and fills
// successful results into resp. It returns the indexes that still failed.
func (s *GenerationService) generateInto(ctx context.Context, resp *models.EmbeddingResponse, indexes []int, model string, ttl time.Duration, isFallback bool, requestID string) []int {
	if len(indexes) == 0 {
		return nil
	}

	guard, info, err := s.route(model)
	if err != nil {
		for _, i := range indexes {
			resp.Items[i].Error = err.Error()
		}
		return indexes
	}

	batchSize := info.MaxBatchSize
	if batchSize <= 0 {
		batchSize = len(indexes)
	}

	var failed []int
	for offset := 0; offset < len(indexes); offset += batchSize {
		end := offset + batchSize
		if end > len(indexes) {
			end = len(indexes)
		}
		batch := indexes[offset:end]

		texts := make([]string, len(batch))
		for j, i := range batch {
			texts[j] = providers.TruncateText(resp.Items[i].Text, info.MaxTextLength)
		}

		batchResp, err := guard.generate(ctx, providers.BatchGenerateEmbeddingRequest{
			Texts:     texts,
			Model:     model,
			RequestID: requestID,
		})
		if err != nil {
			for _, i := range batch {
				resp.Items[i].Error = err.Error()
			}
			failed = append(failed, batch...)
			continue
		}

		for j, i := range batch {
			result := batchResp.Results[j]
			if result.Err != nil {
				resp.Items[i].Error = result.Err.Error()
				failed = append(failed, i)
				continue
			}
			resp.Items[i].Vector = result.Embedding
			resp.Items[i].Status = models.StatusSuccess
			resp.Items[i].Model = model
			resp.Items[i].Fallback = isFallback
			resp.Items[i].Error = ""

			if err := s.cache.Put(ctx, resp.TenantID, resp.Items[i].Text, model, result.Embedding, ttl); err != nil {
				s.logger.Warn("cache write failed", map[string]interface{}{
					"tenant_id": resp.TenantID.String(),
					"model":     model,
					"error":     err.Error(),
				})
			}
		}
	}
	return failed
}

// GenerateQueryEmbedding embeds a single query text and returns the vector
// together with the model that produced it.
func (s *GenerationService) GenerateQueryEmbedding(ctx context.Context, tenantID uuid.UUID, text, modelName string) (models.Vector, string, error) {
	resp, err := s.GenerateEmbeddings(ctx, GenerateRequest{
		TenantID:  tenantID,
		Texts:     []string{text},
		ModelName: modelName,
	})
	if err != nil {
		return nil, "", err
	}
	item := resp.Items[0]
	if item.Status == models.StatusFailed {
		return nil, "", fmt.Errorf("query embedding failed: %s", item.Error)
	}
	return item.Vector, item.Model, nil
}

// GenerateAsync runs GenerateEmbeddings in the background and delivers the
// result on the returned channel. Saturation is still checked synchronously
// inside the call, so a saturated service fails fast on the channel too.
func (s *GenerationService) GenerateAsync(ctx context.Context, req GenerateRequest) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		defer close(out)
		resp, err := s.GenerateEmbeddings(ctx, req)
		out <- AsyncResult{Response: resp, Err: err}
	}()
	return out
}

// EmbedAndStore generates embeddings and persists the successful items as
// vector records. Items produced by a fallback model are stored under that
// model so every (tenant, model) partition stays dimensionally uniform.
func (s *GenerationService) EmbedAndStore(ctx context.Context, req GenerateRequest, store storage.VectorStore) (*models.EmbeddingResponse, error) {
	resp, err := s.GenerateEmbeddings(ctx, req)
	if err != nil {
		return resp, err
	}

	byModel := make(map[string][]models.VectorRecord)
	for _, item := range resp.Items {
		if item.Status == models.StatusFailed {
			continue
		}
		byModel[item.Model] = append(byModel[item.Model], models.VectorRecord{
			TenantID:   req.TenantID,
			DocumentID: req.DocumentID,
			ChunkID:    item.ChunkID,
			ModelName:  item.Model,
			Vector:     item.Vector,
			Content:    item.Text,
			CreatedAt:  time.Now(),
		})
	}
	for model, records := range byModel {
		if err := store.Store(ctx, records); err != nil {
			return resp, fmt.Errorf("storing %d vectors for model %s: %w", len(records), model, err)
		}
	}
	return resp, nil
}

// InvalidateTenantCache removes all cached vectors for one tenant
func (s *GenerationService) InvalidateTenantCache(ctx context.Context, tenantID uuid.UUID) error {
	return s.cache.InvalidateTenant(ctx, tenantID)
}

// InvalidateModelCache removes all cached vectors for one model, across
// tenants. Used when a model version is rotated and old vectors are stale.
func (s *GenerationService) InvalidateModelCache(ctx context.Context, modelName string) error {
	return s.cache.InvalidateModel(ctx, modelName)
}

// CacheStats reports cache population
func (s *GenerationService) CacheStats(ctx context.Context) (cache.Stats, error) {
	return s.cache.Stats(ctx)
}

// HealthCheck probes every registered provider and reports per-provider status
func (s *GenerationService) HealthCheck(ctx context.Context) map[string]error {
	statuses := make(map[string]error, len(s.guards))
	for name, guard := range s.guards {
		statuses[name] = guard.provider.HealthCheck(ctx)
	}
	return statuses
}

// SupportedModels lists every model reachable through registered providers
func (s *GenerationService) SupportedModels() []providers.ModelInfo {
	var infos []providers.ModelInfo
	for _, guard := range s.guards {
		infos = append(infos, guard.provider.GetSupportedModels()...)
	}
	return infos
}

// Close releases provider and cache resources
func (s *GenerationService) Close() error {
	var firstErr error
	for _, guard := range s.guards {
		if err := guard.provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *GenerationService) route(model string) (*guardedProvider, providers.ModelInfo, error) {
	providerName, ok := s.routes[model]
	if !ok {
		return nil, providers.ModelInfo{}, models.NewValidationError("model_name", "no provider serves model %q", model)
	}
	guard := s.guards[providerName]
	info, err := guard.provider.GetModel(model)
	if err != nil {
		return nil, providers.ModelInfo{}, err
	}
	return guard, info, nil
}
