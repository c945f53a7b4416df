// Package search serves tenant-scoped similarity queries on top of the
// embedding service and a vector store: plain semantic search, batched
// queries, hybrid semantic+keyword ranking, and document-level similarity.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/cortexflow/ragcore/pkg/embedding"
	"github.com/cortexflow/ragcore/pkg/models"
	"github.com/cortexflow/ragcore/pkg/observability"
	"github.com/cortexflow/ragcore/pkg/storage"
)

// Hybrid ranking weights. Semantic similarity dominates; keyword overlap
// nudges results that literally contain the query terms.
const (
	semanticWeight = 0.7
	keywordWeight  = 0.3
)

// defaultBatchConcurrency bounds parallel queries inside SearchBatch
const defaultBatchConcurrency = 8

// Service answers similarity queries for one vector store
type Service struct {
	embedder *embedding.GenerationService
	store    storage.VectorStore
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// Option configures a search Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics client
func WithMetrics(metrics observability.MetricsClient) Option {
	return func(s *Service) { s.metrics = metrics }
}

// NewService creates a search service over the given embedder and store
func NewService(embedder *embedding.GenerationService, store storage.VectorStore, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedding service is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	s := &Service{
		embedder: embedder,
		store:    store,
		logger:   observability.NewLogger("search.service"),
		metrics:  observability.NewNoopMetricsClient(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Search embeds the query text and returns the ranked matches. An empty
// result set is a successful search, not an error.
func (s *Service) Search(ctx context.Context, query models.SearchQuery) (*models.SearchResponse, error) {
	ctx, span := observability.StartSpan(ctx, "search.semantic",
		attribute.String("tenant_id", query.TenantID.String()))
	defer span.End()

	if err := query.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	vector, modelUsed, err := s.embedder.GenerateQueryEmbedding(ctx, query.TenantID, query.Query, query.ModelName)
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := s.store.Search(ctx, storage.VectorQuery{
		TenantID:       query.TenantID,
		ModelName:      modelUsed,
		Vector:         vector,
		TopK:           query.TopK,
		Threshold:      query.Threshold,
		DocumentFilter: query.DocumentFilter,
	})
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, err
	}

	s.stripPayload(results, query)
	s.metrics.RecordLatency("search.semantic", time.Since(start))

	return &models.SearchResponse{
		TenantID:     query.TenantID,
		Query:        query.Query,
		ModelName:    modelUsed,
		Results:      results,
		TotalResults: len(results),
		SearchTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// SearchBatch runs independent queries concurrently. Each query succeeds or
// fails on its own; the response slice matches the input by index and failed
// slots carry a nil response with the error in Errors.
func (s *Service) SearchBatch(ctx context.Context, queries []models.SearchQuery) ([]*models.SearchResponse, []error) {
	responses := make([]*models.SearchResponse, len(queries))
	errs := make([]error, len(queries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultBatchConcurrency)

	for i := range queries {
		i := i
		g.Go(func() error {
			responses[i], errs[i] = s.Search(ctx, queries[i])
			// Individual failures stay in errs; the group only aborts on
			// context cancellation
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		for i := range errs {
			if errs[i] == nil && responses[i] == nil {
				errs[i] = err
			}
		}
	}
	return responses, errs
}

// HybridSearch blends semantic similarity with keyword overlap. The final
// score is 0.7 * cosine + 0.3 * (fraction of keywords present in the chunk
// content), which keeps ranking deterministic for a fixed corpus. The query
// threshold applies to the semantic similarity before blending, so a strong
// semantic match is never excluded for lacking keyword overlap. With no
// explicit keywords the query's own terms are used.
func (s *Service) HybridSearch(ctx context.Context, query models.SearchQuery, keywords []string) (*models.SearchResponse, error) {
	ctx, span := observability.StartSpan(ctx, "search.hybrid",
		attribute.String("tenant_id", query.TenantID.String()))
	defer span.End()

	if err := query.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	// The semantic pass always needs content for keyword scoring, even when
	// the caller asked for content-free results
	semanticQuery := query
	semanticQuery.IncludeContent = true
	// Over-fetch so keyword re-ranking has candidates beyond the final topK.
	// The threshold gates on semantic similarity here; keyword blending only
	// reorders results that already qualify.
	semanticQuery.TopK = query.TopK * 3

	resp, err := s.Search(ctx, semanticQuery)
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, err
	}

	terms := normalizeTerms(keywords)
	if len(terms) == 0 {
		terms = queryTerms(query.Query)
	}
	type ranked struct {
		result models.SearchResult
		rank   int // position from the semantic pass, the deterministic tie-break
	}
	blended := make([]ranked, 0, len(resp.Results))
	for rank, r := range resp.Results {
		r.Score = semanticWeight*r.Score + keywordWeight*keywordScore(terms, r.Content)
		blended = append(blended, ranked{result: r, rank: rank})
	}

	sort.Slice(blended, func(i, j int) bool {
		if blended[i].result.Score != blended[j].result.Score {
			return blended[i].result.Score > blended[j].result.Score
		}
		return blended[i].rank < blended[j].rank
	})
	if len(blended) > query.TopK {
		blended = blended[:query.TopK]
	}

	results := make([]models.SearchResult, len(blended))
	for i, b := range blended {
		results[i] = b.result
	}
	s.stripPayload(results, query)
	s.metrics.RecordLatency("search.hybrid", time.Since(start))

	return &models.SearchResponse{
		TenantID:     query.TenantID,
		Query:        query.Query,
		ModelName:    resp.ModelName,
		Results:      results,
		TotalResults: len(results),
		SearchTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// DocumentMatch is one document-level similarity hit
type DocumentMatch struct {
	DocumentID uuid.UUID `json:"document_id"`
	Score      float64   `json:"score"`
	ChunkHits  int       `json:"chunk_hits"`
}

// FindSimilarDocuments ranks other documents by similarity to the given
// document. The document is represented by the centroid of its chunk
// vectors; its own chunks are excluded from the candidate set. A document's
// score is its best-matching chunk's similarity.
func (s *Service) FindSimilarDocuments(ctx context.Context, tenantID, documentID uuid.UUID, modelName string, topK int) ([]DocumentMatch, error) {
	ctx, span := observability.StartSpan(ctx, "search.similar_documents",
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("document_id", documentID.String()))
	defer span.End()

	if tenantID == uuid.Nil {
		return nil, models.NewValidationError("tenant_id", "tenant ID is required")
	}
	if modelName == "" {
		return nil, models.NewValidationError("model_name", "model name is required")
	}
	if topK <= 0 {
		return nil, models.NewValidationError("top_k", "topK must be positive, got %d", topK)
	}

	records, err := s.store.GetByDocument(ctx, tenantID, documentID, modelName)
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}

	vectors := make([]models.Vector, len(records))
	for i, rec := range records {
		vectors[i] = rec.Vector
	}
	centroid, err := models.Centroid(vectors)
	if err != nil {
		return nil, err
	}

	// Over-fetch chunks so enough distinct documents survive aggregation
	hits, err := s.store.Search(ctx, storage.VectorQuery{
		TenantID:         tenantID,
		ModelName:        modelName,
		Vector:           centroid,
		TopK:             topK * 10,
		ExcludeDocuments: []uuid.UUID{documentID},
	})
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, err
	}

	byDocument := make(map[uuid.UUID]*DocumentMatch)
	var order []uuid.UUID
	for _, hit := range hits {
		match, ok := byDocument[hit.DocumentID]
		if !ok {
			match = &DocumentMatch{DocumentID: hit.DocumentID, Score: hit.Score}
			byDocument[hit.DocumentID] = match
			order = append(order, hit.DocumentID)
		}
		if hit.Score > match.Score {
			match.Score = hit.Score
		}
		match.ChunkHits++
	}

	matches := make([]DocumentMatch, 0, len(byDocument))
	for _, docID := range order {
		matches = append(matches, *byDocument[docID])
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// stripPayload clears fields the caller did not ask for
func (s *Service) stripPayload(results []models.SearchResult, query models.SearchQuery) {
	for i := range results {
		if !query.IncludeContent {
			results[i].Content = ""
		}
		if !query.IncludeMetadata {
			results[i].Metadata = nil
		}
	}
}

// queryTerms tokenizes the query into lowercased terms for keyword scoring
func queryTerms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func normalizeTerms(keywords []string) []string {
	var terms []string
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			terms = append(terms, k)
		}
	}
	return terms
}

// keywordScore is the fraction of query terms present in the content
func keywordScore(terms []string, content string) float64 {
	if len(terms) == 0 || content == "" {
		return 0
	}
	lower := strings.ToLower(content)
	var present int
	for _, term := range terms {
		if strings.Contains(lower, term) {
			present++
		}
	}
	return float64(present) / float64(len(terms))
}
