package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// VectorRecord is a stored chunk embedding owned by a tenant. Identity key
// is (TenantID, ModelName, ChunkID); storing the same key again overwrites.
type VectorRecord struct {
	TenantID   uuid.UUID              `json:"tenant_id" db:"tenant_id"`
	DocumentID uuid.UUID              `json:"document_id" db:"document_id"`
	ChunkID    uuid.UUID              `json:"chunk_id" db:"chunk_id"`
	ModelName  string                 `json:"model_name" db:"model_name"`
	Vector     Vector                 `json:"vector" db:"-"`
	Content    string                 `json:"content,omitempty" db:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"-"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// Validate checks the record invariants enforced at write time
func (r *VectorRecord) Validate() error {
	if r.TenantID == uuid.Nil {
		return NewValidationError("tenant_id", "tenant ID is required")
	}
	if r.ChunkID == uuid.Nil {
		return NewValidationError("chunk_id", "chunk ID is required")
	}
	if r.ModelName == "" {
		return NewValidationError("model_name", "model name is required")
	}
	if r.Vector.IsZero() {
		return NewValidationError("vector", "vector must be non-empty with non-zero norm")
	}
	return nil
}

// SearchQuery describes a similarity search request
type SearchQuery struct {
	TenantID        uuid.UUID   `json:"tenant_id"`
	Query           string      `json:"query"`
	TopK            int         `json:"top_k"`
	Threshold       float64     `json:"threshold"`
	ModelName       string      `json:"model_name,omitempty"`
	DocumentFilter  []uuid.UUID `json:"document_filter,omitempty"`
	IncludeContent  bool        `json:"include_content"`
	IncludeMetadata bool        `json:"include_metadata"`
}

// Validate checks the query parameters
func (q *SearchQuery) Validate() error {
	if q.TenantID == uuid.Nil {
		return NewValidationError("tenant_id", "tenant ID is required")
	}
	if strings.TrimSpace(q.Query) == "" {
		return NewValidationError("query", "query text cannot be empty")
	}
	if q.TopK <= 0 {
		return NewValidationError("top_k", "topK must be positive, got %d", q.TopK)
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return NewValidationError("threshold", "threshold must be in [0,1], got %v", q.Threshold)
	}
	return nil
}

// SearchResult is one ranked hit. Score is cosine similarity; results are
// ordered by descending score with ties broken by insertion order.
type SearchResult struct {
	ChunkID    uuid.UUID              `json:"chunk_id"`
	DocumentID uuid.UUID              `json:"document_id"`
	Score      float64                `json:"score"`
	Content    string                 `json:"content,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// SearchResponse is the result of one search. An empty Results slice with a
// nil error is a successful search with no hits, distinct from a failure.
type SearchResponse struct {
	TenantID     uuid.UUID      `json:"tenant_id"`
	Query        string         `json:"query"`
	ModelName    string         `json:"model_name"`
	Results      []SearchResult `json:"results"`
	TotalResults int            `json:"total_results"`
	SearchTimeMs int64          `json:"search_time_ms"`
}

// EmbeddingItemStatus is the per-item outcome of a generate call
type EmbeddingItemStatus string

// Per-item embedding outcomes
const (
	StatusSuccess EmbeddingItemStatus = "SUCCESS"
	StatusCached  EmbeddingItemStatus = "CACHED"
	StatusFailed  EmbeddingItemStatus = "FAILED"
)

// EmbeddingItem is one text's outcome within a generate batch. Items keep
// the input order of their texts regardless of internal batching.
type EmbeddingItem struct {
	ChunkID  uuid.UUID           `json:"chunk_id"`
	Text     string              `json:"text"`
	Vector   Vector              `json:"vector,omitempty"`
	Status   EmbeddingItemStatus `json:"status"`
	Model    string              `json:"model"`
	Fallback bool                `json:"fallback,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// EmbeddingResponse aggregates per-item outcomes. The call as a whole only
// fails when validation fails or every item failed.
type EmbeddingResponse struct {
	TenantID         uuid.UUID       `json:"tenant_id"`
	DocumentID       uuid.UUID       `json:"document_id,omitempty"`
	ModelName        string          `json:"model_name"`
	Items            []EmbeddingItem `json:"items"`
	SucceededCount   int             `json:"succeeded_count"`
	CachedCount      int             `json:"cached_count"`
	FailedCount      int             `json:"failed_count"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
}

// AllFailed reports whether no item produced a vector
func (r *EmbeddingResponse) AllFailed() bool {
	return len(r.Items) > 0 && r.FailedCount == len(r.Items)
}

// Recount recomputes the aggregate counters from Items
func (r *EmbeddingResponse) Recount() {
	r.SucceededCount, r.CachedCount, r.FailedCount = 0, 0, 0
	for _, item := range r.Items {
		switch item.Status {
		case StatusSuccess:
			r.SucceededCount++
		case StatusCached:
			r.CachedCount++
		case StatusFailed:
			r.FailedCount++
		}
	}
}
