// Package storage persists embedding vectors and serves nearest-neighbor
// queries under strict tenant isolation. Backends are interchangeable
// behind the VectorStore interface: an exhaustive in-memory scan, a
// pgvector-backed store, and a qdrant-backed networked ANN store. Which one
// is active is a storage-engine configuration choice, never a caller
// concern.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/cortexflow/ragcore/pkg/models"
)

// VectorStore persists vectors keyed by (tenant, model, chunk) and answers
// similarity queries. Implementations must never let one tenant's records
// surface in another tenant's results.
type VectorStore interface {
	// Store upserts records idempotently by (tenant, model, chunk) key.
	// A failed call must not leave a partially persisted batch visible
	// without signaling the failure.
	Store(ctx context.Context, records []models.VectorRecord) error

	// Search returns results ordered by descending cosine similarity,
	// ties broken deterministically, excluding scores below the threshold.
	Search(ctx context.Context, query VectorQuery) ([]models.SearchResult, error)

	// GetByDocument returns all chunk records for one document, in chunk
	// insertion order.
	GetByDocument(ctx context.Context, tenantID, documentID uuid.UUID, modelName string) ([]models.VectorRecord, error)

	// DeleteByDocument removes all chunk vectors for a document. Deleting
	// a document with no vectors is a no-op, not an error.
	DeleteByDocument(ctx context.Context, tenantID, documentID uuid.UUID, modelName string) error

	// Stats reports the record count and approximate memory usage for one
	// (tenant, model) index.
	Stats(ctx context.Context, tenantID uuid.UUID, modelName string) (Stats, error)

	// Close releases backend resources
	Close() error
}

// VectorQuery is a nearest-neighbor query scoped to one (tenant, model)
type VectorQuery struct {
	TenantID         uuid.UUID
	ModelName        string
	Vector           models.Vector
	TopK             int
	Threshold        float64
	DocumentFilter   []uuid.UUID
	ExcludeDocuments []uuid.UUID
}

// Validate checks query invariants shared by all backends
func (q *VectorQuery) Validate() error {
	if q.TenantID == uuid.Nil {
		return models.NewValidationError("tenant_id", "tenant ID is required")
	}
	if q.ModelName == "" {
		return models.NewValidationError("model_name", "model name is required")
	}
	if q.Vector.IsZero() {
		return models.NewValidationError("vector", "query vector must be non-empty with non-zero norm")
	}
	if q.TopK <= 0 {
		return models.NewValidationError("top_k", "topK must be positive, got %d", q.TopK)
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return models.NewValidationError("threshold", "threshold must be in [0,1], got %v", q.Threshold)
	}
	return nil
}

// Stats describes one (tenant, model) index
type Stats struct {
	Count             int64 `json:"count"`
	ApproxMemoryBytes int64 `json:"approx_memory_bytes"`
}

// validateBatch applies write-time invariants to a record batch: every
// record individually valid, one tenant and model per call, one
// dimensionality across the batch.
func validateBatch(records []models.VectorRecord) error {
	if len(records) == 0 {
		return models.NewValidationError("records", "batch cannot be empty")
	}
	tenant := records[0].TenantID
	model := records[0].ModelName
	dims := len(records[0].Vector)
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return err
		}
		if records[i].TenantID != tenant {
			return &models.TenantIsolationError{
				Expected: tenant.String(),
				Actual:   records[i].TenantID.String(),
				Detail:   "mixed tenants in one store batch",
			}
		}
		if records[i].ModelName != model {
			return models.NewValidationError("model_name", "mixed models in one store batch: %s vs %s", model, records[i].ModelName)
		}
		if len(records[i].Vector) != dims {
			return models.NewValidationError("vector", "dimension mismatch in batch: %d vs %d", len(records[i].Vector), dims)
		}
	}
	return nil
}

func containsUUID(haystack []uuid.UUID, needle uuid.UUID) bool {
	for _, id := range haystack {
		if id == needle {
			return true
		}
	}
	return false
}
