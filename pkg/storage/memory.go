package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexflow/ragcore/pkg/models"
	"github.com/cortexflow/ragcore/pkg/observability"
)

// MemoryStore is the exhaustive-scan VectorStore. Every query enumerates
// the (tenant, model) index and computes exact cosine similarity, which is
// O(n) per query and perfectly acceptable for small and medium tenants.
// Indexes are isolated per (tenant, model) pair under their own lock, so
// unrelated tenants never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	indexes map[indexKey]*memoryIndex
	logger  observability.Logger
}

type indexKey struct {
	tenantID  uuid.UUID
	modelName string
}

type memoryIndex struct {
	mu      sync.RWMutex
	dims    int
	records map[uuid.UUID]*memoryRecord // keyed by chunk ID
	nextSeq int64
}

type memoryRecord struct {
	record models.VectorRecord
	seq    int64 // insertion order, the deterministic tie-break
}

// NewMemoryStore creates an empty in-memory vector store
func NewMemoryStore(logger observability.Logger) *MemoryStore {
	if logger == nil {
		logger = observability.NewLogger("storage.memory")
	}
	return &MemoryStore{
		indexes: make(map[indexKey]*memoryIndex),
		logger:  logger,
	}
}

// Store upserts records into the (tenant, model) index
func (s *MemoryStore) Store(ctx context.Context, records []models.VectorRecord) error {
	if err := validateBatch(records); err != nil {
		return err
	}

	key := indexKey{tenantID: records[0].TenantID, modelName: records[0].ModelName}
	idx := s.index(key, true)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dims == 0 {
		idx.dims = len(records[0].Vector)
	} else if idx.dims != len(records[0].Vector) {
		return models.NewValidationError("vector",
			"dimension mismatch: index for (%s, %s) holds %d-dim vectors, got %d",
			key.tenantID, key.modelName, idx.dims, len(records[0].Vector))
	}

	for i := range records {
		rec := records[i]
		rec.Vector = rec.Vector.Clone()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		if existing, ok := idx.records[rec.ChunkID]; ok {
			// Upsert keeps the original insertion position
			existing.record = rec
			continue
		}
		idx.records[rec.ChunkID] = &memoryRecord{record: rec, seq: idx.nextSeq}
		idx.nextSeq++
	}
	return nil
}

// Search scans the (tenant, model) index exhaustively
func (s *MemoryStore) Search(ctx context.Context, query VectorQuery) ([]models.SearchResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	idx := s.index(indexKey{tenantID: query.TenantID, modelName: query.ModelName}, false)
	if idx == nil {
		return []models.SearchResult{}, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.dims != 0 && idx.dims != len(query.Vector) {
		return nil, models.NewValidationError("vector",
			"query dimension %d does not match index dimension %d", len(query.Vector), idx.dims)
	}

	type scored struct {
		result models.SearchResult
		seq    int64
	}
	var hits []scored

	for _, mr := range idx.records {
		if mr.record.TenantID != query.TenantID {
			return nil, &models.TenantIsolationError{
				Expected: query.TenantID.String(),
				Actual:   mr.record.TenantID.String(),
				Detail:   "foreign record found in tenant index",
			}
		}
		if len(query.DocumentFilter) > 0 && !containsUUID(query.DocumentFilter, mr.record.DocumentID) {
			continue
		}
		if containsUUID(query.ExcludeDocuments, mr.record.DocumentID) {
			continue
		}

		score, err := models.CosineSimilarity(query.Vector, mr.record.Vector)
		if err != nil {
			return nil, err
		}
		if score < query.Threshold {
			continue
		}

		hits = append(hits, scored{
			result: models.SearchResult{
				ChunkID:    mr.record.ChunkID,
				DocumentID: mr.record.DocumentID,
				Score:      score,
				Content:    mr.record.Content,
				Metadata:   mr.record.Metadata,
			},
			seq: mr.seq,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].result.Score != hits[j].result.Score {
			return hits[i].result.Score > hits[j].result.Score
		}
		return hits[i].seq < hits[j].seq
	})

	if len(hits) > query.TopK {
		hits = hits[:query.TopK]
	}

	results := make([]models.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = h.result
	}
	return results, nil
}

// GetByDocument returns all chunk records for one document in insertion order
func (s *MemoryStore) GetByDocument(ctx context.Context, tenantID, documentID uuid.UUID, modelName string) ([]models.VectorRecord, error) {
	idx := s.index(indexKey{tenantID: tenantID, modelName: modelName}, false)
	if idx == nil {
		return []models.VectorRecord{}, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matched []*memoryRecord
	for _, mr := range idx.records {
		if mr.record.DocumentID == documentID {
			matched = append(matched, mr)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]models.VectorRecord, len(matched))
	for i, mr := range matched {
		out[i] = mr.record
		out[i].Vector = mr.record.Vector.Clone()
	}
	return out, nil
}

// DeleteByDocument removes all chunk vectors for a document
func (s *MemoryStore) DeleteByDocument(ctx context.Context, tenantID, documentID uuid.UUID, modelName string) error {
	idx := s.index(indexKey{tenantID: tenantID, modelName: modelName}, false)
	if idx == nil {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var removed int
	for chunkID, mr := range idx.records {
		if mr.record.DocumentID == documentID {
			delete(idx.records, chunkID)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("deleted document vectors", map[string]interface{}{
			"tenant_id":   tenantID.String(),
			"document_id": documentID.String(),
			"model":       modelName,
			"removed":     removed,
		})
	}
	return nil
}

// Stats reports count and approximate memory for one (tenant, model) index
func (s *MemoryStore) Stats(ctx context.Context, tenantID uuid.UUID, modelName string) (Stats, error) {
	idx := s.index(indexKey{tenantID: tenantID, modelName: modelName}, false)
	if idx == nil {
		return Stats{}, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var bytes int64
	for _, mr := range idx.records {
		bytes += int64(len(mr.record.Vector)*4 + len(mr.record.Content))
	}
	return Stats{
		Count:             int64(len(idx.records)),
		ApproxMemoryBytes: bytes,
	}, nil
}

// Close implements VectorStore.Close
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = make(map[indexKey]*memoryIndex)
	return nil
}

func (s *MemoryStore) index(key indexKey, create bool) *memoryIndex {
	s.mu.RLock()
	idx, ok := s.indexes[key]
	s.mu.RUnlock()
	if ok || !create {
		return idx
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok = s.indexes[key]; ok {
		return idx
	}
	idx = &memoryIndex{records: make(map[uuid.UUID]*memoryRecord)}
	s.indexes[key] = idx
	return idx
}
