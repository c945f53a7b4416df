package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cortexflow/ragcore/pkg/models"
	"github.com/cortexflow/ragcore/pkg/observability"
)

// PostgresStore is a VectorStore backed by Postgres with the pgvector
// extension. Cosine distance queries (`<=>`) use the vector index when one
// exists, giving the approximate-search strategy; without an index Postgres
// falls back to an exact scan. Either way the caller-visible contract is
// identical.
type PostgresStore struct {
	db      *sqlx.DB
	logger  observability.Logger
	metrics observability.MetricsClient
}

// Schema is the DDL owned by this store. Migration tooling is an external
// concern; the statement is exported so operators can apply it.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS ragcore_embeddings (
    seq         BIGSERIAL,
    tenant_id   UUID        NOT NULL,
    document_id UUID        NOT NULL,
    chunk_id    UUID        NOT NULL,
    model_name  TEXT        NOT NULL,
    embedding   vector      NOT NULL,
    content     TEXT        NOT NULL DEFAULT '',
    metadata    JSONB       NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, model_name, chunk_id)
);

CREATE INDEX IF NOT EXISTS idx_ragcore_embeddings_document
    ON ragcore_embeddings (tenant_id, model_name, document_id);
`

// NewPostgresStore wraps an existing connection pool. The pool is owned by
// the caller and injected, so lifecycle teardown and test doubles stay in
// the caller's hands.
func NewPostgresStore(db *sqlx.DB, logger observability.Logger, metrics observability.MetricsClient) *PostgresStore {
	if logger == nil {
		logger = observability.NewLogger("storage.postgres")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &PostgresStore{db: db, logger: logger, metrics: metrics}
}

// Store upserts the batch in one transaction; on failure nothing is visible
func (s *PostgresStore) Store(ctx context.Context, records []models.VectorRecord) error {
	if err := validateBatch(records); err != nil {
		return err
	}

	op := func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback()
		}()

		const upsert = `
			INSERT INTO ragcore_embeddings (tenant_id, document_id, chunk_id, model_name, embedding, content, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5::vector, $6, $7, $8)
			ON CONFLICT (tenant_id, model_name, chunk_id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				embedding   = EXCLUDED.embedding,
				content     = EXCLUDED.content,
				metadata    = EXCLUDED.metadata,
				created_at  = EXCLUDED.created_at`

		for i := range records {
			rec := records[i]
			createdAt := rec.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			metadata, err := metadataJSON(rec.Metadata)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, upsert,
				rec.TenantID, rec.DocumentID, rec.ChunkID, rec.ModelName,
				vectorLiteral(rec.Vector), rec.Content, metadata, createdAt,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	}

	start := time.Now()
	if err := s.retryTransient(ctx, op); err != nil {
		s.metrics.RecordOperation("storage.postgres", "store", false, time.Since(start).Seconds())
		return models.NewStorageError("postgres", "store", isTransientPgError(err), err)
	}
	s.metrics.RecordOperation("storage.postgres", "store", true, time.Since(start).Seconds())
	return nil
}

// Search runs a cosine similarity query scoped to (tenant, model)
func (s *PostgresStore) Search(ctx context.Context, query VectorQuery) ([]models.SearchResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	sqlQuery := `
		SELECT chunk_id, document_id, content, metadata,
		       1 - (embedding <=> $1::vector) AS score
		FROM ragcore_embeddings
		WHERE tenant_id = $2 AND model_name = $3`
	args := []interface{}{vectorLiteral(query.Vector), query.TenantID, query.ModelName}
	argIndex := 4

	if len(query.DocumentFilter) > 0 {
		sqlQuery += fmt.Sprintf(" AND document_id = ANY($%d)", argIndex)
		args = append(args, pq.Array(uuidStrings(query.DocumentFilter)))
		argIndex++
	}
	if len(query.ExcludeDocuments) > 0 {
		sqlQuery += fmt.Sprintf(" AND NOT (document_id = ANY($%d))", argIndex)
		args = append(args, pq.Array(uuidStrings(query.ExcludeDocuments)))
		argIndex++
	}

	sqlQuery += fmt.Sprintf(" ORDER BY embedding <=> $1::vector, seq LIMIT $%d", argIndex)
	args = append(args, query.TopK)

	rows, err := s.db.QueryxContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, models.NewStorageError("postgres", "search", isTransientPgError(err), err)
	}
	defer func() {
		_ = rows.Close()
	}()

	results := make([]models.SearchResult, 0, query.TopK)
	for rows.Next() {
		var (
			chunkID     uuid.UUID
			documentID  uuid.UUID
			content     string
			metadataRaw []byte
			score       float64
		)
		if err := rows.Scan(&chunkID, &documentID, &content, &metadataRaw, &score); err != nil {
			return nil, models.NewStorageError("postgres", "search", false, err)
		}
		// Threshold is enforced here rather than in SQL so the index scan
		// stays a plain ORDER BY ... LIMIT
		if score < query.Threshold {
			continue
		}
		metadata, err := parseMetadata(metadataRaw)
		if err != nil {
			return nil, models.NewStorageError("postgres", "search", false, err)
		}
		results = append(results, models.SearchResult{
			ChunkID:    chunkID,
			DocumentID: documentID,
			Score:      score,
			Content:    content,
			Metadata:   metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError("postgres", "search", isTransientPgError(err), err)
	}
	s.metrics.RecordLatency("storage.postgres.search", time.Since(start))
	return results, nil
}

// GetByDocument returns all chunk records for one document in insertion order
func (s *PostgresStore) GetByDocument(ctx context.Context, tenantID, documentID uuid.UUID, modelName string) ([]models.VectorRecord, error) {
	const q = `
		SELECT chunk_id, document_id, content, metadata, embedding::text, created_at
		FROM ragcore_embeddings
		WHERE tenant_id = $1 AND model_name = $2 AND document_id = $3
		ORDER BY seq`

	rows, err := s.db.QueryxContext(ctx, q, tenantID, modelName, documentID)
	if err != nil {
		return nil, models.NewStorageError("postgres", "get_by_document", isTransientPgError(err), err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []models.VectorRecord
	for rows.Next() {
		var (
			chunkID     uuid.UUID
			docID       uuid.UUID
			content     string
			metadataRaw []byte
			vectorTxt   string
			createdAt   time.Time
		)
		if err := rows.Scan(&chunkID, &docID, &content, &metadataRaw, &vectorTxt, &createdAt); err != nil {
			return nil, models.NewStorageError("postgres", "get_by_document", false, err)
		}
		vector, err := parseVectorLiteral(vectorTxt)
		if err != nil {
			return nil, models.NewStorageError("postgres", "get_by_document", false, err)
		}
		metadata, err := parseMetadata(metadataRaw)
		if err != nil {
			return nil, models.NewStorageError("postgres", "get_by_document", false, err)
		}
		records = append(records, models.VectorRecord{
			TenantID:   tenantID,
			DocumentID: docID,
			ChunkID:    chunkID,
			ModelName:  modelName,
			Vector:     vector,
			Content:    content,
			Metadata:   metadata,
			CreatedAt:  createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError("postgres", "get_by_document", isTransientPgError(err), err)
	}
	return records, nil
}

// DeleteByDocument removes all chunk vectors for a document
func (s *PostgresStore) DeleteByDocument(ctx context.Context, tenantID, documentID uuid.UUID, modelName string) error {
	const q = `DELETE FROM ragcore_embeddings WHERE tenant_id = $1 AND model_name = $2 AND document_id = $3`

	op := func() error {
		_, err := s.db.ExecContext(ctx, q, tenantID, modelName, documentID)
		return err
	}
	if err := s.retryTransient(ctx, op); err != nil {
		return models.NewStorageError("postgres", "delete_by_document", isTransientPgError(err), err)
	}
	return nil
}

// Stats reports count and approximate storage size for one (tenant, model)
func (s *PostgresStore) Stats(ctx context.Context, tenantID uuid.UUID, modelName string) (Stats, error) {
	const q = `
		SELECT COUNT(*),
		       COALESCE(SUM(pg_column_size(embedding) + pg_column_size(content)), 0)
		FROM ragcore_embeddings
		WHERE tenant_id = $1 AND model_name = $2`

	var stats Stats
	if err := s.db.QueryRowContext(ctx, q, tenantID, modelName).Scan(&stats.Count, &stats.ApproxMemoryBytes); err != nil {
		return Stats{}, models.NewStorageError("postgres", "stats", isTransientPgError(err), err)
	}
	return stats, nil
}

// Close closes the underlying pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// retryTransient retries op with exponential backoff while the error looks
// transient, bounded at four attempts.
func (s *PostgresStore) retryTransient(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransientPgError(err) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("retrying transient storage error", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}, policy)
}

func isTransientPgError(err error) bool {
	if err == nil {
		return false
	}
	if err == sql.ErrConnDone || err == context.DeadlineExceeded {
		return true
	}
	if _, ok := err.(net.Error); ok {
		return true
	}
	if pqErr, ok := err.(*pq.Error); ok {
		// Class 08: connection exceptions, class 57: operator intervention
		class := string(pqErr.Code.Class())
		return class == "08" || class == "57"
	}
	return false
}

// vectorLiteral renders a vector in pgvector's text format: [x1,x2,...]
func vectorLiteral(v models.Vector) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVectorLiteral(s string) (models.Vector, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	parts := strings.Split(s, ",")
	vec := make(models.Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("bad vector component %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

// metadataJSON renders record metadata for the jsonb column; empty metadata
// stores as an empty object
func metadataJSON(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func parseMetadata(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 || string(data) == "{}" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bad metadata payload: %w", err)
	}
	return m, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
