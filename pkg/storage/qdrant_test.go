package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexflow/ragcore/pkg/models"
)

func TestQdrantPointIDDeterministic(t *testing.T) {
	tenantID := uuid.New()
	chunkID := uuid.New()

	first := pointID(tenantID, testModel, chunkID)
	assert.Equal(t, first, pointID(tenantID, testModel, chunkID), "re-storing a chunk maps to the same point")
	assert.NotEqual(t, first, pointID(uuid.New(), testModel, chunkID))
	assert.NotEqual(t, first, pointID(tenantID, "mock-large", chunkID))

	_, err := uuid.Parse(first)
	require.NoError(t, err, "point IDs must be valid UUIDs")
}

func TestQdrantRecordPayloadRoundTrip(t *testing.T) {
	rec := models.VectorRecord{
		TenantID:   uuid.New(),
		DocumentID: uuid.New(),
		ChunkID:    uuid.New(),
		ModelName:  testModel,
		Vector:     models.Vector{1, 0},
		Content:    "chunk text",
		Metadata:   map[string]interface{}{"source": "wiki", "page": "4"},
	}
	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	payload, err := recordPayload(rec, createdAt)
	require.NoError(t, err)

	assert.Equal(t, rec.TenantID.String(), payload["tenant_id"].GetStringValue())
	assert.Equal(t, rec.DocumentID.String(), payload["document_id"].GetStringValue())
	assert.Equal(t, rec.ChunkID.String(), payload["chunk_id"].GetStringValue())
	assert.Equal(t, "chunk text", payload["content"].GetStringValue())
	assert.Equal(t, createdAt.UnixNano(), payload["seq"].GetIntegerValue())

	metadata, err := payloadMetadata(payload)
	require.NoError(t, err)
	assert.Equal(t, rec.Metadata, metadata)
}

func TestQdrantRecordPayloadWithoutMetadata(t *testing.T) {
	rec := models.VectorRecord{
		TenantID:  uuid.New(),
		ChunkID:   uuid.New(),
		ModelName: testModel,
		Vector:    models.Vector{1, 0},
	}

	payload, err := recordPayload(rec, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, payload, "metadata")

	metadata, err := payloadMetadata(payload)
	require.NoError(t, err)
	assert.Nil(t, metadata)
}
