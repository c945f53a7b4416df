package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() VectorRecord {
	return VectorRecord{
		TenantID:   uuid.New(),
		DocumentID: uuid.New(),
		ChunkID:    uuid.New(),
		ModelName:  "mock-small",
		Vector:     Vector{0.6, 0.8},
	}
}

func validQuery() SearchQuery {
	return SearchQuery{
		TenantID:  uuid.New(),
		Query:     "feline biology",
		TopK:      5,
		Threshold: 0.3,
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
	}{
		{
			name:     "identical vectors",
			a:        Vector{1, 2, 3},
			b:        Vector{1, 2, 3},
			expected: 1.0,
		},
		{
			name:     "orthogonal vectors",
			a:        Vector{1, 0, 0},
			b:        Vector{0, 1, 0},
			expected: 0.0,
		},
		{
			name:     "opposite vectors",
			a:        Vector{1, 0},
			b:        Vector{-1, 0},
			expected: -1.0,
		},
		{
			name:     "scaled vectors keep similarity",
			a:        Vector{1, 1},
			b:        Vector{10, 10},
			expected: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, score, 1e-6)
		})
	}
}

func TestCosineSimilarityErrors(t *testing.T) {
	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := CosineSimilarity(Vector{1, 2}, Vector{1, 2, 3})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("empty vector", func(t *testing.T) {
		_, err := CosineSimilarity(Vector{}, Vector{})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("zero-norm vector never yields NaN", func(t *testing.T) {
		_, err := CosineSimilarity(Vector{0, 0, 0}, Vector{1, 2, 3})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}

func TestVectorIsZero(t *testing.T) {
	assert.True(t, Vector(nil).IsZero())
	assert.True(t, Vector{}.IsZero())
	assert.True(t, Vector{0, 0, 0}.IsZero())
	assert.False(t, Vector{0, 0.001, 0}.IsZero())
}

func TestVectorClone(t *testing.T) {
	original := Vector{1, 2, 3}
	clone := original.Clone()
	clone[0] = 99

	assert.Equal(t, float32(1), original[0])
	assert.Equal(t, float32(99), clone[0])
}

func TestCentroid(t *testing.T) {
	centroid, err := Centroid([]Vector{
		{1, 0},
		{0, 1},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, float64(centroid[0]), 1e-6)
	assert.InDelta(t, 0.5, float64(centroid[1]), 1e-6)

	_, err = Centroid(nil)
	require.Error(t, err)

	_, err = Centroid([]Vector{{1, 0}, {1, 0, 0}})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestVectorRecordValidate(t *testing.T) {
	valid := validRecord()
	require.NoError(t, valid.Validate())

	missing := validRecord()
	missing.ModelName = ""
	require.Error(t, missing.Validate())

	zero := validRecord()
	zero.Vector = Vector{0, 0}
	err := zero.Validate()
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestSearchQueryValidate(t *testing.T) {
	q := validQuery()
	require.NoError(t, q.Validate())

	empty := validQuery()
	empty.Query = "   "
	require.Error(t, empty.Validate())

	badTopK := validQuery()
	badTopK.TopK = 0
	require.Error(t, badTopK.Validate())

	badThreshold := validQuery()
	badThreshold.Threshold = 1.5
	require.Error(t, badThreshold.Validate())
}

func TestEmbeddingResponseRecount(t *testing.T) {
	resp := EmbeddingResponse{
		Items: []EmbeddingItem{
			{Status: StatusSuccess},
			{Status: StatusCached},
			{Status: StatusFailed},
			{Status: StatusFailed},
		},
	}
	resp.Recount()

	assert.Equal(t, 1, resp.SucceededCount)
	assert.Equal(t, 1, resp.CachedCount)
	assert.Equal(t, 2, resp.FailedCount)
	assert.False(t, resp.AllFailed())

	allFailed := EmbeddingResponse{
		Items: []EmbeddingItem{{Status: StatusFailed}, {Status: StatusFailed}},
	}
	allFailed.Recount()
	assert.True(t, allFailed.AllFailed())
}
