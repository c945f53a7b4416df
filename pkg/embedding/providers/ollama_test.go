package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProviderPerTextCalls(t *testing.T) {
	var calls int
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)

		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1, 0, 0}})
	})

	p, err := NewOllamaProvider(ProviderConfig{Endpoint: server.URL})
	require.NoError(t, err)

	resp, err := p.BatchGenerateEmbeddings(context.Background(), BatchGenerateEmbeddingRequest{
		Texts: []string{"first", "second", "third"},
		Model: "all-minilm",
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, 3, calls, "one runtime call per text")
	for _, r := range resp.Results {
		assert.Equal(t, []float32{1, 0, 0}, r.Embedding)
	}
}

func TestOllamaProviderPerItemFailure(t *testing.T) {
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Prompt == "bad" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"model crashed"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0, 1, 0}})
	})

	p, err := NewOllamaProvider(ProviderConfig{Endpoint: server.URL})
	require.NoError(t, err)

	resp, err := p.BatchGenerateEmbeddings(context.Background(), BatchGenerateEmbeddingRequest{
		Texts: []string{"good", "bad", "good again"},
		Model: "all-minilm",
	})
	require.NoError(t, err)

	assert.NotNil(t, resp.Results[0].Embedding)
	require.NotNil(t, resp.Results[1].Err)
	assert.Equal(t, "GENERATION_FAILED", resp.Results[1].Err.Code)
	assert.True(t, resp.Results[1].Err.IsRetryable)
	assert.NotNil(t, resp.Results[2].Embedding)
}

func TestOllamaProviderHealthCheck(t *testing.T) {
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	p, err := NewOllamaProvider(ProviderConfig{Endpoint: server.URL})
	require.NoError(t, err)
	require.NoError(t, p.HealthCheck(context.Background()))
}
