package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newTestOpenAIProvider(t *testing.T, endpoint string) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(ProviderConfig{
		APIKey:         "test-key",
		Endpoint:       endpoint,
		RetryDelayBase: time.Millisecond,
		RetryDelayMax:  5 * time.Millisecond,
	})
	require.NoError(t, err)
	return p
}

func TestOpenAIProviderBatchGeneration(t *testing.T) {
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		texts := req.Input.([]interface{})

		// Return data out of order to verify index-based mapping
		resp := map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		}
		require.Len(t, texts, 2)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	p := newTestOpenAIProvider(t, server.URL)
	resp, err := p.BatchGenerateEmbeddings(context.Background(), BatchGenerateEmbeddingRequest{
		Texts: []string{"first", "second"},
		Model: "text-embedding-3-small",
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, []float32{1, 0}, resp.Results[0].Embedding)
	assert.Equal(t, []float32{0, 1}, resp.Results[1].Embedding)
}

func TestOpenAIProviderRetriesRateLimit(t *testing.T) {
	var calls int32
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	})

	p := newTestOpenAIProvider(t, server.URL)
	resp, err := p.BatchGenerateEmbeddings(context.Background(), BatchGenerateEmbeddingRequest{
		Texts: []string{"text"},
		Model: "text-embedding-3-small",
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, resp.Results[0].Embedding)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAIProviderDoesNotRetryAuthFailure(t *testing.T) {
	var calls int32
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	})

	p := newTestOpenAIProvider(t, server.URL)
	_, err := p.BatchGenerateEmbeddings(context.Background(), BatchGenerateEmbeddingRequest{
		Texts: []string{"text"},
		Model: "text-embedding-3-small",
	})
	require.Error(t, err)

	provErr, ok := err.(*ProviderError)
	require.True(t, ok)
	assert.Equal(t, 401, provErr.StatusCode)
	assert.False(t, provErr.IsRetryable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "auth failures are not retried")
}

func TestOpenAIProviderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(ProviderConfig{})
	require.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	require.Nil(t, parseRetryAfter(""))

	d := parseRetryAfter("30")
	require.NotNil(t, d)
	assert.Equal(t, 30*time.Second, *d)
}
