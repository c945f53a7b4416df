// Package providers defines the embedding model provider abstraction and
// its concrete backends (OpenAI, Ollama, Bedrock). Callers never branch on
// provider type; every backend satisfies the same batch contract.
package providers

import (
	"context"
	"fmt"
	"time"
)

// Provider represents an embedding backend (remote HTTP service, cloud API,
// or locally hosted model runtime).
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama")
	Name() string

	// BatchGenerateEmbeddings generates embeddings for multiple texts,
	// preserving input order. Each text's outcome is independent: the
	// response carries a per-index result that is either a vector or a
	// provider error.
	BatchGenerateEmbeddings(ctx context.Context, req BatchGenerateEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// GetSupportedModels returns the models this provider serves
	GetSupportedModels() []ModelInfo

	// GetModel returns information about a specific model
	GetModel(modelName string) (ModelInfo, error)

	// HealthCheck verifies the provider is accessible and functioning
	HealthCheck(ctx context.Context) error

	// Close cleans up any resources (connections, clients, etc.)
	Close() error
}

// BatchGenerateEmbeddingRequest represents a batch embedding request
type BatchGenerateEmbeddingRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	RequestID string   `json:"request_id,omitempty"`
}

// EmbeddingResult is the outcome for a single text within a batch
type EmbeddingResult struct {
	Embedding []float32      `json:"embedding,omitempty"`
	Err       *ProviderError `json:"error,omitempty"`
}

// BatchEmbeddingResponse represents the response from batch generation.
// Results match the request texts by index.
type BatchEmbeddingResponse struct {
	Results      []EmbeddingResult `json:"results"`
	Model        string            `json:"model"`
	Dimensions   int               `json:"dimensions"`
	ProviderInfo ProviderMetadata  `json:"provider_info"`
}

// ProviderMetadata contains provider-specific response metadata
type ProviderMetadata struct {
	Provider  string `json:"provider"`
	Region    string `json:"region,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// ModelInfo contains information about an embedding model. The orchestrator
// reads MaxBatchSize to split oversized batches and MaxTextLength to apply
// the truncation policy before the provider ever sees the text.
type ModelInfo struct {
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Dimensions    int    `json:"dimensions"`
	MaxBatchSize  int    `json:"max_batch_size"`
	MaxTextLength int    `json:"max_text_length"`
	IsActive      bool   `json:"is_active"`
}

// ProviderConfig contains common configuration for providers
type ProviderConfig struct {
	APIKey   string `json:"api_key,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Region   string `json:"region,omitempty"`

	RequestTimeout time.Duration `json:"request_timeout,omitempty"`

	MaxRetries     int           `json:"max_retries,omitempty"`
	RetryDelayBase time.Duration `json:"retry_delay_base,omitempty"`
	RetryDelayMax  time.Duration `json:"retry_delay_max,omitempty"`

	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
}

// ProviderError represents an error from a provider backend
type ProviderError struct {
	Provider    string         `json:"provider"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	StatusCode  int            `json:"status_code,omitempty"`
	RetryAfter  *time.Duration `json:"retry_after,omitempty"`
	IsRetryable bool           `json:"is_retryable"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error [%s]: %s", e.Provider, e.Code, e.Message)
}

// TruncateText deterministically truncates text to at most maxLen runes.
// Truncation happens at a rune boundary so the provider never receives a
// broken UTF-8 sequence; identical input always yields identical output.
func TruncateText(text string, maxLen int) string {
	if maxLen <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen])
}

func isRetryableStatusCode(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
