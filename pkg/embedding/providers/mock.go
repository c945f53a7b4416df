package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// MockProvider implements Provider for testing. Vectors are derived
// deterministically from the text content, so identical text always maps to
// an identical vector; explicit vectors can be pinned per text to simulate
// semantic neighborhoods.
type MockProvider struct {
	mu               sync.RWMutex
	name             string
	models           map[string]ModelInfo
	latency          time.Duration
	failAll          bool
	failTexts        map[string]bool
	pinnedVectors    map[string][]float32
	healthCheckError error
	closed           bool

	batchCalls []BatchGenerateEmbeddingRequest
}

// MockProviderOption configures a MockProvider
type MockProviderOption func(*MockProvider)

// WithMockName sets the provider name
func WithMockName(name string) MockProviderOption {
	return func(m *MockProvider) { m.name = name }
}

// WithMockLatency adds simulated latency per batch call
func WithMockLatency(latency time.Duration) MockProviderOption {
	return func(m *MockProvider) { m.latency = latency }
}

// WithFailAll makes every generation fail
func WithFailAll() MockProviderOption {
	return func(m *MockProvider) { m.failAll = true }
}

// WithFailTexts makes generation fail for the given texts only
func WithFailTexts(texts ...string) MockProviderOption {
	return func(m *MockProvider) {
		for _, t := range texts {
			m.failTexts[t] = true
		}
	}
}

// WithPinnedVector fixes the vector returned for a specific text
func WithPinnedVector(text string, vector []float32) MockProviderOption {
	return func(m *MockProvider) { m.pinnedVectors[text] = vector }
}

// WithMockModel registers an additional model
func WithMockModel(info ModelInfo) MockProviderOption {
	return func(m *MockProvider) { m.models[info.Name] = info }
}

// WithHealthCheckError sets a health check error
func WithHealthCheckError(err error) MockProviderOption {
	return func(m *MockProvider) { m.healthCheckError = err }
}

// NewMockProvider creates a new mock provider with a small default model set
func NewMockProvider(opts ...MockProviderOption) *MockProvider {
	m := &MockProvider{
		name:          "mock",
		failTexts:     make(map[string]bool),
		pinnedVectors: make(map[string][]float32),
		models: map[string]ModelInfo{
			"mock-small": {
				Name:          "mock-small",
				DisplayName:   "Mock Small",
				Dimensions:    8,
				MaxBatchSize:  4,
				MaxTextLength: 128,
				IsActive:      true,
			},
			"mock-large": {
				Name:          "mock-large",
				DisplayName:   "Mock Large",
				Dimensions:    16,
				MaxBatchSize:  32,
				MaxTextLength: 1024,
				IsActive:      true,
			},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// BatchGenerateEmbeddings generates deterministic embeddings
func (m *MockProvider) BatchGenerateEmbeddings(ctx context.Context, req BatchGenerateEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	model, err := m.GetModel(req.Model)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.batchCalls = append(m.batchCalls, req)
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil, &ProviderError{Provider: m.name, Code: "CLOSED", Message: "provider closed"}
	}

	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.failAll {
		return nil, &ProviderError{
			Provider:    m.name,
			Code:        "UNAVAILABLE",
			Message:     "simulated provider outage",
			IsRetryable: true,
		}
	}

	results := make([]EmbeddingResult, len(req.Texts))
	for i, text := range req.Texts {
		if m.failTexts[text] {
			results[i] = EmbeddingResult{Err: &ProviderError{
				Provider:    m.name,
				Code:        "GENERATION_FAILED",
				Message:     fmt.Sprintf("simulated failure for text %d", i),
				IsRetryable: true,
			}}
			continue
		}
		if pinned, ok := m.pinnedVectors[text]; ok {
			results[i] = EmbeddingResult{Embedding: pinned}
			continue
		}
		results[i] = EmbeddingResult{Embedding: deterministicVector(text, model.Dimensions)}
	}

	return &BatchEmbeddingResponse{
		Results:    results,
		Model:      req.Model,
		Dimensions: model.Dimensions,
		ProviderInfo: ProviderMetadata{
			Provider: m.name,
		},
	}, nil
}

// GetSupportedModels returns the registered models
func (m *MockProvider) GetSupportedModels() []ModelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	models := make([]ModelInfo, 0, len(m.models))
	for _, model := range m.models {
		models = append(models, model)
	}
	return models
}

// GetModel returns information about a specific model
func (m *MockProvider) GetModel(modelName string) (ModelInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	model, exists := m.models[modelName]
	if !exists {
		return ModelInfo{}, &ProviderError{
			Provider:   m.name,
			Code:       "MODEL_NOT_FOUND",
			Message:    fmt.Sprintf("model %s not found", modelName),
			StatusCode: 404,
		}
	}
	return model, nil
}

// HealthCheck returns the configured health check error
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	return m.healthCheckError
}

// Close marks the provider closed
func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// BatchCalls returns the recorded batch requests
func (m *MockProvider) BatchCalls() []BatchGenerateEmbeddingRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BatchGenerateEmbeddingRequest, len(m.batchCalls))
	copy(out, m.batchCalls)
	return out
}

// deterministicVector derives a unit-norm vector from the text hash
func deterministicVector(text string, dims int) []float32 {
	hash := sha256.Sum256([]byte(text))
	vec := make([]float32, dims)
	var norm float64
	for i := 0; i < dims; i++ {
		// Stretch the 32 hash bytes over any dimensionality
		offset := (i * 4) % (len(hash) - 4)
		bits := binary.BigEndian.Uint32(hash[offset : offset+4])
		v := float64(bits)/float64(math.MaxUint32) - 0.5
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
