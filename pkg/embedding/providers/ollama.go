package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// OllamaProvider implements Provider against a locally hosted Ollama model
// runtime. Ollama's embeddings endpoint takes one prompt per call, so a
// batch is a sequence of calls; a single bad text fails only its own slot.
type OllamaProvider struct {
	config     ProviderConfig
	httpClient *http.Client
	models     map[string]ModelInfo
	mu         sync.RWMutex
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaProvider creates a provider for a local Ollama runtime
func NewOllamaProvider(config ProviderConfig) (*OllamaProvider, error) {
	if config.Endpoint == "" {
		config.Endpoint = "http://localhost:11434"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 60 * time.Second
	}

	p := &OllamaProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}

	p.models = map[string]ModelInfo{
		"mxbai-embed-large": {
			Name:          "mxbai-embed-large",
			DisplayName:   "MixedBread Embed Large",
			Dimensions:    1024,
			MaxBatchSize:  64,
			MaxTextLength: 8192,
			IsActive:      true,
		},
		"nomic-embed-text": {
			Name:          "nomic-embed-text",
			DisplayName:   "Nomic Embed Text",
			Dimensions:    768,
			MaxBatchSize:  64,
			MaxTextLength: 8192,
			IsActive:      true,
		},
		"all-minilm": {
			Name:          "all-minilm",
			DisplayName:   "All MiniLM L6 v2",
			Dimensions:    384,
			MaxBatchSize:  64,
			MaxTextLength: 512,
			IsActive:      true,
		},
	}

	return p, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// BatchGenerateEmbeddings embeds each text with its own runtime call
func (p *OllamaProvider) BatchGenerateEmbeddings(ctx context.Context, req BatchGenerateEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	model, err := p.GetModel(req.Model)
	if err != nil {
		return nil, err
	}
	if len(req.Texts) == 0 {
		return nil, &ProviderError{
			Provider: "ollama",
			Code:     "EMPTY_BATCH",
			Message:  "batch contains no texts",
		}
	}

	start := time.Now()
	results := make([]EmbeddingResult, len(req.Texts))

	for i, text := range req.Texts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		embedding, err := p.embedOne(ctx, req.Model, text)
		if err != nil {
			provErr, ok := err.(*ProviderError)
			if !ok {
				provErr = &ProviderError{
					Provider:    "ollama",
					Code:        "REQUEST_FAILED",
					Message:     err.Error(),
					IsRetryable: true,
				}
			}
			results[i] = EmbeddingResult{Err: provErr}
			continue
		}
		results[i] = EmbeddingResult{Embedding: embedding}
	}

	return &BatchEmbeddingResponse{
		Results:    results,
		Model:      req.Model,
		Dimensions: model.Dimensions,
		ProviderInfo: ProviderMetadata{
			Provider:  "ollama",
			LatencyMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

// GetSupportedModels returns the list of supported models
func (p *OllamaProvider) GetSupportedModels() []ModelInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	models := make([]ModelInfo, 0, len(p.models))
	for _, model := range p.models {
		models = append(models, model)
	}
	return models
}

// GetModel returns information about a specific model
func (p *OllamaProvider) GetModel(modelName string) (ModelInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	model, exists := p.models[modelName]
	if !exists {
		return ModelInfo{}, &ProviderError{
			Provider:   "ollama",
			Code:       "MODEL_NOT_FOUND",
			Message:    fmt.Sprintf("model %s not found", modelName),
			StatusCode: 404,
		}
	}
	return model, nil
}

// HealthCheck verifies the runtime is reachable
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", p.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &ProviderError{
			Provider:    "ollama",
			Code:        "UNREACHABLE",
			Message:     err.Error(),
			IsRetryable: true,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return &ProviderError{
			Provider:   "ollama",
			Code:       "UNHEALTHY",
			Message:    fmt.Sprintf("runtime returned status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}
	return nil
}

// Close cleans up resources
func (p *OllamaProvider) Close() error {
	return nil
}

func (p *OllamaProvider) embedOne(ctx context.Context, model, text string) ([]float32, error) {
	jsonData, err := json.Marshal(ollamaRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Endpoint+"/api/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{
			Provider:    "ollama",
			Code:        "REQUEST_FAILED",
			Message:     err.Error(),
			IsRetryable: true,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider:    "ollama",
			Code:        "GENERATION_FAILED",
			Message:     string(body),
			StatusCode:  resp.StatusCode,
			IsRetryable: isRetryableStatusCode(resp.StatusCode),
		}
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(ollamaResp.Embedding) == 0 {
		return nil, &ProviderError{
			Provider: "ollama",
			Code:     "MALFORMED_RESPONSE",
			Message:  "empty embedding in response",
		}
	}

	return ollamaResp.Embedding, nil
}
