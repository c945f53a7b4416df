package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// OpenAIProvider implements Provider against the OpenAI embeddings API or
// any HTTP service speaking the same wire contract.
type OpenAIProvider struct {
	config     ProviderConfig
	httpClient *http.Client
	models     map[string]ModelInfo
	mu         sync.RWMutex
}

type openAIRequest struct {
	Input interface{} `json:"input"` // string or []string
	Model string      `json:"model"`
	User  string      `json:"user,omitempty"`
}

type openAIResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config ProviderConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if config.Endpoint == "" {
		config.Endpoint = "https://api.openai.com/v1"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelayBase == 0 {
		config.RetryDelayBase = time.Second
	}
	if config.RetryDelayMax == 0 {
		config.RetryDelayMax = 30 * time.Second
	}

	p := &OpenAIProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}

	p.models = map[string]ModelInfo{
		"text-embedding-3-small": {
			Name:          "text-embedding-3-small",
			DisplayName:   "OpenAI Text Embedding 3 Small",
			Dimensions:    1536,
			MaxBatchSize:  2048,
			MaxTextLength: 8191,
			IsActive:      true,
		},
		"text-embedding-3-large": {
			Name:          "text-embedding-3-large",
			DisplayName:   "OpenAI Text Embedding 3 Large",
			Dimensions:    3072,
			MaxBatchSize:  2048,
			MaxTextLength: 8191,
			IsActive:      true,
		},
		"text-embedding-ada-002": {
			Name:          "text-embedding-ada-002",
			DisplayName:   "OpenAI Ada v2",
			Dimensions:    1536,
			MaxBatchSize:  2048,
			MaxTextLength: 8191,
			IsActive:      true,
		},
	}

	return p, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// BatchGenerateEmbeddings generates embeddings for multiple texts
func (p *OpenAIProvider) BatchGenerateEmbeddings(ctx context.Context, req BatchGenerateEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	model, err := p.GetModel(req.Model)
	if err != nil {
		return nil, err
	}
	if len(req.Texts) == 0 {
		return nil, &ProviderError{
			Provider: "openai",
			Code:     "EMPTY_BATCH",
			Message:  "batch contains no texts",
		}
	}

	start := time.Now()

	openAIReq := openAIRequest{
		Input: req.Texts,
		Model: req.Model,
		User:  req.RequestID,
	}

	var resp *openAIResponse
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.retryDelay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, lastErr = p.doRequest(ctx, openAIReq)
		if lastErr == nil {
			break
		}
		if !isRetryableProviderError(lastErr) {
			break
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	results := make([]EmbeddingResult, len(req.Texts))
	for _, data := range resp.Data {
		if data.Index >= 0 && data.Index < len(results) {
			results[data.Index] = EmbeddingResult{Embedding: data.Embedding}
		}
	}
	for i := range results {
		if results[i].Embedding == nil && results[i].Err == nil {
			results[i].Err = &ProviderError{
				Provider: "openai",
				Code:     "MISSING_EMBEDDING",
				Message:  fmt.Sprintf("no embedding returned for input index %d", i),
			}
		}
	}

	return &BatchEmbeddingResponse{
		Results:    results,
		Model:      resp.Model,
		Dimensions: model.Dimensions,
		ProviderInfo: ProviderMetadata{
			Provider:  "openai",
			LatencyMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

// GetSupportedModels returns the list of supported models
func (p *OpenAIProvider) GetSupportedModels() []ModelInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	models := make([]ModelInfo, 0, len(p.models))
	for _, model := range p.models {
		models = append(models, model)
	}
	return models
}

// GetModel returns information about a specific model
func (p *OpenAIProvider) GetModel(modelName string) (ModelInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	model, exists := p.models[modelName]
	if !exists {
		return ModelInfo{}, &ProviderError{
			Provider:   "openai",
			Code:       "MODEL_NOT_FOUND",
			Message:    fmt.Sprintf("model %s not found", modelName),
			StatusCode: 404,
		}
	}
	return model, nil
}

// HealthCheck verifies the provider is accessible
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	req := openAIRequest{
		Input: "health check",
		Model: "text-embedding-ada-002",
	}
	_, err := p.doRequest(ctx, req)
	return err
}

// Close cleans up resources
func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) doRequest(ctx context.Context, reqBody openAIRequest) (*openAIResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Endpoint+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	for k, v := range p.config.CustomHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{
			Provider:    "openai",
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
		var errResp openAIErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, &ProviderError{
				Provider:    "openai",
				Code:        "UNKNOWN_ERROR",
				Message:     string(body),
				StatusCode:  resp.StatusCode,
				IsRetryable: isRetryableStatusCode(resp.StatusCode),
			}
		}
		return nil, &ProviderError{
			Provider:    "openai",
			Code:        errResp.Error.Code,
			Message:     errResp.Error.Message,
			StatusCode:  resp.StatusCode,
			RetryAfter:  parseRetryAfter(resp.Header.Get("Retry-After")),
			IsRetryable: isRetryableStatusCode(resp.StatusCode),
		}
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(openAIResp.Data) == 0 {
		return nil, &ProviderError{
			Provider: "openai",
			Code:     "MALFORMED_RESPONSE",
			Message:  "no embedding data in response",
		}
	}

	return &openAIResp, nil
}

func (p *OpenAIProvider) retryDelay(attempt int) time.Duration {
	delay := p.config.RetryDelayBase * time.Duration(1<<uint(attempt-1))
	if delay > p.config.RetryDelayMax {
		delay = p.config.RetryDelayMax
	}
	return delay
}

func isRetryableProviderError(err error) bool {
	if provErr, ok := err.(*ProviderError); ok {
		return provErr.IsRetryable
	}
	return true
}

func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		duration := time.Duration(seconds) * time.Second
		return &duration
	}
	if t, err := http.ParseTime(header); err == nil {
		duration := time.Until(t)
		if duration > 0 {
			return &duration
		}
	}
	return nil
}
