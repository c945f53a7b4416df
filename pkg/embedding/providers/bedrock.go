package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider implements Provider for AWS Bedrock embedding models.
// Titan models take one text per InvokeModel call; Cohere models accept a
// native batch.
type BedrockProvider struct {
	config ProviderConfig
	client *bedrockruntime.Client
	models map[string]ModelInfo
	mu     sync.RWMutex
}

type titanEmbeddingRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbeddingResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

type cohereEmbeddingRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereEmbeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	ID         string      `json:"id"`
}

// NewBedrockProvider creates a new AWS Bedrock provider
func NewBedrockProvider(providerConfig ProviderConfig) (*BedrockProvider, error) {
	if providerConfig.Region == "" {
		providerConfig.Region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(providerConfig.Region),
		config.WithHTTPClient(&http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	p := &BedrockProvider{
		config: providerConfig,
		client: bedrockruntime.NewFromConfig(cfg),
	}

	p.models = map[string]ModelInfo{
		"amazon.titan-embed-text-v1": {
			Name:          "amazon.titan-embed-text-v1",
			DisplayName:   "Amazon Titan Text Embeddings v1",
			Dimensions:    1536,
			MaxBatchSize:  1,
			MaxTextLength: 8192,
			IsActive:      true,
		},
		"amazon.titan-embed-text-v2:0": {
			Name:          "amazon.titan-embed-text-v2:0",
			DisplayName:   "Amazon Titan Text Embeddings v2",
			Dimensions:    1024,
			MaxBatchSize:  1,
			MaxTextLength: 8192,
			IsActive:      true,
		},
		"cohere.embed-english-v3": {
			Name:          "cohere.embed-english-v3",
			DisplayName:   "Cohere Embed English v3",
			Dimensions:    1024,
			MaxBatchSize:  96,
			MaxTextLength: 2048,
			IsActive:      true,
		},
	}

	return p, nil
}

// Name returns the provider name
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// BatchGenerateEmbeddings generates embeddings for multiple texts
func (p *BedrockProvider) BatchGenerateEmbeddings(ctx context.Context, req BatchGenerateEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	model, err := p.GetModel(req.Model)
	if err != nil {
		return nil, err
	}
	if len(req.Texts) == 0 {
		return nil, &ProviderError{
			Provider: "bedrock",
			Code:     "EMPTY_BATCH",
			Message:  "batch contains no texts",
		}
	}

	start := time.Now()

	var results []EmbeddingResult
	if strings.Contains(req.Model, "cohere") {
		results, err = p.embedCohereBatch(ctx, req.Model, req.Texts)
	} else {
		results, err = p.embedTitanSequential(ctx, req.Model, req.Texts)
	}
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Results:    results,
		Model:      req.Model,
		Dimensions: model.Dimensions,
		ProviderInfo: ProviderMetadata{
			Provider:  "bedrock",
			Region:    p.config.Region,
			LatencyMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

// GetSupportedModels returns the list of supported models
func (p *BedrockProvider) GetSupportedModels() []ModelInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	models := make([]ModelInfo, 0, len(p.models))
	for _, model := range p.models {
		models = append(models, model)
	}
	return models
}

// GetModel returns information about a specific model
func (p *BedrockProvider) GetModel(modelName string) (ModelInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	model, exists := p.models[modelName]
	if !exists {
		return ModelInfo{}, &ProviderError{
			Provider:   "bedrock",
			Code:       "MODEL_NOT_FOUND",
			Message:    fmt.Sprintf("model %s not found", modelName),
			StatusCode: 404,
		}
	}
	return model, nil
}

// HealthCheck verifies Bedrock is reachable with a minimal invocation
func (p *BedrockProvider) HealthCheck(ctx context.Context) error {
	_, err := p.invokeTitan(ctx, "amazon.titan-embed-text-v2:0", "health check")
	return err
}

// Close cleans up resources
func (p *BedrockProvider) Close() error {
	return nil
}

func (p *BedrockProvider) embedTitanSequential(ctx context.Context, model string, texts []string) ([]EmbeddingResult, error) {
	results := make([]EmbeddingResult, len(texts))
	for i, text := range texts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		embedding, err := p.invokeTitan(ctx, model, text)
		if err != nil {
			results[i] = EmbeddingResult{Err: asProviderError("bedrock", err)}
			continue
		}
		results[i] = EmbeddingResult{Embedding: embedding}
	}
	return results, nil
}

func (p *BedrockProvider) invokeTitan(ctx context.Context, model, text string) ([]float32, error) {
	requestBody, err := json.Marshal(titanEmbeddingRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, &ProviderError{
			Provider:    "bedrock",
			Code:        "INVOKE_FAILED",
			Message:     err.Error(),
			IsRetryable: true,
		}
	}

	var titanResp titanEmbeddingResponse
	if err := json.Unmarshal(output.Body, &titanResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(titanResp.Embedding) == 0 {
		return nil, &ProviderError{
			Provider: "bedrock",
			Code:     "MALFORMED_RESPONSE",
			Message:  "empty embedding in response",
		}
	}
	return titanResp.Embedding, nil
}

func (p *BedrockProvider) embedCohereBatch(ctx context.Context, model string, texts []string) ([]EmbeddingResult, error) {
	requestBody, err := json.Marshal(cohereEmbeddingRequest{
		Texts:     texts,
		InputType: "search_document",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, &ProviderError{
			Provider:    "bedrock",
			Code:        "INVOKE_FAILED",
			Message:     err.Error(),
			IsRetryable: true,
		}
	}

	var cohereResp cohereEmbeddingResponse
	if err := json.Unmarshal(output.Body, &cohereResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]EmbeddingResult, len(texts))
	for i := range texts {
		if i < len(cohereResp.Embeddings) && len(cohereResp.Embeddings[i]) > 0 {
			results[i] = EmbeddingResult{Embedding: cohereResp.Embeddings[i]}
		} else {
			results[i] = EmbeddingResult{Err: &ProviderError{
				Provider: "bedrock",
				Code:     "MISSING_EMBEDDING",
				Message:  fmt.Sprintf("no embedding returned for input index %d", i),
			}}
		}
	}
	return results, nil
}

func asProviderError(provider string, err error) *ProviderError {
	if provErr, ok := err.(*ProviderError); ok {
		return provErr
	}
	return &ProviderError{
		Provider:    provider,
		Code:        "REQUEST_FAILED",
		Message:     err.Error(),
		IsRetryable: true,
	}
}
