package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// errEmbeddingCountMismatch indicates the API returned fewer embedding vectors
// than requested. Retryable: transient upstream issues (rate limiting behind a
// 200 status) can produce partial responses.
var errEmbeddingCountMismatch = errors.New("embedding response count mismatch")

// OpenAIConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
}

// OpenAIEmbedder generates embeddings via an OpenAI-compatible
// /v1/embeddings endpoint.
type OpenAIEmbedder struct {
	client        *openai.Client
	model         string
	maxRetries    int
	initialDelay  time.Duration
	backoffFactor float64
}

// NewOpenAIEmbedder creates an embedder from configuration.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	initialDelay := cfg.InitialDelay
	if initialDelay == 0 {
		initialDelay = time.Second
	}
	backoffFactor := cfg.BackoffFactor
	if backoffFactor == 0 {
		backoffFactor = 2.0
	}

	return &OpenAIEmbedder{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         model,
		maxRetries:    maxRetries,
		initialDelay:  initialDelay,
		backoffFactor: backoffFactor,
	}
}

// Embed generates embeddings for the given texts in a single API call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	}

	var resp openai.EmbeddingResponse
	err := e.withRetry(ctx, func() error {
		var callErr error
		resp, callErr = e.client.CreateEmbeddings(ctx, req)
		if callErr != nil {
			return callErr
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", errEmbeddingCountMismatch, len(resp.Data), len(texts))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		copy(vec, data.Embedding)
		vectors[i] = vec
	}
	return vectors, nil
}

// withRetry executes fn with exponential backoff.
func (e *OpenAIEmbedder) withRetry(ctx context.Context, fn func() error) error {
	delay := e.initialDelay
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt < e.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * e.backoffFactor)
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func isRetryable(err error) bool {
	if errors.Is(err, errEmbeddingCountMismatch) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return true
	}

	return false
}

var _ Embedder = (*OpenAIEmbedder)(nil)
