// Package gpu implements the HTTP client for the GPU inference service that
// produces embeddings and NSFW scores for catalog text.
package gpu

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hermesindex/hermes/internal/httpx"
)

// MaxTextsPerCall bounds one inference request. Larger batches are the
// caller's responsibility to split.
const MaxTextsPerCall = 256

// DefaultTimeout is the per-request timeout for inference calls.
const DefaultTimeout = 120 * time.Second

// EmbedResult is the response of an embedding-only call.
type EmbedResult struct {
	Embeddings [][]float32
	Dim        int
	Model      string
}

// InferResult extends EmbedResult with per-text NSFW scores.
type InferResult struct {
	Embeddings [][]float32
	NSFWScores []float64
	Dim        int
	Model      string
}

// Health is the service health snapshot.
type Health struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Dim    int    `json:"dim"`
}

// Client talks to the GPU service.
type Client struct {
	endpoint string
	http     *httpx.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying retrying client.
func WithHTTPClient(c *httpx.Client) Option {
	return func(g *Client) {
		if c != nil {
			g.http = c
		}
	}
}

// NewClient creates a client for the GPU service at endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     httpx.NewClient(&http.Client{Timeout: DefaultTimeout}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type inferRequest struct {
	Texts []string `json:"texts"`
}

type inferResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	NSFWScores []float64   `json:"nsfw_scores"`
	Dim        int         `json:"dim"`
	Model      string      `json:"model"`
}

// Embed returns one embedding per input text.
func (c *Client) Embed(ctx context.Context, texts []string) (EmbedResult, error) {
	resp, err := c.post(ctx, "/embed", texts)
	if err != nil {
		return EmbedResult{}, err
	}
	return EmbedResult{Embeddings: resp.Embeddings, Dim: resp.Dim, Model: resp.Model}, nil
}

// Infer returns embeddings plus NSFW scores for each input text.
func (c *Client) Infer(ctx context.Context, texts []string) (InferResult, error) {
	resp, err := c.post(ctx, "/infer", texts)
	if err != nil {
		return InferResult{}, err
	}
	if len(resp.NSFWScores) != len(texts) {
		return InferResult{}, fmt.Errorf("infer: got %d nsfw scores for %d texts", len(resp.NSFWScores), len(texts))
	}
	return InferResult{
		Embeddings: resp.Embeddings,
		NSFWScores: resp.NSFWScores,
		Dim:        resp.Dim,
		Model:      resp.Model,
	}, nil
}

// Healthcheck reads the service model and dimension.
func (c *Client) Healthcheck(ctx context.Context) (Health, error) {
	data, err := c.http.GetJSON(ctx, c.endpoint+"/health", nil)
	if err != nil {
		return Health{}, fmt.Errorf("gpu health: %w", err)
	}
	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		return Health{}, fmt.Errorf("decode gpu health: %w", err)
	}
	return h, nil
}

func (c *Client) post(ctx context.Context, path string, texts []string) (inferResponse, error) {
	var resp inferResponse
	if len(texts) == 0 {
		return resp, nil
	}
	if len(texts) > MaxTextsPerCall {
		return resp, fmt.Errorf("gpu %s: %d texts exceeds limit %d", path, len(texts), MaxTextsPerCall)
	}
	body, err := json.Marshal(inferRequest{Texts: texts})
	if err != nil {
		return resp, fmt.Errorf("encode gpu request: %w", err)
	}
	data, err := c.http.PostJSON(ctx, c.endpoint+path, body, nil)
	if err != nil {
		return resp, fmt.Errorf("gpu %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("decode gpu response: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return resp, fmt.Errorf("gpu %s: got %d embeddings for %d texts", path, len(resp.Embeddings), len(texts))
	}
	if resp.Dim == 0 && len(resp.Embeddings) > 0 {
		resp.Dim = len(resp.Embeddings[0])
	}
	for i, vec := range resp.Embeddings {
		if len(vec) != resp.Dim {
			return resp, fmt.Errorf("gpu %s: embedding %d has dim %d, expected %d", path, i, len(vec), resp.Dim)
		}
	}
	return resp, nil
}

// Normalize rescales vec to unit length in place. Zero vectors are left as-is.
func Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
