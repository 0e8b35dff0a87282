package gpu

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesindex/hermes/internal/httpx"
)

func newTestClient(url string) *Client {
	inner := httpx.NewClient(http.DefaultClient, httpx.WithBackoff(time.Millisecond))
	return NewClient(url, WithHTTPClient(inner))
}

func TestInferReturnsScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/infer", r.URL.Path)
		var req struct {
			Texts []string `json:"texts"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Texts, 2)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings":  [][]float32{{0.1, 0.2}, {0.3, 0.4}},
			"nsfw_scores": []float64{0.05, 0.92},
			"dim":         2,
			"model":       "bge-m3",
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Infer(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Dim)
	assert.Equal(t, "bge-m3", res.Model)
	assert.InDelta(t, 0.92, res.NSFWScores[1], 1e-9)
	require.Len(t, res.Embeddings, 2)
}

func TestEmbedRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 0}},
			"dim":        2,
			"model":      "bge-m3",
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, res.Embeddings, 1)
}

func TestEmbedDimMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 0, 0}},
			"dim":        2,
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dim")
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 0}},
			"dim":        2,
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 embeddings for 2 texts")
}

func TestEmbedRejectsOversizedBatch(t *testing.T) {
	texts := make([]string, MaxTextsPerCall+1)
	_, err := newTestClient("http://unused").Embed(context.Background(), texts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestEmbedEmptyInput(t *testing.T) {
	res, err := newTestClient("http://unused").Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Embeddings)
}

func TestHealthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Health{Status: "ok", Model: "bge-m3", Dim: 1024})
	}))
	defer srv.Close()

	h, err := newTestClient(srv.URL).Healthcheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1024, h.Dim)
}

func TestNormalize(t *testing.T) {
	vec := []float32{3, 4}
	Normalize(vec)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)

	zero := []float32{0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
