package provider

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

// fakeEmbeddingServer mimics an OpenAI-compatible embeddings endpoint. It
// returns deterministic 3-dimensional vectors and counts requests.
func fakeEmbeddingServer(t *testing.T, counter *atomic.Int64, failFirst int) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := counter.Add(1)
		if n <= int64(failFirst) {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}

		var body struct {
			Input any    `json:"input"`
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		var texts []string
		switch v := body.Input.(type) {
		case string:
			texts = []string{v}
		case []any:
			for _, item := range v {
				texts = append(texts, item.(string))
			}
		}

		data := make([]map[string]any, len(texts))
		for i := range texts {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{0.1, 0.2, 0.3},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  body.Model,
			"usage":  map[string]int{"prompt_tokens": len(texts), "total_tokens": len(texts)},
		})
	}))
}

func TestOpenAIEmbedderEmbed(t *testing.T) {
	var counter atomic.Int64
	srv := fakeEmbeddingServer(t, &counter, 0)
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
	})

	vectors, err := e.Embed(context.Background(), []string{"alien", "xenomorph"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.InDelta(t, 0.2, vectors[0][1], 1e-6)
	assert.Equal(t, int64(1), counter.Load())
}

func TestOpenAIEmbedderEmptyInput(t *testing.T) {
	var counter atomic.Int64
	srv := fakeEmbeddingServer(t, &counter, 0)
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	vectors, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Equal(t, int64(0), counter.Load())
}

func TestOpenAIEmbedderRetriesTransient(t *testing.T) {
	var counter atomic.Int64
	srv := fakeEmbeddingServer(t, &counter, 1)
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{
		APIKey:       "k",
		BaseURL:      srv.URL,
		InitialDelay: time.Millisecond,
	})
	vectors, err := e.Embed(context.Background(), []string{"alien"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, int64(2), counter.Load())
}

func TestIsRetryableCountMismatch(t *testing.T) {
	assert.True(t, isRetryable(errEmbeddingCountMismatch))
	assert.False(t, isRetryable(context.Canceled))
}
