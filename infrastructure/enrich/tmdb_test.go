package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesindex/hermes/internal/config"
)

func tmdbPayload() map[string]any {
	return map[string]any{
		"overview": "A crew aboard a deep space vessel.",
		"imdb_id":  "tt0078748",
		"genres": []any{
			map[string]any{"name": "Horror"},
			map[string]any{"name": "Sci-Fi"},
		},
		"keywords": map[string]any{
			"keywords": []any{
				map[string]any{"name": "space"},
				map[string]any{"name": "alien"},
			},
		},
		"credits": map[string]any{
			"cast": []any{
				map[string]any{"name": "Sigourney Weaver"},
				map[string]any{"name": "Tom Skerritt"},
				map[string]any{"name": "John Hurt"},
			},
			"crew": []any{
				map[string]any{"name": "Ridley Scott", "job": "Director"},
				map[string]any{"name": "Dan O'Bannon", "job": "Writer"},
			},
		},
		"alternative_titles": map[string]any{
			"titles": []any{
				map[string]any{"title": "Alien 1979"},
				map[string]any{"title": "El octavo pasajero"},
				map[string]any{"title": "Alien le huitieme passager"},
			},
		},
	}
}

func TestNormalizeTMDBPayload(t *testing.T) {
	values := NormalizeTMDBPayload(tmdbPayload(), config.TMDBLimits{Actors: 2, Directors: 5, AKA: 2})

	assert.Equal(t, "Horror, Sci-Fi", values.Genre)
	assert.Equal(t, "space, alien", values.Keywords)
	assert.Equal(t, "Sigourney Weaver, Tom Skerritt", values.Actors)
	assert.Equal(t, "Ridley Scott", values.Directors)
	assert.Equal(t, "Alien 1979, El octavo pasajero", values.AKA)
	assert.Equal(t, "A crew aboard a deep space vessel.", values.Plot)
}

func TestNormalizeTMDBPayloadResultsFallback(t *testing.T) {
	payload := map[string]any{
		"keywords": map[string]any{
			"results": []any{map[string]any{"name": "monster"}},
		},
		"alternative_titles": map[string]any{
			"results": []any{map[string]any{"title": "Other"}},
		},
	}
	values := NormalizeTMDBPayload(payload, config.TMDBLimits{})
	assert.Equal(t, "monster", values.Keywords)
	assert.Equal(t, "Other", values.AKA)
	assert.Empty(t, values.Actors)
	assert.Empty(t, values.Genre)
}

func TestTMDBClientFetchPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/movie/603", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "secret", q.Get("api_key"))
		assert.Equal(t, "en-US", q.Get("language"))
		assert.Equal(t, "credits,keywords,alternative_titles", q.Get("append_to_response"))
		_ = json.NewEncoder(w).Encode(map[string]any{"title": "The Matrix"})
	}))
	defer srv.Close()

	client, err := NewTMDBClient(config.TMDBConfig{
		APIKey:         "secret",
		BaseURL:        srv.URL,
		Language:       "en-US",
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)

	payload, err := client.FetchPayload(context.Background(), "movie", "603")
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", payload["title"])
}

func TestTMDBClientUnsupportedType(t *testing.T) {
	client, err := NewTMDBClient(config.TMDBConfig{APIKey: "secret", TimeoutSeconds: 5})
	require.NoError(t, err)

	_, err = client.FetchPayload(context.Background(), "book", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported TMDB type")
}

func TestTMDBClientCachesResponses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"title": "Cached"})
	}))
	defer srv.Close()

	client, err := NewTMDBClient(config.TMDBConfig{
		APIKey:         "secret",
		BaseURL:        srv.URL,
		CacheDir:       t.TempDir(),
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)

	for range 2 {
		payload, err := client.FetchPayload(context.Background(), "tv_show", "42")
		require.NoError(t, err)
		assert.Equal(t, "Cached", payload["title"])
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestParseRating(t *testing.T) {
	require.NotNil(t, parseRating("7.8"))
	assert.InDelta(t, 7.8, *parseRating("7.8"), 1e-9)
	assert.Nil(t, parseRating("N/A"))
	assert.Nil(t, parseRating(""))
	assert.Nil(t, parseRating("abc"))
}
