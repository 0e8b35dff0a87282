package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesindex/hermes/infrastructure/postgres"
	"github.com/hermesindex/hermes/internal/config"
)

func TestExtractCode(t *testing.T) {
	assert.Equal(t, "ABC-123", ExtractCode("ABC-123"))
	assert.Equal(t, "ABC-123", ExtractCode("[abc 123] something else"))
	assert.Equal(t, "ABCD-00123", ExtractCode("prefix abcd_00123 suffix"))
	assert.Empty(t, ExtractCode("no release code here"))
	assert.Empty(t, ExtractCode(""))
}

func TestExtractNames(t *testing.T) {
	assert.Equal(t, "plain", extractNames("plain"))
	assert.Equal(t, "a, b", extractNames([]any{"a", "", "b"}))
	assert.Equal(t, "Alice, Bob", extractNames([]any{
		map[string]any{"name": "Alice"},
		map[string]any{"title": "Bob"},
	}))
	assert.Equal(t, "Carol", extractNames([]any{
		map[string]any{"performer": map[string]any{"name": "Carol"}},
	}))
	assert.Equal(t, "Studio X", extractNames(map[string]any{"label": "Studio X"}))
	assert.Empty(t, extractNames(nil))
	assert.Empty(t, extractNames(42))
}

func TestExtractImageURL(t *testing.T) {
	assert.Equal(t, "http://img/1.jpg", extractImageURL("http://img/1.jpg"))
	assert.Equal(t, "http://img/2.jpg", extractImageURL(map[string]any{"url": "http://img/2.jpg"}))
	assert.Equal(t, "/posters/3.jpg", extractImageURL(map[string]any{"path": "/posters/3.jpg"}))
	assert.Equal(t, "http://img/4.jpg", extractImageURL([]any{
		map[string]any{"src": ""},
		map[string]any{"src": "http://img/4.jpg"},
	}))
	assert.Empty(t, extractImageURL(nil))
}

func TestExtractItems(t *testing.T) {
	payload := map[string]any{
		"data": map[string]any{
			"searchJav": map[string]any{
				"items": []any{
					map[string]any{"id": "1"},
					map[string]any{"id": "2"},
				},
			},
		},
	}

	items := extractItems(payload, "data.searchJav")
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0]["id"])

	// A bare object with no collection key is itself the single candidate.
	single := extractItems(map[string]any{"data": map[string]any{"movie": map[string]any{"id": "9"}}}, "data.movie")
	require.Len(t, single, 1)
	assert.Equal(t, "9", single[0]["id"])

	assert.Empty(t, extractItems(payload, "data.missing.path"))
}

func TestPickBestItem(t *testing.T) {
	items := []map[string]any{
		{"title": "Something Else", "code": "XYZ-999"},
		{"title": "ABC-123 Deluxe"},
		{"title": "Alien Resurrection"},
	}

	item, method, score := pickBestItem(items, "abc-123", "")
	assert.Equal(t, "ABC-123 Deluxe", item["title"])
	assert.Equal(t, "code", method)
	assert.Equal(t, 1.0, score)

	item, method, score = pickBestItem(items, "", "alien.resurrection")
	assert.Equal(t, "Alien Resurrection", item["title"])
	assert.Equal(t, "title_exact", method)
	assert.Equal(t, 0.9, score)

	item, method, score = pickBestItem(items, "", "Resurrection")
	assert.Equal(t, "Alien Resurrection", item["title"])
	assert.Equal(t, "title_partial", method)
	assert.Equal(t, 0.7, score)

	item, method, score = pickBestItem(items, "", "nothing matches this")
	assert.Equal(t, "Something Else", item["title"])
	assert.Equal(t, "fallback", method)
	assert.Equal(t, 0.5, score)
}

func TestNormalizeTPDBItem(t *testing.T) {
	item := map[string]any{
		"id":         float64(4711),
		"__typename": "Jav",
		"title":      "ABC-123 Deluxe",
		"performers": []any{
			map[string]any{"performer": map[string]any{"name": "Alice"}},
			map[string]any{"performer": map[string]any{"name": "Bob"}},
		},
		"tags":   []any{map[string]any{"name": "drama"}},
		"studio": map[string]any{"name": "Studio X"},
		"urls": []any{
			map[string]any{"site": map[string]any{"name": "SiteA"}},
			map[string]any{"site": "SiteB"},
		},
		"releaseDate": "2024-01-02",
		"description": "A plot.",
		"image":       map[string]any{"url": "http://img/p.jpg"},
		"code":        "ABC-123",
	}

	values := NormalizeTPDBItem(item)
	assert.Equal(t, "4711", values.TPDBID)
	assert.Equal(t, "Jav", values.ExternalType)
	assert.Equal(t, "ABC-123 Deluxe", values.Title)
	assert.Equal(t, "Alice, Bob", values.Actors)
	assert.Equal(t, "drama", values.Tags)
	assert.Equal(t, "Studio X", values.Studio)
	assert.Equal(t, "SiteA, SiteB", values.Site)
	assert.Equal(t, "2024-01-02", values.ReleaseDate)
	assert.Equal(t, "A plot.", values.Plot)
	assert.Equal(t, "http://img/p.jpg", values.PosterURL)
	// With no aka field the code stands in.
	assert.Equal(t, "ABC-123", values.AKA)
}

func TestBuildVariables(t *testing.T) {
	year := 2024
	vars := buildVariables(postgres.TPDBRef{
		Title:       "[ABC-123] Deluxe (1080p)",
		ReleaseYear: &year,
	}, 10)

	assert.Equal(t, "ABC-123", vars["term"])
	assert.Equal(t, "ABC-123", vars["code"])
	assert.Equal(t, "ABC 123 Deluxe", vars["title"])
	assert.Equal(t, "[ABC-123] Deluxe (1080p)", vars["raw_title"])
	assert.Equal(t, "2024", vars["date"])
	assert.Equal(t, 10, vars["limit"])
}

func TestBuildVariablesWithoutCode(t *testing.T) {
	vars := buildVariables(postgres.TPDBRef{OriginalTitle: "Some Plain Title"}, 5)
	assert.Equal(t, "Some Plain Title", vars["term"])
	assert.Empty(t, vars["code"])
	assert.Empty(t, vars["date"])
}

func TestTPDBClientFetchPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-1", r.Header.Get("ApiKey"))
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "query Search", req.Query)
		assert.Equal(t, "ABC-123", req.Variables["term"])
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"items": []any{}}})
	}))
	defer srv.Close()

	client, err := NewTPDBClient(config.TPDBConfig{APIToken: "token-1", TimeoutSeconds: 5})
	require.NoError(t, err)

	payload, err := client.FetchPayload(context.Background(), srv.URL, "query Search", map[string]any{"term": "ABC-123"})
	require.NoError(t, err)
	assert.Contains(t, payload, "data")
}

func TestTPDBClientAuthPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	}))
	defer srv.Close()

	client, err := NewTPDBClient(config.TPDBConfig{
		APIToken:       "token-1",
		AuthHeader:     "Authorization",
		AuthPrefix:     "Bearer",
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)

	_, err = client.FetchPayload(context.Background(), srv.URL, "q", nil)
	require.NoError(t, err)
}

func TestTPDBClientGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []any{map[string]any{"message": "unauthorized"}},
		})
	}))
	defer srv.Close()

	client, err := NewTPDBClient(config.TPDBConfig{APIToken: "token-1", TimeoutSeconds: 5})
	require.NoError(t, err)

	_, err = client.FetchPayload(context.Background(), srv.URL, "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graphql errors")
}
