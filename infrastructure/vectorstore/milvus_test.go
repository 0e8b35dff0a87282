package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesindex/hermes/domain/vector"
)

type fakeMilvus struct {
	t          *testing.T
	rows       map[string]map[string]any
	lastSearch map[string]any
}

func (f *fakeMilvus) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/vectordb/entities/upsert", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CollectionName string           `json:"collectionName"`
			Data           []map[string]any `json:"data"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(f.t, "hermes", req.CollectionName)
		for _, row := range req.Data {
			f.rows[row["id"].(string)] = row
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{}})
	})
	mux.HandleFunc("/v2/vectordb/entities/search", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.lastSearch = req

		var data []map[string]any
		for _, row := range f.rows {
			out := map[string]any{"distance": 0.1}
			for k, v := range row {
				if k == "vector" {
					continue
				}
				out[k] = v
			}
			data = append(data, out)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": data})
	})
	mux.HandleFunc("/v2/vectordb/collections/get_stats", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"rowCount": len(f.rows)},
		})
	})
	return mux
}

func newFakeMilvus(t *testing.T) (*fakeMilvus, *Milvus) {
	f := &fakeMilvus{t: t, rows: map[string]map[string]any{}}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	s, err := NewMilvus(MilvusConfig{
		URI:        srv.URL,
		Collection: "hermes",
		Dim:        4,
		Metric:     vector.MetricCosine,
	})
	require.NoError(t, err)
	return f, s
}

func TestMilvusAddAndQuery(t *testing.T) {
	ctx := context.Background()
	f, s := newFakeMilvus(t)

	p := payload("torrents", "1")
	p.FileType = "video"
	p.GenreTags = []string{"恐怖"}
	p.Size = 2048

	ids, err := s.Add(ctx, [][]float32{{1, 0, 0, 0}}, []vector.Payload{p})
	require.NoError(t, err)
	require.Len(t, f.rows, 1)

	hits, err := s.Query(ctx, []float32{1, 0, 0, 0}, 5, vector.Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ids[0], hits[0].ID)
	assert.Equal(t, "1", hits[0].Payload.PGID)
	assert.Equal(t, "video", hits[0].Payload.FileType)
	assert.Equal(t, []string{"恐怖"}, hits[0].Payload.GenreTags)
	assert.EqualValues(t, 2048, hits[0].Payload.Size)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9)

	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestMilvusFilterExpression(t *testing.T) {
	filter := vector.NewFilter(
		vector.WithHasTMDB(),
		vector.WithFileType("video"),
		vector.WithGenres([]string{"恐怖", "Horror"}),
		vector.WithSizeMin(1024),
	)
	expr := milvusFilter(filter)
	assert.Contains(t, expr, "has_tmdb == true")
	assert.Contains(t, expr, `file_type == "video"`)
	assert.Contains(t, expr, `ARRAY_CONTAINS_ANY(genre_tags, ["恐怖", "Horror"])`)
	assert.Contains(t, expr, "size >= 1024")

	assert.Empty(t, milvusFilter(vector.Filter{}))
}

func TestMilvusSearchCarriesOffsetAndFilter(t *testing.T) {
	ctx := context.Background()
	f, s := newFakeMilvus(t)

	_, err := s.Query(ctx, []float32{1, 0, 0, 0}, 5, vector.NewFilter(vector.WithFileType("video")), 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.lastSearch["offset"])
	assert.Contains(t, f.lastSearch["filter"], "file_type")
}

func TestMilvusErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 1100, "message": "collection not found"})
	}))
	defer srv.Close()

	s, err := NewMilvus(MilvusConfig{URI: srv.URL, Collection: "hermes", Dim: 4})
	require.NoError(t, err)

	_, err = s.Query(context.Background(), []float32{1, 0, 0, 0}, 5, vector.Filter{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection not found")
}
