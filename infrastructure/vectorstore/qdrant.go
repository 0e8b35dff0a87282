package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hermesindex/hermes/domain/vector"
	"github.com/hermesindex/hermes/internal/httpx"
)

// QdrantConfig configures the points-API cluster backend.
type QdrantConfig struct {
	URL        string
	Collection string
	APIKey     string
	Dim        int
	Metric     vector.Metric
	Timeout    time.Duration
}

// Qdrant talks to a qdrant-compatible points API over HTTP. Points are
// upserted under their stable UUID with the full payload; filters are
// translated into must-clauses evaluated server side.
type Qdrant struct {
	base       string
	collection string
	headers    map[string]string
	dim        int
	metric     vector.Metric
	http       *httpx.Client
}

// qdrant distance names per metric.
var qdrantDistances = map[vector.Metric]string{
	vector.MetricCosine:    "Cosine",
	vector.MetricDot:       "Dot",
	vector.MetricEuclidean: "Euclid",
}

// NewQdrant creates the backend and ensures the collection exists.
func NewQdrant(ctx context.Context, cfg QdrantConfig) (*Qdrant, error) {
	if cfg.URL == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant backend requires url and collection")
	}
	metric := cfg.Metric
	if metric == "" {
		metric = vector.MetricCosine
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["api-key"] = cfg.APIKey
	}

	s := &Qdrant{
		base:       strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		headers:    headers,
		dim:        cfg.Dim,
		metric:     metric,
		http:       httpx.NewClient(&http.Client{Timeout: timeout}),
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Qdrant) collectionURL(suffix string) string {
	return s.base + "/collections/" + s.collection + suffix
}

// ensureCollection creates the collection when it does not exist yet.
func (s *Qdrant) ensureCollection(ctx context.Context) error {
	_, err := s.http.GetJSON(ctx, s.collectionURL(""), s.headers)
	if err == nil {
		return nil
	}
	if !httpx.IsNotFound(err) {
		return fmt.Errorf("probe collection: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     s.dim,
			"distance": qdrantDistances[s.metric],
		},
	})
	if err != nil {
		return err
	}
	if _, err := s.http.PutJSON(ctx, s.collectionURL(""), body, s.headers); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Add implements vector.Store.
func (s *Qdrant) Add(ctx context.Context, vectors [][]float32, payloads []vector.Payload) ([]uuid.UUID, error) {
	if len(vectors) != len(payloads) {
		return nil, fmt.Errorf("qdrant add: %d vectors for %d payloads", len(vectors), len(payloads))
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	for i, vec := range vectors {
		if s.dim > 0 && len(vec) != s.dim {
			return nil, fmt.Errorf("qdrant add: vector %d has dim %d, collection expects %d", i, len(vec), s.dim)
		}
	}

	ids := make([]uuid.UUID, len(payloads))
	points := make([]map[string]any, len(payloads))
	for i, payload := range payloads {
		ids[i] = vector.PointID(payload.Key())
		points[i] = map[string]any{
			"id":      ids[i].String(),
			"vector":  vectors[i],
			"payload": payload,
		}
	}
	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return nil, err
	}
	if _, err := s.http.PutJSON(ctx, s.collectionURL("/points?wait=true"), body, s.headers); err != nil {
		return nil, fmt.Errorf("qdrant upsert: %w", err)
	}
	return ids, nil
}

// Query implements vector.Store.
func (s *Qdrant) Query(ctx context.Context, vec []float32, topk int, filter vector.Filter, offset int) ([]vector.Hit, error) {
	if topk <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vec,
		"limit":        topk,
		"offset":       offset,
		"with_payload": true,
	}
	if clause := qdrantFilter(filter); clause != nil {
		req["filter"] = clause
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	data, err := s.http.PostJSON(ctx, s.collectionURL("/points/search"), body, s.headers)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	var resp struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float32        `json:"score"`
			Payload vector.Payload `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode qdrant response: %w", err)
	}

	hits := make([]vector.Hit, 0, len(resp.Result))
	for _, point := range resp.Result {
		id, err := uuid.Parse(point.ID)
		if err != nil {
			id = vector.PointID(point.Payload.Key())
		}
		hits = append(hits, vector.Hit{
			ID:      id,
			Score:   s.metric.Score(point.Score),
			Payload: point.Payload,
		})
	}
	return hits, nil
}

// Size implements vector.Store.
func (s *Qdrant) Size(ctx context.Context) (int, error) {
	data, err := s.http.GetJSON(ctx, s.collectionURL(""), s.headers)
	if err != nil {
		return 0, fmt.Errorf("qdrant collection info: %w", err)
	}
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("decode qdrant collection info: %w", err)
	}
	return resp.Result.PointsCount, nil
}

// Close implements vector.Store.
func (s *Qdrant) Close() error {
	return nil
}

// qdrantFilter translates a Filter into a must-clause map, or nil when empty.
func qdrantFilter(f vector.Filter) map[string]any {
	if f.IsEmpty() {
		return nil
	}
	var must []map[string]any
	if f.HasTMDB() {
		must = append(must, map[string]any{"key": "has_tmdb", "match": map[string]any{"value": true}})
	}
	if ft := f.FileType(); ft != "" {
		must = append(must, map[string]any{"key": "file_type", "match": map[string]any{"value": ft}})
	}
	if genres := f.Genres(); len(genres) > 0 {
		must = append(must, map[string]any{"key": "genre_tags", "match": map[string]any{"any": genres}})
	}
	if langs := f.AudioLangs(); len(langs) > 0 {
		must = append(must, map[string]any{"key": "audio_langs", "match": map[string]any{"any": langs}})
	}
	if langs := f.SubtitleLangs(); len(langs) > 0 {
		must = append(must, map[string]any{"key": "subtitle_langs", "match": map[string]any{"any": langs}})
	}
	if min := f.SizeMin(); min > 0 {
		must = append(must, map[string]any{"key": "size", "range": map[string]any{"gte": min}})
	}
	return map[string]any{"must": must}
}

var _ vector.Store = (*Qdrant)(nil)
