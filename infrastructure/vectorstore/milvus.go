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

// MilvusConfig configures the columnar v2 cluster backend.
type MilvusConfig struct {
	URI        string
	Collection string
	APIKey     string
	Dim        int
	Metric     vector.Metric
	Timeout    time.Duration
}

// Milvus talks to a milvus-compatible v2 REST API. Rows carry the payload
// columns inline; filters are rendered as boolean expressions.
type Milvus struct {
	base       string
	collection string
	headers    map[string]string
	dim        int
	metric     vector.Metric
	http       *httpx.Client
}

// NewMilvus creates the backend.
func NewMilvus(cfg MilvusConfig) (*Milvus, error) {
	if cfg.URI == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("milvus backend requires uri and collection")
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
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &Milvus{
		base:       strings.TrimRight(cfg.URI, "/"),
		collection: cfg.Collection,
		headers:    headers,
		dim:        cfg.Dim,
		metric:     metric,
		http:       httpx.NewClient(&http.Client{Timeout: timeout}),
	}, nil
}

type milvusResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *Milvus) post(ctx context.Context, path string, req map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	data, err := s.http.PostJSON(ctx, s.base+path, body, s.headers)
	if err != nil {
		return nil, err
	}
	var resp milvusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode milvus response: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("milvus error %d: %s", resp.Code, resp.Message)
	}
	return resp.Data, nil
}

// Add implements vector.Store.
func (s *Milvus) Add(ctx context.Context, vectors [][]float32, payloads []vector.Payload) ([]uuid.UUID, error) {
	if len(vectors) != len(payloads) {
		return nil, fmt.Errorf("milvus add: %d vectors for %d payloads", len(vectors), len(payloads))
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	for i, vec := range vectors {
		if s.dim > 0 && len(vec) != s.dim {
			return nil, fmt.Errorf("milvus add: vector %d has dim %d, collection expects %d", i, len(vec), s.dim)
		}
	}

	ids := make([]uuid.UUID, len(payloads))
	rows := make([]map[string]any, len(payloads))
	for i, payload := range payloads {
		ids[i] = vector.PointID(payload.Key())
		rows[i] = map[string]any{
			"id":                ids[i].String(),
			"vector":            vectors[i],
			"source":            payload.Source,
			"pg_id":             payload.PGID,
			"text_hash":         payload.TextHash,
			"embedding_version": payload.EmbeddingVersion,
			"nsfw":              payload.NSFW,
			"nsfw_score":        payload.NSFWScore,
			"has_tmdb":          payload.HasTMDB,
			"tmdb_id":           payload.TMDBID,
			"has_tpdb":          payload.HasTPDB,
			"tpdb_id":           payload.TPDBID,
			"genre_tags":        payload.GenreTags,
			"file_type":         payload.FileType,
			"audio_langs":       payload.AudioLangs,
			"subtitle_langs":    payload.SubtitleLangs,
			"size":              payload.Size,
			"title":             payload.Title,
		}
	}
	_, err := s.post(ctx, "/v2/vectordb/entities/upsert", map[string]any{
		"collectionName": s.collection,
		"data":           rows,
	})
	if err != nil {
		return nil, fmt.Errorf("milvus upsert: %w", err)
	}
	return ids, nil
}

// Query implements vector.Store.
func (s *Milvus) Query(ctx context.Context, vec []float32, topk int, filter vector.Filter, offset int) ([]vector.Hit, error) {
	if topk <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"collectionName": s.collection,
		"data":           [][]float32{vec},
		"limit":          topk,
		"offset":         offset,
		"outputFields":   []string{"*"},
	}
	if expr := milvusFilter(filter); expr != "" {
		req["filter"] = expr
	}
	data, err := s.post(ctx, "/v2/vectordb/entities/search", req)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode milvus rows: %w", err)
	}

	hits := make([]vector.Hit, 0, len(rows))
	for _, row := range rows {
		payload := payloadFromRow(row)
		id, err := uuid.Parse(stringField(row, "id"))
		if err != nil {
			id = vector.PointID(payload.Key())
		}
		hits = append(hits, vector.Hit{
			ID:      id,
			Score:   s.metric.Score(float32(floatField(row, "distance"))),
			Payload: payload,
		})
	}
	return hits, nil
}

// Size implements vector.Store.
func (s *Milvus) Size(ctx context.Context) (int, error) {
	data, err := s.post(ctx, "/v2/vectordb/collections/get_stats", map[string]any{
		"collectionName": s.collection,
	})
	if err != nil {
		return 0, fmt.Errorf("milvus stats: %w", err)
	}
	var stats struct {
		RowCount int `json:"rowCount"`
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return 0, fmt.Errorf("decode milvus stats: %w", err)
	}
	return stats.RowCount, nil
}

// Close implements vector.Store.
func (s *Milvus) Close() error {
	return nil
}

// milvusFilter renders a Filter as a boolean expression, or "" when empty.
func milvusFilter(f vector.Filter) string {
	if f.IsEmpty() {
		return ""
	}
	var terms []string
	if f.HasTMDB() {
		terms = append(terms, "has_tmdb == true")
	}
	if ft := f.FileType(); ft != "" {
		terms = append(terms, fmt.Sprintf("file_type == %q", ft))
	}
	if genres := f.Genres(); len(genres) > 0 {
		terms = append(terms, arrayContainsAny("genre_tags", genres))
	}
	if langs := f.AudioLangs(); len(langs) > 0 {
		terms = append(terms, arrayContainsAny("audio_langs", langs))
	}
	if langs := f.SubtitleLangs(); len(langs) > 0 {
		terms = append(terms, arrayContainsAny("subtitle_langs", langs))
	}
	if min := f.SizeMin(); min > 0 {
		terms = append(terms, fmt.Sprintf("size >= %d", min))
	}
	return strings.Join(terms, " and ")
}

func arrayContainsAny(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return fmt.Sprintf("ARRAY_CONTAINS_ANY(%s, [%s])", field, strings.Join(quoted, ", "))
}

func payloadFromRow(row map[string]any) vector.Payload {
	return vector.Payload{
		Source:           stringField(row, "source"),
		PGID:             stringField(row, "pg_id"),
		TextHash:         stringField(row, "text_hash"),
		EmbeddingVersion: stringField(row, "embedding_version"),
		NSFW:             boolField(row, "nsfw"),
		NSFWScore:        floatField(row, "nsfw_score"),
		HasTMDB:          boolField(row, "has_tmdb"),
		TMDBID:           stringField(row, "tmdb_id"),
		HasTPDB:          boolField(row, "has_tpdb"),
		TPDBID:           stringField(row, "tpdb_id"),
		GenreTags:        stringsField(row, "genre_tags"),
		FileType:         stringField(row, "file_type"),
		AudioLangs:       stringsField(row, "audio_langs"),
		SubtitleLangs:    stringsField(row, "subtitle_langs"),
		Size:             int64(floatField(row, "size")),
		Title:            stringField(row, "title"),
	}
}

func stringField(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func boolField(row map[string]any, key string) bool {
	v, _ := row[key].(bool)
	return v
}

func floatField(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

func stringsField(row map[string]any, key string) []string {
	raw, ok := row[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
