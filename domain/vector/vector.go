// Package vector defines the vector store contract shared by the local HNSW
// backend and the remote cluster backends.
package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Key identifies a catalog record inside the index.
type Key struct {
	Source string `json:"source"`
	PGID   string `json:"pg_id"`
}

// String renders the key as "source:pg_id".
func (k Key) String() string {
	return k.Source + ":" + k.PGID
}

// PointID derives the stable vector id for a key. Re-insertions of the same
// (source, pg_id) always map to the same id.
func PointID(k Key) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(k.String()))
}

// Payload is the metadata attached to every vector. It is persisted alongside
// the index and returned with each hit.
type Payload struct {
	Source           string   `json:"source"`
	PGID             string   `json:"pg_id"`
	TextHash         string   `json:"text_hash"`
	EmbeddingVersion string   `json:"embedding_version"`
	NSFW             bool     `json:"nsfw"`
	NSFWScore        float64  `json:"nsfw_score"`
	HasTMDB          bool     `json:"has_tmdb"`
	TMDBID           string   `json:"tmdb_id,omitempty"`
	HasTPDB          bool     `json:"has_tpdb"`
	TPDBID           string   `json:"tpdb_id,omitempty"`
	GenreTags        []string `json:"genre_tags,omitempty"`
	FileType         string   `json:"file_type,omitempty"`
	AudioLangs       []string `json:"audio_langs,omitempty"`
	SubtitleLangs    []string `json:"subtitle_langs,omitempty"`
	Size             int64    `json:"size,omitempty"`
	Title            string   `json:"title,omitempty"`
}

// Key returns the record identity of the payload.
func (p Payload) Key() Key {
	return Key{Source: p.Source, PGID: p.PGID}
}

// Hit is a single nearest-neighbour result. Score is normalized so that
// larger is always better regardless of metric.
type Hit struct {
	ID      uuid.UUID
	Score   float64
	Payload Payload
}

// Store is the pluggable nearest-neighbour index.
type Store interface {
	// Add upserts vectors keyed by each payload's (source, pg_id). A prior
	// vector for the same key is logically replaced. Returned ids are stable
	// across re-insertions.
	Add(ctx context.Context, vectors [][]float32, payloads []Payload) ([]uuid.UUID, error)

	// Query returns up to topk hits nearest to vec, after applying the
	// filter and skipping offset matching hits.
	Query(ctx context.Context, vec []float32, topk int, filter Filter, offset int) ([]Hit, error)

	// Size reports the best-effort count of live points.
	Size(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// Metric is the distance function of an index.
type Metric string

// Supported metrics.
const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "l2"
)

// ParseMetric validates a metric name from configuration.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricDot, MetricEuclidean:
		return Metric(s), nil
	case "":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown metric: %s", s)
	}
}

// Score converts a raw distance (or similarity, for dot product) into the
// normalized larger-is-better score.
func (m Metric) Score(distance float32) float64 {
	switch m {
	case MetricCosine:
		return 1 - float64(distance)
	case MetricDot:
		return float64(distance)
	default:
		return -float64(distance)
	}
}
