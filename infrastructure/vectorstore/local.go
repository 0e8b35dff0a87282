// Package vectorstore provides the vector.Store backends: an embedded HNSW
// index persisted on disk and two remote cluster backends spoken over HTTP.
package vectorstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"github.com/hermesindex/hermes/domain/vector"
)

// LocalConfig configures the embedded HNSW backend.
type LocalConfig struct {
	// Path is the directory holding index.bin and meta.json.
	Path        string
	Dim         int
	Metric      vector.Metric
	MaxElements int
	M           int
	EfSearch    int
}

const (
	indexFileName = "index.bin"
	metaFileName  = "meta.json"
)

// Local is an embedded HNSW index. Writes hold an exclusive lock and persist
// the graph and payload table atomically; queries share a read lock.
//
// Replaced points are lazily deleted: the old graph node stays but loses its
// payload mapping, so it can never surface in results. The live count is the
// size of the key map, not the graph.
type Local struct {
	mu          sync.RWMutex
	graph       *hnsw.Graph[uint64]
	dir         string
	dim         int
	metric      vector.Metric
	maxElements int

	payloads  map[uint64]vector.Payload
	labels    map[string]uint64
	nextLabel uint64
	closed    bool
}

type metaItem struct {
	Label   uint64         `json:"label"`
	Payload vector.Payload `json:"payload"`
}

type metaFile struct {
	NextLabel uint64     `json:"next_label"`
	Dim       int        `json:"dim"`
	Metric    string     `json:"metric"`
	Items     []metaItem `json:"items"`
}

// NewLocal opens (or creates) the index under cfg.Path.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("local index: dim must be positive, got %d", cfg.Dim)
	}
	metric := cfg.Metric
	if metric == "" {
		metric = vector.MetricCosine
	}

	graph := hnsw.NewGraph[uint64]()
	switch metric {
	case vector.MetricEuclidean:
		graph.Distance = hnsw.EuclideanDistance
	default:
		// Dot product runs on normalized vectors, so cosine distance gives
		// the same ordering.
		graph.Distance = hnsw.CosineDistance
	}
	if cfg.M > 0 {
		graph.M = cfg.M
	}
	if cfg.EfSearch > 0 {
		graph.EfSearch = cfg.EfSearch
	}

	s := &Local{
		graph:       graph,
		dir:         cfg.Path,
		dim:         cfg.Dim,
		metric:      metric,
		maxElements: cfg.MaxElements,
		payloads:    make(map[uint64]vector.Payload),
		labels:      make(map[string]uint64),
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Add implements vector.Store. The batch is applied and persisted as a unit.
func (s *Local) Add(ctx context.Context, vectors [][]float32, payloads []vector.Payload) ([]uuid.UUID, error) {
	if len(vectors) != len(payloads) {
		return nil, fmt.Errorf("local add: %d vectors for %d payloads", len(vectors), len(payloads))
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		if len(vec) != s.dim {
			return nil, fmt.Errorf("local add: vector %d has dim %d, index expects %d", i, len(vec), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("local index is closed")
	}

	ids := make([]uuid.UUID, len(payloads))
	for i, payload := range payloads {
		key := payload.Key().String()
		ids[i] = vector.PointID(payload.Key())

		if old, exists := s.labels[key]; exists {
			// Lazy delete: orphan the old label so the new vector replaces it
			// without growing the live count.
			delete(s.payloads, old)
			delete(s.labels, key)
		} else if s.maxElements > 0 && len(s.labels) >= s.maxElements {
			return nil, fmt.Errorf("local index full: max_elements %d reached", s.maxElements)
		}

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.metric != vector.MetricEuclidean {
			normalize(vec)
		}

		label := s.nextLabel
		s.nextLabel++
		s.graph.Add(hnsw.MakeNode(label, vec))
		s.labels[key] = label
		s.payloads[label] = payload
	}

	if err := s.persist(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Query implements vector.Store. The graph is over-fetched to compensate for
// filtering, pagination, and lazily deleted nodes.
func (s *Local) Query(ctx context.Context, vec []float32, topk int, filter vector.Filter, offset int) ([]vector.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vec) != s.dim {
		return nil, fmt.Errorf("local query: vector has dim %d, index expects %d", len(vec), s.dim)
	}
	if topk <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("local index is closed")
	}
	if s.graph.Len() == 0 {
		return nil, nil
	}

	query := make([]float32, len(vec))
	copy(query, vec)
	if s.metric != vector.MetricEuclidean {
		normalize(query)
	}

	fetch := (topk + offset) * 2
	if filter.SizeMin() > 0 {
		// Size floors reject unpredictably many candidates.
		fetch *= 2
	}
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}

	nodes := s.graph.Search(query, fetch)
	hits := make([]vector.Hit, 0, topk)
	skipped := 0
	for _, node := range nodes {
		payload, live := s.payloads[node.Key]
		if !live || !filter.Matches(payload) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		distance := s.graph.Distance(query, node.Value)
		hits = append(hits, vector.Hit{
			ID:      vector.PointID(payload.Key()),
			Score:   s.score(distance),
			Payload: payload,
		})
		if len(hits) == topk {
			break
		}
	}
	return hits, nil
}

// Size implements vector.Store. It counts live points, not graph nodes.
func (s *Local) Size(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("local index is closed")
	}
	return len(s.labels), nil
}

// Close persists outstanding state and releases the graph.
func (s *Local) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.persist()
	s.closed = true
	s.graph = nil
	return err
}

// score converts graph distance to the larger-is-better score. Dot product
// runs on normalized vectors over cosine distance, so both map as 1 - d.
func (s *Local) score(distance float32) float64 {
	if s.metric == vector.MetricEuclidean {
		return -float64(distance)
	}
	return 1 - float64(distance)
}

// persist writes index.bin and meta.json via temp files and renames.
// Callers hold the write lock.
func (s *Local) persist() error {
	indexPath := filepath.Join(s.dir, indexFileName)
	tmpIndex := indexPath + ".tmp"
	file, err := os.Create(tmpIndex)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpIndex)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpIndex)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpIndex, indexPath); err != nil {
		_ = os.Remove(tmpIndex)
		return fmt.Errorf("rename index file: %w", err)
	}

	meta := metaFile{
		NextLabel: s.nextLabel,
		Dim:       s.dim,
		Metric:    string(s.metric),
		Items:     make([]metaItem, 0, len(s.payloads)),
	}
	for label, payload := range s.payloads {
		meta.Items = append(meta.Items, metaItem{Label: label, Payload: payload})
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode index metadata: %w", err)
	}

	metaPath := filepath.Join(s.dir, metaFileName)
	tmpMeta := metaPath + ".tmp"
	if err := os.WriteFile(tmpMeta, data, 0o644); err != nil {
		return fmt.Errorf("write index metadata: %w", err)
	}
	if err := os.Rename(tmpMeta, metaPath); err != nil {
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("rename index metadata: %w", err)
	}
	return nil
}

// load restores the graph and payload table if both files exist.
func (s *Local) load() error {
	metaPath := filepath.Join(s.dir, metaFileName)
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read index metadata: %w", err)
	}

	var meta metaFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("decode index metadata: %w", err)
	}
	if meta.Dim != 0 && meta.Dim != s.dim {
		return fmt.Errorf("index on disk has dim %d, config expects %d", meta.Dim, s.dim)
	}

	file, err := os.Open(filepath.Join(s.dir, indexFileName))
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	s.nextLabel = meta.NextLabel
	for _, item := range meta.Items {
		s.payloads[item.Label] = item.Payload
		s.labels[item.Payload.Key().String()] = item.Label
		if item.Label >= s.nextLabel {
			s.nextLabel = item.Label + 1
		}
	}
	return nil
}

// normalize rescales v to unit length in place. Zero vectors are left as-is.
func normalize(v []float32) {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

var _ vector.Store = (*Local)(nil)
