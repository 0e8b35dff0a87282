package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// localBatchMax bounds one pipeline run.
const localBatchMax = 32

// ortSingleton holds the process-wide ONNX Runtime session and pipeline.
// ORT only allows one active session per process, so all LocalEmbedder
// instances share it. The mutex serializes both initialization and
// inference (ORT is not thread-safe).
var ortSingleton struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	mu       sync.Mutex
	ready    bool
}

// LocalEmbedder runs the embedding model in-process via hugot. The model
// directory is resolved under cacheDir: first an exact match on the model
// name (slashes mapped to underscores), then any subdirectory containing
// tokenizer.json.
type LocalEmbedder struct {
	cacheDir  string
	modelName string
}

// NewLocalEmbedder creates a LocalEmbedder for the named model.
func NewLocalEmbedder(cacheDir, modelName string) *LocalEmbedder {
	return &LocalEmbedder{cacheDir: cacheDir, modelName: modelName}
}

// Available reports whether a usable model directory exists on disk.
func (l *LocalEmbedder) Available() bool {
	_, err := l.modelPath()
	return err == nil
}

// Embed generates embeddings for the given texts using the local model.
// Inputs longer than the pipeline batch limit are run in chunks.
func (l *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := l.initialize(); err != nil {
		return nil, fmt.Errorf("initialize local embedder: %w", err)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += localBatchMax {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + localBatchMax
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := l.runBatch(texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// Close is a no-op. The ONNX Runtime session is process-global and shared
// across all LocalEmbedder instances.
func (l *LocalEmbedder) Close() error {
	return nil
}

func (l *LocalEmbedder) runBatch(texts []string) ([][]float32, error) {
	// ORT is not thread-safe, so inference holds the singleton mutex.
	ortSingleton.mu.Lock()
	defer ortSingleton.mu.Unlock()

	result, err := ortSingleton.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("run embedding pipeline: %w", err)
	}
	vectors := make([][]float32, len(result.Embeddings))
	for i, vec := range result.Embeddings {
		out := make([]float32, len(vec))
		copy(out, vec)
		vectors[i] = out
	}
	return vectors, nil
}

func (l *LocalEmbedder) initialize() error {
	ortSingleton.mu.Lock()
	defer ortSingleton.mu.Unlock()

	if ortSingleton.ready {
		return nil
	}

	modelPath, err := l.modelPath()
	if err != nil {
		return err
	}

	session, err := newHugotSession()
	if err != nil {
		return fmt.Errorf("create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "query-embeddings",
		Options: []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		},
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("create feature extraction pipeline: %w", err)
	}

	ortSingleton.session = session
	ortSingleton.pipeline = pipeline
	ortSingleton.ready = true
	return nil
}

// modelPath resolves the model directory under cacheDir.
func (l *LocalEmbedder) modelPath() (string, error) {
	if l.modelName != "" {
		named := filepath.Join(l.cacheDir, strings.ReplaceAll(l.modelName, "/", "_"))
		if _, err := os.Stat(filepath.Join(named, "tokenizer.json")); err == nil {
			return named, nil
		}
	}

	entries, err := os.ReadDir(l.cacheDir)
	if err != nil {
		return "", fmt.Errorf("read model directory %s: %w", l.cacheDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(l.cacheDir, entry.Name())
		if _, statErr := os.Stat(filepath.Join(candidate, "tokenizer.json")); statErr == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no model directory with tokenizer.json found in %s", l.cacheDir)
}

var _ Embedder = (*LocalEmbedder)(nil)
