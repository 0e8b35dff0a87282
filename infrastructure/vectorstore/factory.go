package vectorstore

import (
	"context"
	"fmt"

	"github.com/hermesindex/hermes/domain/vector"
	"github.com/hermesindex/hermes/internal/config"
)

// New builds the configured vector.Store backend.
func New(ctx context.Context, cfg config.VectorStore) (vector.Store, error) {
	metric, err := vector.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "", "local":
		return NewLocal(LocalConfig{
			Path:        cfg.Path,
			Dim:         cfg.Dim,
			Metric:      metric,
			MaxElements: cfg.MaxElements,
			M:           cfg.M,
			EfSearch:    cfg.EfSearch,
		})
	case "qdrant":
		return NewQdrant(ctx, QdrantConfig{
			URL:        cfg.URL,
			Collection: cfg.Collection,
			APIKey:     cfg.APIKey,
			Dim:        cfg.Dim,
			Metric:     metric,
		})
	case "milvus":
		return NewMilvus(MilvusConfig{
			URI:        cfg.URI,
			Collection: cfg.Collection,
			APIKey:     cfg.APIKey,
			Dim:        cfg.Dim,
			Metric:     metric,
		})
	default:
		return nil, fmt.Errorf("unknown vector store type: %s", cfg.Type)
	}
}
