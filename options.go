package hermes

import (
	"log/slog"

	"github.com/hermesindex/hermes/domain/vector"
	"github.com/hermesindex/hermes/infrastructure/gpu"
	"github.com/hermesindex/hermes/infrastructure/provider"
)

// options collects optional overrides applied by New.
type options struct {
	logger   *slog.Logger
	store    vector.Store
	gpu      *gpu.Client
	embedder provider.Embedder
}

// Option configures the client.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithVectorStore injects a vector store, bypassing the configured backend.
// The client takes ownership and closes it.
func WithVectorStore(store vector.Store) Option {
	return func(o *options) { o.store = store }
}

// WithGPUClient injects the GPU service client.
func WithGPUClient(client *gpu.Client) Option {
	return func(o *options) { o.gpu = client }
}

// WithEmbedder injects the query-time embedder, bypassing the local and
// remote embedding chain.
func WithEmbedder(embedder provider.Embedder) Option {
	return func(o *options) { o.embedder = embedder }
}
