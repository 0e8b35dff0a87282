// Package provider implements the query-time embedders: an OpenAI-compatible
// HTTP embedder, an in-process hugot embedder, and a fallback wrapper that
// prefers the local model but never lets it take the service down.
package provider

import "context"

// Embedder turns texts into vectors. Implementations return exactly one
// vector per input text, all with the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
