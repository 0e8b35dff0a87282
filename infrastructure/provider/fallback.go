package provider

import (
	"context"
	"fmt"
	"log/slog"
)

// Fallback prefers the local embedder and falls back to the remote one.
// Local failures and dim-mismatched local output are demoted to warnings;
// remote failures propagate unchanged.
type Fallback struct {
	local  Embedder
	remote Embedder
	dim    int
	logger *slog.Logger
}

// NewFallback wraps local and remote. dim is the index dimension every
// accepted vector must match; zero disables the check. A nil local makes
// the wrapper a pass-through to remote.
func NewFallback(local, remote Embedder, dim int, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{local: local, remote: remote, dim: dim, logger: logger}
}

// Embed implements Embedder.
func (f *Fallback) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if f.local != nil {
		vectors, err := f.local.Embed(ctx, texts)
		switch {
		case err == nil:
			mismatch := f.dimMismatch(vectors)
			if mismatch == nil {
				return vectors, nil
			}
			f.logger.Warn("local embedder output rejected, using remote", "error", mismatch)
		case ctx.Err() != nil:
			return nil, err
		default:
			f.logger.Warn("local embedder failed, using remote", "error", err)
		}
	}

	return f.remote.Embed(ctx, texts)
}

func (f *Fallback) dimMismatch(vectors [][]float32) error {
	if f.dim <= 0 {
		return nil
	}
	for i, vec := range vectors {
		if len(vec) != f.dim {
			return fmt.Errorf("vector %d has dim %d, index expects %d", i, len(vec), f.dim)
		}
	}
	return nil
}

var _ Embedder = (*Fallback)(nil)
