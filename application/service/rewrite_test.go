package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesindex/hermes/internal/config"
)

type stubExpansions struct {
	calls  int
	tokens map[string]int
	err    error
}

func (s *stubExpansions) SearchExpansionTokens(_ context.Context, _ string, _ int) (map[string]int, error) {
	s.calls++
	return s.tokens, s.err
}

func TestRewriteStructuralQuery(t *testing.T) {
	cfg := config.Config{EmbeddingModelVersion: "bge-m3"}
	rw := NewRewriter(cfg, nil, discardLogger()).Rewrite(context.Background(), "恐怖 电影 视频 中字", false, 2)

	assert.Equal(t, "恐怖", rw.Keyword)
	assert.Equal(t, "video", rw.Filter.FileType())
	assert.Equal(t, []string{"zh"}, rw.Filter.SubtitleLangs())
	assert.Empty(t, rw.Filter.AudioLangs())
	assert.Contains(t, rw.Filter.Genres(), "恐怖")
	assert.Contains(t, rw.Filter.Genres(), "Horror")
	assert.Equal(t, int64(2<<30), rw.Filter.SizeMin())
	assert.False(t, rw.Filter.HasTMDB())

	assert.True(t, strings.HasPrefix(rw.Text, bgePrefix))
	assert.Contains(t, rw.Text, "horror")
}

func TestRewritePlainQuery(t *testing.T) {
	cfg := config.Config{EmbeddingModelVersion: "minilm"}
	rw := NewRewriter(cfg, nil, discardLogger()).Rewrite(context.Background(), "alien", false, 0)

	assert.Equal(t, "alien", rw.Keyword)
	assert.Equal(t, "alien", rw.Text)
	assert.True(t, rw.Filter.IsEmpty())
}

func TestRewriteQueryPrefixOverride(t *testing.T) {
	cfg := config.Config{
		EmbeddingModelVersion: "bge-m3",
		Search:                config.SearchConfig{QueryPrefix: "query: "},
	}
	rw := NewRewriter(cfg, nil, discardLogger()).Rewrite(context.Background(), "alien", false, 0)
	assert.Equal(t, "query: alien", rw.Text)
}

func TestRewriteTMDBOnly(t *testing.T) {
	rw := NewRewriter(config.Config{}, nil, discardLogger()).Rewrite(context.Background(), "alien", true, 0)
	assert.True(t, rw.Filter.HasTMDB())
}

func TestRewriteExpansionCached(t *testing.T) {
	expansions := &stubExpansions{tokens: map[string]int{"xenomorph": 2}}
	rewriter := NewRewriter(config.Config{}, expansions, discardLogger())

	for range 2 {
		rw := rewriter.Rewrite(context.Background(), "alien", false, 0)
		assert.Contains(t, rw.Text, "xenomorph")
	}
	assert.Equal(t, 1, expansions.calls)
}

func TestRewriteExpansionDisabled(t *testing.T) {
	off := false
	cfg := config.Config{TMDB: config.TMDBConfig{QueryExpand: &off}}
	expansions := &stubExpansions{tokens: map[string]int{"xenomorph": 2}}

	rw := NewRewriter(cfg, expansions, discardLogger()).Rewrite(context.Background(), "alien", false, 0)
	assert.NotContains(t, rw.Text, "xenomorph")
	assert.Zero(t, expansions.calls)
}

func TestRewriteExpansionFailureDegrades(t *testing.T) {
	expansions := &stubExpansions{err: errors.New("catalog down")}
	rw := NewRewriter(config.Config{}, expansions, discardLogger()).Rewrite(context.Background(), "alien", false, 0)
	require.Equal(t, "alien", rw.Keyword)
	assert.Contains(t, rw.Text, "alien")
}
