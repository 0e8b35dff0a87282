package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hermesindex/hermes/domain/feature"
	"github.com/hermesindex/hermes/domain/vector"
	"github.com/hermesindex/hermes/internal/config"
)

// bgePrefix is the retrieval instruction BGE models expect in front of query
// text. Document text is embedded without it.
const bgePrefix = "为这个句子生成用于检索的向量: "

// expansionCacheSize bounds the per-query expansion LRU.
const expansionCacheSize = 512

// ExpansionSource provides catalog-derived query expansion tokens with hit
// counts acting as weights.
type ExpansionSource interface {
	SearchExpansionTokens(ctx context.Context, q string, limit int) (map[string]int, error)
}

// Rewrite is the query-side interpretation of free text: the expanded and
// prefixed embedding input, the cleaned keyword query, and the payload filter
// extracted from structural tokens.
type Rewrite struct {
	Text    string
	Keyword string
	Filter  vector.Filter
}

// Rewriter turns raw queries into Rewrites. Expansion lookups are cached.
type Rewriter struct {
	cfg        config.Config
	expansions ExpansionSource
	cache      *lru.Cache[string, []feature.WeightedTerm]
	logger     *slog.Logger
}

// NewRewriter creates a Rewriter. expansions may be nil to disable
// catalog-backed expansion.
func NewRewriter(cfg config.Config, expansions ExpansionSource, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, []feature.WeightedTerm](expansionCacheSize)
	return &Rewriter{cfg: cfg, expansions: expansions, cache: cache, logger: logger}
}

// Rewrite interprets q. Structural tokens (file-type phrases, language and
// subtitle markers, genre words) become filter conditions; the keyword query
// keeps only the content words; the embedding text is the cleaned query plus
// synonym and catalog expansions, with the model's query prefix applied.
func (r *Rewriter) Rewrite(ctx context.Context, q string, tmdbOnly bool, sizeMinGB float64) Rewrite {
	_, fileType := feature.ExtractFileTypePhrase(q)
	audio, subtitle := feature.DetectLanguages(q)
	genres := feature.ExtractGenres(q)

	cleaned := feature.StripStructuralTokens(q)
	if cleaned == "" {
		cleaned = q
	}

	expanded := feature.Expand(cleaned, r.expansionTerms(ctx, cleaned))
	text := feature.Normalize(expanded)
	if text == "" {
		text = expanded
	}
	text = r.prefix() + text

	var opts []vector.FilterOption
	if fileType != "" {
		opts = append(opts, vector.WithFileType(fileType))
	}
	if len(genres) > 0 {
		opts = append(opts, vector.WithGenres(genres))
	}
	if len(audio) > 0 {
		opts = append(opts, vector.WithAudioLangs(audio))
	}
	if len(subtitle) > 0 {
		opts = append(opts, vector.WithSubtitleLangs(subtitle))
	}
	if tmdbOnly {
		opts = append(opts, vector.WithHasTMDB())
	}
	if sizeMinGB > 0 {
		opts = append(opts, vector.WithSizeMin(int64(sizeMinGB*float64(1<<30))))
	}

	return Rewrite{
		Text:    text,
		Keyword: cleaned,
		Filter:  vector.NewFilter(opts...),
	}
}

func (r *Rewriter) prefix() string {
	if r.cfg.Search.QueryPrefix != "" {
		return r.cfg.Search.QueryPrefix
	}
	if strings.Contains(strings.ToLower(r.cfg.EmbeddingModelVersion), "bge") {
		return bgePrefix
	}
	return ""
}

// expansionTerms looks up catalog expansion tokens for q, ordered by weight
// then term for determinism. Lookup failures degrade to no expansion.
func (r *Rewriter) expansionTerms(ctx context.Context, q string) []feature.WeightedTerm {
	if r.expansions == nil || !r.cfg.TMDB.QueryExpandEnabled() {
		return nil
	}
	if terms, ok := r.cache.Get(q); ok {
		return terms
	}
	tokens, err := r.expansions.SearchExpansionTokens(ctx, q, r.cfg.TMDB.QueryExpandLimit)
	if err != nil {
		r.logger.Warn("query expansion lookup failed", slog.String("query", q), slog.String("error", err.Error()))
		return nil
	}
	terms := make([]feature.WeightedTerm, 0, len(tokens))
	for term, weight := range tokens {
		terms = append(terms, feature.WeightedTerm{Term: term, Weight: weight})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Weight != terms[j].Weight {
			return terms[i].Weight > terms[j].Weight
		}
		return terms[i].Term < terms[j].Term
	})
	r.cache.Add(q, terms)
	return terms
}
