// Package service wires the domain pieces into the application operations:
// the sync pipeline, the hybrid search engine, keyword-only search, query
// rewriting, and the status snapshot.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/hermesindex/hermes/domain/catalog"
	"github.com/hermesindex/hermes/domain/feature"
	"github.com/hermesindex/hermes/domain/vector"
	"github.com/hermesindex/hermes/infrastructure/gpu"
	"github.com/hermesindex/hermes/infrastructure/provider"
	"github.com/hermesindex/hermes/internal/config"
)

// ErrEmptyQuery rejects blank search input.
var ErrEmptyQuery = errors.New("query must not be empty")

// maxFetchK caps how many raw neighbours one page pulls from the index.
const maxFetchK = 100

// defaultPageSize applies when the caller leaves page_size unset.
const defaultPageSize = 20

// SearchParams are the knobs of one hybrid search call.
type SearchParams struct {
	Query       string
	TopK        int
	PageSize    int
	Cursor      int
	ExcludeNSFW bool
	TMDBOnly    bool
	SizeMinGB   float64
	SizeSort    string // "", "asc", "desc"
}

// Result is one search hit after hydration.
type Result struct {
	Score     float64        `json:"score"`
	Source    string         `json:"source"`
	PGID      string         `json:"pg_id"`
	Title     string         `json:"title"`
	NSFW      bool           `json:"nsfw"`
	NSFWScore float64        `json:"nsfw_score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SearchResponse is the paged result set. NextCursor is nil on the last page.
type SearchResponse struct {
	Count      int      `json:"count"`
	NextCursor *int     `json:"next_cursor"`
	PageSize   int      `json:"page_size"`
	Results    []Result `json:"results"`
}

// candidate carries a result plus the ordering keys that never leave the
// service.
type candidate struct {
	result Result
	size   *int64
}

// Search fuses semantic nearest-neighbour hits with server-side keyword
// matches and hydrates both from the catalog.
type Search struct {
	cfg      config.Config
	store    vector.Store
	embedder provider.Embedder
	reader   catalog.Reader
	rewriter *Rewriter
	logger   *slog.Logger
}

// NewSearch creates the hybrid search service.
func NewSearch(cfg config.Config, store vector.Store, embedder provider.Embedder, reader catalog.Reader, rewriter *Rewriter, logger *slog.Logger) *Search {
	if logger == nil {
		logger = slog.Default()
	}
	return &Search{cfg: cfg, store: store, embedder: embedder, reader: reader, rewriter: rewriter, logger: logger}
}

// Search runs one hybrid query page.
func (s *Search) Search(ctx context.Context, params SearchParams) (SearchResponse, error) {
	q := strings.TrimSpace(params.Query)
	if q == "" {
		return SearchResponse{}, ErrEmptyQuery
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	topk := params.TopK
	if topk <= 0 {
		topk = pageSize
	}
	cursor := params.Cursor
	if cursor < 0 {
		cursor = 0
	}

	rw := s.rewriter.Rewrite(ctx, q, params.TMDBOnly, params.SizeMinGB)

	vecs, err := s.embedder.Embed(ctx, []string{rw.Text})
	if err != nil {
		return SearchResponse{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return SearchResponse{}, fmt.Errorf("embed query: got %d vectors for one text", len(vecs))
	}
	vec := vecs[0]
	if s.cfg.VectorStore.Metric == "cosine" {
		gpu.Normalize(vec)
	}

	fetchK := max(topk, pageSize)
	if fetchK > maxFetchK {
		fetchK = maxFetchK
	}
	hits, err := s.store.Query(ctx, vec, fetchK, rw.Filter, cursor)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("vector query: %w", err)
	}
	rawCount := len(hits)

	var nextCursor *int
	if rawCount == fetchK {
		next := cursor + rawCount
		nextCursor = &next
	}

	hits = dedupeHits(hits)
	if params.ExcludeNSFW {
		kept := hits[:0]
		for _, hit := range hits {
			if !hit.Payload.NSFW {
				kept = append(kept, hit)
			}
		}
		hits = kept
	}

	candidates, seen, err := s.hydrate(ctx, hits, params)
	if err != nil {
		return SearchResponse{}, err
	}
	candidates = append(candidates, s.keywordMerge(ctx, rw.Keyword, pageSize, params, seen)...)

	results := finalize(candidates, pageSize, params.SizeSort)
	return SearchResponse{
		Count:      len(results),
		NextCursor: nextCursor,
		PageSize:   pageSize,
		Results:    results,
	}, nil
}

// dedupeHits drops later hits that repeat an earlier text hash. Hits without
// a hash fall back to their record key.
func dedupeHits(hits []vector.Hit) []vector.Hit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, hit := range hits {
		key := hit.Payload.TextHash
		if key == "" {
			key = hit.Payload.Key().String()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, hit)
	}
	return out
}

// hydrate fetches catalog rows for the semantic hits, grouped per source, and
// returns candidates plus the set of (source, pg_id) keys already claimed.
// Hits with no catalog row are dropped: the index lags catalog deletes, and a
// dangling id must never surface as a result.
func (s *Search) hydrate(ctx context.Context, hits []vector.Hit, params SearchParams) ([]candidate, map[string]bool, error) {
	bySource := make(map[string][]string)
	for _, hit := range hits {
		bySource[hit.Payload.Source] = append(bySource[hit.Payload.Source], hit.Payload.PGID)
	}

	rows := make(map[string]catalog.Row, len(hits))
	for source, ids := range bySource {
		fetched, err := s.reader.FetchByIDs(ctx, source, ids)
		if err != nil {
			return nil, nil, fmt.Errorf("hydrate %s: %w", source, err)
		}
		for id, row := range fetched {
			rows[source+":"+id] = row
		}
	}

	seen := make(map[string]bool, len(hits))
	candidates := make([]candidate, 0, len(hits))
	for _, hit := range hits {
		key := hit.Payload.Key().String()
		seen[key] = true

		row, hydrated := rows[key]
		if !hydrated {
			continue
		}
		if params.TMDBOnly && !s.hasTMDBField(hit.Payload.Source, row) {
			continue
		}
		title := row.Text
		metadata := row.Fields
		var size *int64
		if hit.Payload.Size > 0 {
			n := hit.Payload.Size
			size = &n
		}
		candidates = append(candidates, candidate{
			result: Result{
				Score:     hit.Score,
				Source:    hit.Payload.Source,
				PGID:      hit.Payload.PGID,
				Title:     title,
				NSFW:      hit.Payload.NSFW,
				NSFWScore: hit.Payload.NSFWScore,
				Metadata:  metadata,
			},
			size: size,
		})
	}
	return candidates, seen, nil
}

// keywordMerge runs SQL keyword search on every keyword-enabled source and
// turns rows the semantic pass missed into scored candidates. Failures only
// cost the keyword contribution.
func (s *Search) keywordMerge(ctx context.Context, keyword string, pageSize int, params SearchParams, seen map[string]bool) []candidate {
	if keyword == "" {
		return nil
	}
	var candidates []candidate
	for _, src := range s.cfg.Sources {
		if !src.PG.KeywordSearch {
			continue
		}
		rows, err := s.reader.SearchByKeyword(ctx, src.Name, keyword, pageSize*3)
		if err != nil {
			s.logger.Warn("keyword search failed", slog.String("source", src.Name), slog.String("error", err.Error()))
			continue
		}
		fresh := rows[:0]
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			if seen[src.Name+":"+row.PGID] {
				continue
			}
			fresh = append(fresh, row)
			ids = append(ids, row.PGID)
		}
		if len(fresh) == 0 {
			continue
		}
		scores, err := s.reader.FetchSyncScores(ctx, src.Name, ids)
		if err != nil {
			s.logger.Warn("sync score lookup failed", slog.String("source", src.Name), slog.String("error", err.Error()))
			scores = nil
		}
		for _, row := range fresh {
			if params.TMDBOnly && !s.hasTMDBField(src.Name, row) {
				continue
			}
			nsfwScore := scores[row.PGID]
			nsfw := src.Tagging.NSFWEnabled() && nsfwScore >= s.cfg.NSFWThreshold
			if params.ExcludeNSFW && nsfw {
				continue
			}
			candidates = append(candidates, candidate{
				result: Result{
					Score:     feature.KeywordScore(keyword, row.Text),
					Source:    src.Name,
					PGID:      row.PGID,
					Title:     row.Text,
					NSFW:      nsfw,
					NSFWScore: nsfwScore,
					Metadata:  row.Fields,
				},
				size: rowSize(row, src.PG.SizeField),
			})
		}
	}
	return candidates
}

// hasTMDBField reports whether a hydrated row carries the source's TMDB
// linkage column (tmdb_id unless overridden).
func (s *Search) hasTMDBField(source string, row catalog.Row) bool {
	field := "tmdb_id"
	if src, ok := s.cfg.SourceByName(source); ok && src.PG.TMDBOnlyField != "" {
		field = src.PG.TMDBOnlyField
	}
	return fieldString(row, field) != ""
}

// finalize orders candidates by score, collapses near-duplicate titles, pages
// to pageSize, and applies the optional size sort with missing sizes last in
// either direction.
func finalize(candidates []candidate, pageSize int, sizeSort string) []Result {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].result.Score > candidates[j].result.Score
	})

	seen := make(map[string]bool, len(candidates))
	deduped := candidates[:0]
	for _, c := range candidates {
		key := feature.NormalizeTitleKey(c.result.Title)
		if key == "" {
			key = c.result.Source + ":" + c.result.PGID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, c)
	}
	candidates = deduped

	switch sizeSort {
	case "asc":
		sort.SliceStable(candidates, func(i, j int) bool {
			return sizeLess(candidates[i].size, candidates[j].size, false)
		})
	case "desc":
		sort.SliceStable(candidates, func(i, j int) bool {
			return sizeLess(candidates[i].size, candidates[j].size, true)
		})
	}

	if len(candidates) > pageSize {
		candidates = candidates[:pageSize]
	}
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = c.result
	}
	return results
}

func sizeLess(a, b *int64, desc bool) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	case desc:
		return *a > *b
	default:
		return *a < *b
	}
}

// rowSize reads a source's configured size column from a hydrated row.
func rowSize(row catalog.Row, sizeField string) *int64 {
	if sizeField == "" {
		return nil
	}
	v, ok := row.Field(sizeField)
	if !ok {
		return nil
	}
	if n, ok := parseSize(v); ok {
		return &n
	}
	return nil
}

func parseSize(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// fieldString reads a row field as text, rendering numbers so that numeric
// foreign keys still count as present.
func fieldString(row catalog.Row, names ...string) string {
	for _, name := range names {
		v, ok := row.Field(name)
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(s, 10)
		case int:
			return strconv.Itoa(s)
		case json.Number:
			return s.String()
		}
	}
	return ""
}
