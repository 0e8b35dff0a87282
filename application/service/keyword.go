package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hermesindex/hermes/domain/catalog"
	"github.com/hermesindex/hermes/domain/feature"
	"github.com/hermesindex/hermes/infrastructure/bitmagnet"
	"github.com/hermesindex/hermes/internal/config"
)

// TorrentSearcher is the GraphQL keyword backend.
type TorrentSearcher interface {
	SearchTorrents(ctx context.Context, queryString string, limit, offset int) (bitmagnet.SearchResult, error)
}

// KeywordSearch answers keyword-only queries without touching the vector
// index, either straight against the catalog tables or through the bitmagnet
// GraphQL API.
type KeywordSearch struct {
	cfg      config.Config
	reader   catalog.Reader
	torrents TorrentSearcher
	logger   *slog.Logger
}

// NewKeywordSearch creates the keyword service. torrents may be nil when the
// backend is sql.
func NewKeywordSearch(cfg config.Config, reader catalog.Reader, torrents TorrentSearcher, logger *slog.Logger) *KeywordSearch {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeywordSearch{cfg: cfg, reader: reader, torrents: torrents, logger: logger}
}

// Search runs one keyword query. sources narrows the SQL backend to the named
// sources; the bitmagnet backend ignores it.
func (s *KeywordSearch) Search(ctx context.Context, q string, limit int, sources []string) (SearchResponse, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return SearchResponse{}, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	var results []Result
	if s.cfg.Search.KeywordBackend == "bitmagnet" && s.torrents != nil {
		found, err := s.searchBitmagnet(ctx, q, limit)
		if err != nil {
			return SearchResponse{}, err
		}
		results = found
	} else {
		results = s.searchSQL(ctx, q, limit, sources)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return SearchResponse{
		Count:    len(results),
		PageSize: limit,
		Results:  results,
	}, nil
}

func (s *KeywordSearch) searchBitmagnet(ctx context.Context, q string, limit int) ([]Result, error) {
	res, err := s.torrents.SearchTorrents(ctx, q, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("bitmagnet search: %w", err)
	}
	results := make([]Result, 0, len(res.Nodes))
	for _, node := range res.Nodes {
		title := nodeString(node, "title", "name")
		infoHash := nodeString(node, "infoHash", "info_hash")
		if title == "" && infoHash == "" {
			continue
		}
		results = append(results, Result{
			Score:    feature.KeywordScore(q, title),
			Source:   "bitmagnet",
			PGID:     infoHash,
			Title:    title,
			Metadata: node,
		})
	}
	return results, nil
}

// searchSQL queries every keyword-enabled source. A failing source is logged
// and skipped so one bad table never empties the whole response.
func (s *KeywordSearch) searchSQL(ctx context.Context, q string, limit int, sources []string) []Result {
	wanted := make(map[string]bool, len(sources))
	for _, name := range sources {
		wanted[name] = true
	}

	var results []Result
	for _, src := range s.cfg.Sources {
		if !src.PG.KeywordSearch {
			continue
		}
		if len(wanted) > 0 && !wanted[src.Name] {
			continue
		}
		rows, err := s.reader.SearchByKeyword(ctx, src.Name, q, limit)
		if err != nil {
			s.logger.Warn("keyword search failed", slog.String("source", src.Name), slog.String("error", err.Error()))
			continue
		}
		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.PGID
		}
		scores, err := s.reader.FetchSyncScores(ctx, src.Name, ids)
		if err != nil {
			s.logger.Warn("sync score lookup failed", slog.String("source", src.Name), slog.String("error", err.Error()))
			scores = nil
		}
		for _, row := range rows {
			nsfwScore := scores[row.PGID]
			results = append(results, Result{
				Score:     feature.KeywordScore(q, row.Text),
				Source:    src.Name,
				PGID:      row.PGID,
				Title:     row.Text,
				NSFW:      src.Tagging.NSFWEnabled() && nsfwScore >= s.cfg.NSFWThreshold,
				NSFWScore: nsfwScore,
				Metadata:  row.Fields,
			})
		}
	}
	return results
}

// nodeString reads the first non-empty string field, descending into a nested
// torrent object when the top level misses.
func nodeString(node map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := node[key].(string); ok && s != "" {
			return s
		}
	}
	if torrent, ok := node["torrent"].(map[string]any); ok {
		for _, key := range keys {
			if s, ok := torrent[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
