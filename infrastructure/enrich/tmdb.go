// Package enrich implements the TMDB and TPDB metadata enrichment clients
// and the batch runners that keep the enrichment tables current.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hermesindex/hermes/infrastructure/postgres"
	"github.com/hermesindex/hermes/internal/config"
	"github.com/hermesindex/hermes/internal/httpx"
)

// tmdbTypes maps catalog content types onto TMDB API path segments.
var tmdbTypes = map[string]string{
	"movie":   "movie",
	"tv_show": "tv",
}

// TMDBClient fetches content payloads from the TMDB API.
type TMDBClient struct {
	base     string
	apiKey   string
	language string
	http     *httpx.Client
	imdb     *ratingLookup
	douban   *ratingLookup
}

type ratingLookup struct {
	base   string
	apiKey string
	http   *httpx.Client
}

// NewTMDBClient creates a client from configuration. When cache_dir is set,
// responses are cached on disk so re-runs do not re-fetch unchanged content.
func NewTMDBClient(cfg config.TMDBConfig) (*TMDBClient, error) {
	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}
	base := cfg.BaseURL
	if base == "" {
		base = config.DefaultTMDBBaseURL
	}
	language := cfg.Language
	if language == "" {
		language = config.DefaultTMDBLanguage
	}

	inner := &http.Client{Timeout: cfg.Timeout()}
	if cfg.CacheDir != "" {
		inner.Transport = httpx.NewCachingTransport(cfg.CacheDir, nil)
	}

	c := &TMDBClient{
		base:     strings.TrimRight(base, "/"),
		apiKey:   apiKey,
		language: language,
		http:     httpx.NewClient(inner),
	}
	if lookup := newRatingLookup(cfg.IMDB); lookup != nil {
		c.imdb = lookup
	}
	if lookup := newRatingLookup(cfg.Douban); lookup != nil {
		c.douban = lookup
	}
	return c, nil
}

func newRatingLookup(cfg config.RatingLookup) *ratingLookup {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	apiKey := cfg.APIKey
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &ratingLookup{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey: apiKey,
		http:   httpx.NewClient(&http.Client{Timeout: timeout}),
	}
}

// FetchPayload fetches one TMDB record with credits, keywords, and
// alternative titles attached.
func (c *TMDBClient) FetchPayload(ctx context.Context, contentType, tmdbID string) (map[string]any, error) {
	tmdbType, ok := tmdbTypes[contentType]
	if !ok {
		return nil, fmt.Errorf("unsupported TMDB type: %s", contentType)
	}
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("language", c.language)
	params.Set("append_to_response", "credits,keywords,alternative_titles")

	endpoint := fmt.Sprintf("%s/%s/%s?%s", c.base, tmdbType, url.PathEscape(tmdbID), params.Encode())
	data, err := c.http.GetJSON(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch tmdb %s/%s: %w", tmdbType, tmdbID, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode tmdb payload: %w", err)
	}
	return payload, nil
}

// Ratings resolves secondary ratings for a payload. Lookup failures are
// reported back so the caller can log them, but never block enrichment.
func (c *TMDBClient) Ratings(ctx context.Context, payload map[string]any) (imdb, douban *float64, err error) {
	if c.imdb != nil {
		if imdbID, _ := payload["imdb_id"].(string); imdbID != "" {
			imdb, err = c.imdb.fetchIMDB(ctx, imdbID)
			if err != nil {
				return nil, nil, err
			}
		}
	}
	if c.douban != nil {
		if title, _ := payload["title"].(string); title != "" {
			douban, err = c.douban.fetchDouban(ctx, title)
			if err != nil {
				return imdb, nil, err
			}
		}
	}
	return imdb, douban, nil
}

// fetchIMDB queries an OMDb-style endpoint by IMDB id.
func (l *ratingLookup) fetchIMDB(ctx context.Context, imdbID string) (*float64, error) {
	params := url.Values{}
	params.Set("apikey", l.apiKey)
	params.Set("i", imdbID)
	data, err := l.http.GetJSON(ctx, l.base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("imdb rating %s: %w", imdbID, err)
	}
	var resp struct {
		Rating string `json:"imdbRating"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode imdb rating: %w", err)
	}
	return parseRating(resp.Rating), nil
}

// fetchDouban queries a douban rating endpoint by title.
func (l *ratingLookup) fetchDouban(ctx context.Context, title string) (*float64, error) {
	params := url.Values{}
	if l.apiKey != "" {
		params.Set("apikey", l.apiKey)
	}
	params.Set("q", title)
	data, err := l.http.GetJSON(ctx, l.base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("douban rating %q: %w", title, err)
	}
	var resp struct {
		Rating json.Number `json:"rating"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode douban rating: %w", err)
	}
	if resp.Rating == "" {
		return nil, nil
	}
	f, err := resp.Rating.Float64()
	if err != nil {
		return nil, nil
	}
	return &f, nil
}

func parseRating(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "N/A") {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// NormalizeTMDBPayload projects a raw TMDB payload into table columns,
// capping list fields per the configured limits.
func NormalizeTMDBPayload(payload map[string]any, limits config.TMDBLimits) postgres.TMDBValues {
	actorsCap := limits.Actors
	if actorsCap <= 0 {
		actorsCap = 10
	}
	directorsCap := limits.Directors
	if directorsCap <= 0 {
		directorsCap = 5
	}
	akaCap := limits.AKA
	if akaCap <= 0 {
		akaCap = 10
	}

	genres := joinNames(listField(payload, "genres"), "name", -1)

	keywordsObj, _ := payload["keywords"].(map[string]any)
	keywordsList := anyList(keywordsObj["keywords"])
	if len(keywordsList) == 0 {
		keywordsList = anyList(keywordsObj["results"])
	}
	keywords := joinNames(keywordsList, "name", -1)

	credits, _ := payload["credits"].(map[string]any)
	actors := joinNames(anyList(credits["cast"]), "name", actorsCap)

	var directors []string
	for _, member := range anyList(credits["crew"]) {
		if member["job"] == "Director" {
			if name, _ := member["name"].(string); name != "" {
				directors = append(directors, name)
			}
		}
	}
	if len(directors) > directorsCap {
		directors = directors[:directorsCap]
	}

	altTitles, _ := payload["alternative_titles"].(map[string]any)
	altList := anyList(altTitles["titles"])
	if len(altList) == 0 {
		altList = anyList(altTitles["results"])
	}
	aka := joinNames(altList, "title", akaCap)

	plot, _ := payload["overview"].(string)

	return postgres.TMDBValues{
		AKA:       aka,
		Keywords:  keywords,
		Actors:    actors,
		Directors: strings.Join(directors, ", "),
		Plot:      plot,
		Genre:     genres,
	}
}

func listField(payload map[string]any, key string) []map[string]any {
	return anyList(payload[key])
}

func anyList(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// joinNames collects the named field from up to limit entries. A negative
// limit takes everything.
func joinNames(items []map[string]any, field string, limit int) string {
	var names []string
	for i, item := range items {
		if limit >= 0 && i >= limit {
			break
		}
		if name, _ := item[field].(string); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

// TMDBEnricher drives TMDB enrichment runs.
type TMDBEnricher struct {
	store  *postgres.EnrichmentStore
	client *TMDBClient
	cfg    config.TMDBConfig
	logger *slog.Logger
}

// NewTMDBEnricher wires the runner.
func NewTMDBEnricher(store *postgres.EnrichmentStore, client *TMDBClient, cfg config.TMDBConfig, logger *slog.Logger) *TMDBEnricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &TMDBEnricher{store: store, client: client, cfg: cfg, logger: logger}
}

// Run enriches up to limit references per pass. With loop set, passes repeat
// until no references remain.
func (e *TMDBEnricher) Run(ctx context.Context, limit int, force, loop bool) error {
	for {
		refs, err := e.store.FetchTMDBRefs(ctx, limit, force)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			e.logger.Info("no tmdb ids to enrich")
			return nil
		}
		e.logger.Info("enriching tmdb refs", "count", len(refs))
		for _, ref := range refs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.EnrichOne(ctx, ref); err != nil {
				e.logger.Warn("tmdb enrich failed", "content_type", ref.ContentType, "tmdb_id", ref.TMDBID, "error", err)
			}
			e.pace(ctx)
		}
		if !loop || force {
			return nil
		}
	}
}

// EnrichOne fetches, normalizes, and upserts one reference.
func (e *TMDBEnricher) EnrichOne(ctx context.Context, ref postgres.TMDBRef) error {
	payload, err := e.client.FetchPayload(ctx, ref.ContentType, ref.TMDBID)
	if err != nil {
		return err
	}
	values := NormalizeTMDBPayload(payload, e.cfg.Limits)
	imdb, douban, err := e.client.Ratings(ctx, payload)
	if err != nil {
		e.logger.Warn("rating lookup failed", "tmdb_id", ref.TMDBID, "error", err)
	}
	values.IMDBRating = imdb
	values.DoubanRating = douban
	return e.store.UpsertTMDB(ctx, ref, values, payload)
}

// AutoEnrich fills missing enrichment rows for references seen during sync.
// Failures are logged; sync never stalls on enrichment.
func (e *TMDBEnricher) AutoEnrich(ctx context.Context, refs []postgres.TMDBRef) {
	if !e.cfg.Enabled || !e.cfg.AutoEnrich {
		return
	}
	missing, err := e.store.FilterMissingTMDBRefs(ctx, refs)
	if err != nil {
		e.logger.Warn("tmdb auto-enrich filter failed", "error", err)
		return
	}
	maxPerBatch := e.cfg.MaxPerBatch
	if maxPerBatch <= 0 {
		maxPerBatch = config.DefaultEnrichMaxPerBatch
	}
	if len(missing) > maxPerBatch {
		missing = missing[:maxPerBatch]
	}
	for _, ref := range missing {
		if ctx.Err() != nil {
			return
		}
		if err := e.EnrichOne(ctx, ref); err != nil {
			e.logger.Warn("tmdb auto-enrich failed", "content_type", ref.ContentType, "tmdb_id", ref.TMDBID, "error", err)
			continue
		}
		e.logger.Info("auto-enriched tmdb", "content_type", ref.ContentType, "tmdb_id", ref.TMDBID)
		e.pace(ctx)
	}
}

// pace sleeps between API calls, honouring ctx.
func (e *TMDBEnricher) pace(ctx context.Context) {
	sleep := time.Duration(e.cfg.SleepSeconds * float64(time.Second))
	if sleep <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(sleep):
	}
}
