package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hermesindex/hermes/domain/feature"
	"github.com/hermesindex/hermes/infrastructure/postgres"
	"github.com/hermesindex/hermes/internal/config"
	"github.com/hermesindex/hermes/internal/httpx"
)

// codePattern matches release codes like "ABC-123" embedded in titles.
var codePattern = regexp.MustCompile(`(?i)\b([A-Z]{2,6})[-_ ]?(\d{2,5})\b`)

// ExtractCode pulls a canonical "AAA-123" release code out of a title.
// Returns the empty string when no code is present.
func ExtractCode(text string) string {
	if text == "" {
		return ""
	}
	m := codePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1]) + "-" + m[2]
}

// normalizeText cleans a title for matching, falling back to the original
// when cleaning strips everything.
func normalizeText(value string) string {
	cleaned := feature.Normalize(value)
	if cleaned == "" {
		return value
	}
	return cleaned
}

// extractNames flattens the name shapes TPDB uses: plain strings, lists of
// strings or objects, and single objects. Performer wrappers resolve through
// performer.name.
func extractNames(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var names []string
		for _, item := range v {
			switch entry := item.(type) {
			case string:
				if entry != "" {
					names = append(names, entry)
				}
			case map[string]any:
				if name := objectName(entry); name != "" {
					names = append(names, name)
				}
			}
		}
		return strings.Join(names, ", ")
	case map[string]any:
		return objectName(v)
	}
	return ""
}

func objectName(obj map[string]any) string {
	if performer, ok := obj["performer"].(map[string]any); ok {
		if name := firstString(performer, "name", "title"); name != "" {
			return name
		}
		return ""
	}
	return firstString(obj, "name", "title", "label")
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := anyString(obj[key]); s != "" {
			return s
		}
	}
	return ""
}

// extractImageURL digs a URL out of a string, object, or list shape.
func extractImageURL(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		return firstString(v, "url", "path", "src")
	case []any:
		for _, item := range v {
			if url := extractImageURL(item); url != "" {
				return url
			}
		}
	}
	return ""
}

// extractItems walks the configured result path into the GraphQL payload and
// returns the candidate item list. Without a path, well-known collection keys
// are probed; a single object becomes a one-item list.
func extractItems(payload map[string]any, resultPath string) []map[string]any {
	var data any = payload
	for _, part := range strings.Split(resultPath, ".") {
		if part == "" {
			continue
		}
		obj, ok := data.(map[string]any)
		if !ok {
			return nil
		}
		data = obj[part]
	}
	switch v := data.(type) {
	case []any:
		items := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				items = append(items, m)
			}
		}
		return items
	case map[string]any:
		for _, key := range []string{"items", "results", "scenes", "movies", "javs"} {
			if list, ok := v[key].([]any); ok {
				items := make([]map[string]any, 0, len(list))
				for _, item := range list {
					if m, ok := item.(map[string]any); ok {
						items = append(items, m)
					}
				}
				return items
			}
		}
		return []map[string]any{v}
	}
	return nil
}

// pickBestItem selects a candidate by code match first, then exact and
// partial normalized-title matches, then the first item. The match method
// and confidence are recorded on the enrichment row.
func pickBestItem(items []map[string]any, code, title string) (map[string]any, string, float64) {
	if code != "" {
		for _, item := range items {
			itemCode := anyString(item["code"])
			if itemCode == "" {
				itemCode = ExtractCode(anyString(item["title"]))
			}
			if itemCode != "" && strings.EqualFold(itemCode, code) {
				return item, "code", 1.0
			}
		}
	}
	if title != "" {
		normTitle := strings.ToLower(normalizeText(title))
		for _, item := range items {
			itemTitle := firstString(item, "title", "name")
			if itemTitle == "" {
				continue
			}
			if strings.ToLower(normalizeText(itemTitle)) == normTitle {
				return item, "title_exact", 0.9
			}
		}
		for _, item := range items {
			itemTitle := firstString(item, "title", "name")
			if itemTitle == "" {
				continue
			}
			normItem := strings.ToLower(normalizeText(itemTitle))
			if strings.Contains(normItem, normTitle) || strings.Contains(normTitle, normItem) {
				return item, "title_partial", 0.7
			}
		}
	}
	return items[0], "fallback", 0.5
}

// NormalizeTPDBItem projects one TPDB item into enrichment columns.
func NormalizeTPDBItem(item map[string]any) postgres.TPDBValues {
	aka := item["aka"]
	if aka == nil {
		aka = item["alternateTitles"]
	}
	akaStr, ok := aka.(string)
	if !ok {
		akaStr = extractNames(aka)
	}
	if akaStr == "" {
		akaStr = anyString(item["code"])
	}

	performers := item["performers"]
	if performers == nil {
		performers = item["actors"]
	}

	var urlSites []any
	if urls, ok := item["urls"].([]any); ok {
		for _, u := range urls {
			entry, ok := u.(map[string]any)
			if !ok {
				continue
			}
			switch site := entry["site"].(type) {
			case map[string]any:
				if name := anyString(site["name"]); name != "" {
					urlSites = append(urlSites, name)
				}
			case string:
				urlSites = append(urlSites, site)
			}
		}
	}
	siteValue := item["site"]
	if siteValue == nil && len(urlSites) > 0 {
		siteValue = urlSites
	}

	releaseDate := firstString(item, "release_date", "releaseDate", "date", "production_date")
	plot := firstString(item, "description", "overview", "plot", "details")

	poster := item["image"]
	if poster == nil {
		poster = item["images"]
	}
	if poster == nil {
		poster = item["poster"]
	}

	return postgres.TPDBValues{
		TPDBID:        firstString(item, "id", "uuid"),
		ExternalType:  firstString(item, "type", "__typename"),
		Title:         firstString(item, "title", "name"),
		OriginalTitle: firstString(item, "original_title", "originalTitle"),
		AKA:           akaStr,
		Actors:        extractNames(performers),
		Tags:          extractNames(item["tags"]),
		Studio:        extractNames(item["studio"]),
		Series:        extractNames(item["series"]),
		Site:          extractNames(siteValue),
		ReleaseDate:   releaseDate,
		Plot:          plot,
		PosterURL:     extractImageURL(poster),
	}
}

// anyString renders a decoded JSON scalar as text. Integral floats print
// without a fractional part, matching how ids come back from the API.
func anyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprintf("%v", v)
}

// buildVariables assembles the GraphQL variables for one reference. The
// search term prefers the extracted code, then the cleaned title.
func buildVariables(ref postgres.TPDBRef, searchLimit int) map[string]any {
	title := ref.Title
	if title == "" {
		title = ref.OriginalTitle
	}
	cleaned := ""
	if title != "" {
		cleaned = normalizeText(title)
	}
	code := ExtractCode(title)
	term := code
	if term == "" {
		term = cleaned
	}
	if term == "" {
		term = title
	}
	date := ""
	if ref.ReleaseYear != nil {
		date = strconv.Itoa(*ref.ReleaseYear)
	}
	return map[string]any{
		"term":      term,
		"limit":     searchLimit,
		"title":     cleaned,
		"raw_title": title,
		"code":      code,
		"site":      "",
		"date":      date,
	}
}

// TPDBClient posts GraphQL queries to a TPDB endpoint.
type TPDBClient struct {
	token      string
	authHeader string
	authPrefix string
	http       *httpx.Client
}

// NewTPDBClient creates a client from configuration.
func NewTPDBClient(cfg config.TPDBConfig) (*TPDBClient, error) {
	token, err := cfg.ResolveToken()
	if err != nil {
		return nil, err
	}
	authHeader := cfg.AuthHeader
	if authHeader == "" {
		authHeader = "ApiKey"
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TPDBClient{
		token:      token,
		authHeader: authHeader,
		authPrefix: cfg.AuthPrefix,
		http:       httpx.NewClient(&http.Client{Timeout: timeout}),
	}, nil
}

// FetchPayload posts one query and decodes the response. Payload-level
// GraphQL errors are fatal for the reference being enriched.
func (c *TPDBClient) FetchPayload(ctx context.Context, endpoint, query string, variables map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return nil, err
	}
	auth := c.token
	if c.authPrefix != "" {
		auth = c.authPrefix + " " + c.token
	}
	headers := map[string]string{c.authHeader: auth}
	data, err := c.http.PostJSON(ctx, endpoint, body, headers)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode tpdb response: %w", err)
	}
	if errs, ok := payload["errors"].([]any); ok && len(errs) > 0 {
		msg, _ := json.Marshal(errs)
		return nil, fmt.Errorf("tpdb graphql errors: %s", msg)
	}
	return payload, nil
}

// TPDBEnricher drives TPDB enrichment runs.
type TPDBEnricher struct {
	store  *postgres.EnrichmentStore
	client *TPDBClient
	cfg    config.TPDBConfig
	logger *slog.Logger
}

// NewTPDBEnricher wires the runner.
func NewTPDBEnricher(store *postgres.EnrichmentStore, client *TPDBClient, cfg config.TPDBConfig, logger *slog.Logger) *TPDBEnricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &TPDBEnricher{store: store, client: client, cfg: cfg, logger: logger}
}

// Run enriches up to limit references per pass. Unless force is set, TTL
// staleness is applied so recently resolved rows are skipped. With loop set,
// passes repeat until no references remain.
func (e *TPDBEnricher) Run(ctx context.Context, limit int, force, loop bool) error {
	for {
		refs, err := e.store.FetchTPDBRefs(ctx, limit, force)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			e.logger.Info("no tpdb refs to enrich")
			return nil
		}
		if !force {
			refs, err = e.store.FilterStaleTPDBRefs(ctx, refs, e.cacheTTL(), e.notFoundTTL())
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				e.logger.Info("no stale tpdb refs to enrich")
				return nil
			}
		}
		e.logger.Info("enriching tpdb refs", "count", len(refs))
		if err := e.enrichRefs(ctx, refs); err != nil {
			return err
		}
		if !loop || force {
			return nil
		}
	}
}

// AutoEnrich fills stale or missing enrichment rows for references seen
// during sync. Failures are logged; sync never stalls on enrichment.
func (e *TPDBEnricher) AutoEnrich(ctx context.Context, refs []postgres.TPDBRef) {
	if !e.cfg.Enabled || !e.cfg.AutoEnrich {
		return
	}
	candidates, err := e.store.FilterStaleTPDBRefs(ctx, refs, e.cacheTTL(), e.notFoundTTL())
	if err != nil {
		e.logger.Warn("tpdb auto-enrich filter failed", "error", err)
		return
	}
	maxPerBatch := e.cfg.MaxPerBatch
	if maxPerBatch <= 0 {
		maxPerBatch = config.DefaultEnrichMaxPerBatch
	}
	if len(candidates) > maxPerBatch {
		candidates = candidates[:maxPerBatch]
	}
	if err := e.enrichRefs(ctx, candidates); err != nil {
		e.logger.Warn("tpdb auto-enrich aborted", "error", err)
	}
}

// enrichRefs resolves and upserts each reference. Per-reference API failures
// are recorded as error rows; only configuration problems and cancellation
// abort the batch.
func (e *TPDBEnricher) enrichRefs(ctx context.Context, refs []postgres.TPDBRef) error {
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		tpdbType := strings.ToLower(ref.TPDBType)
		if tpdbType == "" {
			tpdbType = strings.ToLower(e.defaultType())
		}
		query := e.queryFor(tpdbType)
		if query == "" {
			return fmt.Errorf("tpdb.query is required (type=%q, default_type=%q)", tpdbType, e.defaultType())
		}
		endpoint := e.endpointFor(tpdbType)
		resultPath := e.resultPathFor(tpdbType)
		variables := buildVariables(ref, e.searchLimit())
		code, _ := variables["code"].(string)
		if e.cfg.RequireCode && code == "" {
			continue
		}
		title, _ := variables["raw_title"].(string)
		if title == "" {
			title, _ = variables["title"].(string)
		}

		result := e.resolve(ctx, endpoint, query, resultPath, variables, code, title)
		if err := e.store.UpsertTPDB(ctx, ref, result); err != nil {
			e.logger.Warn("tpdb upsert failed", "content_id", ref.ContentID, "error", err)
		} else {
			e.logger.Info("tpdb enriched",
				"content_type", ref.ContentType, "content_source", ref.ContentSource,
				"content_id", ref.ContentID, "method", result.MatchMethod, "status", result.Status)
		}
		e.pace(ctx)
	}
	return nil
}

// resolve fetches candidates and picks the best one.
func (e *TPDBEnricher) resolve(ctx context.Context, endpoint, query, resultPath string, variables map[string]any, code, title string) postgres.TPDBResult {
	payload, err := e.client.FetchPayload(ctx, endpoint, query, variables)
	if err != nil {
		return postgres.TPDBResult{
			MatchMethod:  "error",
			Status:       postgres.TPDBStatusError,
			ErrorMessage: err.Error(),
		}
	}
	items := extractItems(payload, resultPath)
	if len(items) == 0 {
		return postgres.TPDBResult{
			Raw:         payload,
			MatchMethod: "not_found",
			Status:      postgres.TPDBStatusNotFound,
		}
	}
	item, method, score := pickBestItem(items, code, title)
	return postgres.TPDBResult{
		Values:      NormalizeTPDBItem(item),
		Raw:         item,
		MatchMethod: method,
		MatchScore:  &score,
		Status:      postgres.TPDBStatusSuccess,
	}
}

func (e *TPDBEnricher) defaultType() string {
	if e.cfg.DefaultType != "" {
		return e.cfg.DefaultType
	}
	if _, ok := e.cfg.Queries["jav"]; ok {
		return "jav"
	}
	return ""
}

func (e *TPDBEnricher) queryFor(tpdbType string) string {
	if q, ok := e.cfg.Queries[tpdbType]; ok && q != "" {
		return q
	}
	return e.cfg.Query
}

func (e *TPDBEnricher) endpointFor(tpdbType string) string {
	if ep, ok := e.cfg.Endpoints[tpdbType]; ok && ep != "" {
		return ep
	}
	if e.cfg.Endpoint != "" {
		return e.cfg.Endpoint
	}
	return config.DefaultTPDBEndpoint
}

func (e *TPDBEnricher) resultPathFor(tpdbType string) string {
	if p, ok := e.cfg.ResultPaths[tpdbType]; ok && p != "" {
		return p
	}
	return e.cfg.ResultPath
}

func (e *TPDBEnricher) searchLimit() int {
	if e.cfg.SearchLimit > 0 {
		return e.cfg.SearchLimit
	}
	return 10
}

func (e *TPDBEnricher) cacheTTL() time.Duration {
	return time.Duration(e.cfg.CacheTTLHours * float64(time.Hour))
}

func (e *TPDBEnricher) notFoundTTL() time.Duration {
	return time.Duration(e.cfg.NotFoundTTLHours * float64(time.Hour))
}

func (e *TPDBEnricher) pace(ctx context.Context) {
	sleep := time.Duration(e.cfg.SleepSeconds * float64(time.Second))
	if sleep <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(sleep):
	}
}
