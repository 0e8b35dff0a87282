package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hermesindex/hermes/internal/database"
)

// TMDBRef identifies one TMDB record to enrich.
type TMDBRef struct {
	ContentType string
	TMDBID      string
}

// TMDBValues are the normalized columns of a TMDB enrichment row.
type TMDBValues struct {
	AKA          string
	Keywords     string
	Actors       string
	Directors    string
	Plot         string
	Genre        string
	IMDBRating   *float64
	DoubanRating *float64
}

// TMDBDetail is the read-side projection of a TMDB enrichment row.
type TMDBDetail struct {
	ContentType string     `json:"content_type"`
	TMDBID      string     `json:"tmdb_id"`
	AKA         string     `json:"aka,omitempty"`
	Keywords    string     `json:"keywords,omitempty"`
	Actors      string     `json:"actors,omitempty"`
	Directors   string     `json:"directors,omitempty"`
	Plot        string     `json:"plot,omitempty"`
	Genre       string     `json:"genre,omitempty"`
	PosterURL   string     `json:"poster_url,omitempty"`
	BackdropURL string     `json:"backdrop_url,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// LatestTMDBItem is one row of the recently-enriched TMDB listing.
type LatestTMDBItem struct {
	ContentUID    string     `json:"content_uid"`
	TMDBID        string     `json:"tmdb_id"`
	Title         string     `json:"title"`
	OriginalTitle string     `json:"original_title,omitempty"`
	ReleaseYear   *int       `json:"release_year,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	Type          string     `json:"type,omitempty"`
	Genre         string     `json:"genre,omitempty"`
	Keywords      string     `json:"keywords,omitempty"`
}

// TorrentFile is one file inside a torrent, read from the integration view.
type TorrentFile struct {
	Index     int        `json:"index"`
	Path      string     `json:"path"`
	Extension string     `json:"extension,omitempty"`
	Size      *int64     `json:"size,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// imageBaseURL prefixes TMDB poster and backdrop paths.
const imageBaseURL = "https://image.tmdb.org/t/p/w500"

// EnrichmentStore reads and writes the TMDB/TPDB enrichment tables.
type EnrichmentStore struct {
	db     database.Database
	schema string
}

// NewEnrichmentStore creates a store bound to the integration schema.
func NewEnrichmentStore(db database.Database, schema string) *EnrichmentStore {
	return &EnrichmentStore{db: db, schema: schema}
}

// FetchTMDBRefs lists TMDB references from the catalog. Unless force is set,
// references that already have an enrichment row are skipped.
func (s *EnrichmentStore) FetchTMDBRefs(ctx context.Context, limit int, force bool) ([]TMDBRef, error) {
	table, err := schemaTable(s.schema, "tmdb_enrichment")
	if err != nil {
		return nil, err
	}
	query := `
		SELECT c.type AS content_type, c.id AS tmdb_id
		FROM public.content c
		WHERE c.source = 'tmdb'
		ORDER BY c.id
		LIMIT ?`
	if !force {
		query = fmt.Sprintf(`
			SELECT c.type AS content_type, c.id AS tmdb_id
			FROM public.content c
			LEFT JOIN %s te ON te.content_type = c.type AND te.tmdb_id = c.id
			WHERE c.source = 'tmdb' AND te.tmdb_id IS NULL
			ORDER BY c.id
			LIMIT ?`, table)
	}
	var refs []TMDBRef
	if err := s.db.Session(ctx).Raw(query, limit).Scan(&refs).Error; err != nil {
		return nil, fmt.Errorf("fetch tmdb refs: %w", err)
	}
	return refs, nil
}

// FilterMissingTMDBRefs drops refs that already have an enrichment row.
func (s *EnrichmentStore) FilterMissingTMDBRefs(ctx context.Context, refs []TMDBRef) ([]TMDBRef, error) {
	unique := make([]TMDBRef, 0, len(refs))
	seen := make(map[TMDBRef]bool, len(refs))
	for _, ref := range refs {
		if ref.ContentType == "" || ref.TMDBID == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		unique = append(unique, ref)
	}
	if len(unique) == 0 {
		return nil, nil
	}

	table, err := schemaTable(s.schema, "tmdb_enrichment")
	if err != nil {
		return nil, err
	}
	tuples := make([]string, len(unique))
	args := make([]any, 0, len(unique)*2)
	for i, ref := range unique {
		tuples[i] = "(?, ?)"
		args = append(args, ref.ContentType, ref.TMDBID)
	}
	query := fmt.Sprintf(`SELECT content_type, tmdb_id FROM %s WHERE (content_type, tmdb_id) IN (%s)`,
		table, strings.Join(tuples, ", "))

	var existing []TMDBRef
	if err := s.db.Session(ctx).Raw(query, args...).Scan(&existing).Error; err != nil {
		return nil, fmt.Errorf("filter tmdb refs: %w", err)
	}
	have := make(map[TMDBRef]bool, len(existing))
	for _, ref := range existing {
		have[ref] = true
	}
	missing := make([]TMDBRef, 0, len(unique))
	for _, ref := range unique {
		if !have[ref] {
			missing = append(missing, ref)
		}
	}
	return missing, nil
}

// UpsertTMDB writes one enrichment row, replacing any previous values.
func (s *EnrichmentStore) UpsertTMDB(ctx context.Context, ref TMDBRef, values TMDBValues, raw map[string]any) error {
	table, err := schemaTable(s.schema, "tmdb_enrichment")
	if err != nil {
		return err
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal tmdb raw payload: %w", err)
	}
	stmt := fmt.Sprintf(`
		INSERT INTO %s
		    (content_type, tmdb_id, aka, keywords, actors, directors, plot, genre, imdb_rating, douban_rating, raw, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?::jsonb, now())
		ON CONFLICT (content_type, tmdb_id) DO UPDATE
		SET aka = EXCLUDED.aka,
		    keywords = EXCLUDED.keywords,
		    actors = EXCLUDED.actors,
		    directors = EXCLUDED.directors,
		    plot = EXCLUDED.plot,
		    genre = EXCLUDED.genre,
		    imdb_rating = EXCLUDED.imdb_rating,
		    douban_rating = EXCLUDED.douban_rating,
		    raw = EXCLUDED.raw,
		    updated_at = now()`, table)
	if err := s.db.Session(ctx).Exec(stmt,
		ref.ContentType, ref.TMDBID,
		values.AKA, values.Keywords, values.Actors, values.Directors, values.Plot, values.Genre,
		values.IMDBRating, values.DoubanRating, string(rawJSON),
	).Error; err != nil {
		return fmt.Errorf("upsert tmdb %s:%s: %w", ref.ContentType, ref.TMDBID, err)
	}
	return nil
}

// FetchTMDBDetail reads one enrichment row and derives image URLs from the
// raw payload. Returns nil when the row does not exist.
func (s *EnrichmentStore) FetchTMDBDetail(ctx context.Context, contentType, tmdbID string) (*TMDBDetail, error) {
	table, err := schemaTable(s.schema, "tmdb_enrichment")
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	query := fmt.Sprintf(`
		SELECT content_type, tmdb_id, aka, keywords, actors, directors, plot, genre, raw, updated_at
		FROM %s WHERE content_type = ? AND tmdb_id = ?`, table)
	if err := s.db.Session(ctx).Raw(query, contentType, tmdbID).Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("fetch tmdb detail: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	record := raw[0]
	detail := &TMDBDetail{
		ContentType: renderValue(record["content_type"]),
		TMDBID:      renderValue(record["tmdb_id"]),
		AKA:         renderValue(record["aka"]),
		Keywords:    renderValue(record["keywords"]),
		Actors:      renderValue(record["actors"]),
		Directors:   renderValue(record["directors"]),
		Plot:        renderValue(record["plot"]),
		Genre:       renderValue(record["genre"]),
		UpdatedAt:   parseTime(record["updated_at"]),
	}
	if rawPayload := decodeRawJSON(record["raw"]); rawPayload != nil {
		if poster, ok := rawPayload["poster_path"].(string); ok && poster != "" {
			detail.PosterURL = imageBaseURL + poster
		}
		if backdrop, ok := rawPayload["backdrop_path"].(string); ok && backdrop != "" {
			detail.BackdropURL = imageBaseURL + backdrop
		}
	}
	return detail, nil
}

func decodeRawJSON(v any) map[string]any {
	var data []byte
	switch val := v.(type) {
	case string:
		data = []byte(val)
	case []byte:
		data = val
	default:
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}
	return payload
}

// FetchLatestTMDB lists recently enriched content joined with the catalog view.
func (s *EnrichmentStore) FetchLatestTMDB(ctx context.Context, limit int) ([]LatestTMDBItem, error) {
	view, err := schemaTable(s.schema, "content_view")
	if err != nil {
		return nil, err
	}
	table, err := schemaTable(s.schema, "tmdb_enrichment")
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT cv.content_uid, te.tmdb_id, cv.title, cv.original_title, cv.release_year,
		       te.updated_at, cv.type, te.genre, te.keywords
		FROM %s te
		JOIN %s cv ON cv.type = te.content_type AND cv.id = te.tmdb_id AND cv.source = 'tmdb'
		ORDER BY te.updated_at DESC
		LIMIT ?`, table, view)
	var items []LatestTMDBItem
	if err := s.db.Session(ctx).Raw(query, limit).Scan(&items).Error; err != nil {
		return nil, fmt.Errorf("fetch latest tmdb: %w", err)
	}
	return items, nil
}

// FetchTorrentFiles lists files for an info hash given in "\xHEX" text form.
func (s *EnrichmentStore) FetchTorrentFiles(ctx context.Context, infoHash string) ([]TorrentFile, error) {
	view, err := schemaTable(s.schema, "torrent_files_view")
	if err != nil {
		return nil, err
	}
	hex := strings.TrimPrefix(infoHash, `\x`)
	query := fmt.Sprintf(`
		SELECT index, path, extension, size, updated_at
		FROM %s
		WHERE info_hash = decode(?, 'hex')
		ORDER BY index`, view)
	var files []TorrentFile
	if err := s.db.Session(ctx).Raw(query, hex).Scan(&files).Error; err != nil {
		return nil, fmt.Errorf("fetch torrent files: %w", err)
	}
	return files, nil
}

// SearchExpansionTokens finds catalog-derived query expansion terms in the
// enrichment aka/keywords columns. Heavier-weighted terms appear in more
// matching rows.
func (s *EnrichmentStore) SearchExpansionTokens(ctx context.Context, q string, limit int) (map[string]int, error) {
	if strings.TrimSpace(q) == "" || limit <= 0 {
		return map[string]int{}, nil
	}
	table, err := schemaTable(s.schema, "tmdb_enrichment")
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT aka, keywords FROM %s
		WHERE aka ILIKE ? OR keywords ILIKE ?
		LIMIT ?`, table)
	pattern := "%" + q + "%"

	var raw []struct {
		AKA      string `gorm:"column:aka"`
		Keywords string `gorm:"column:keywords"`
	}
	if err := s.db.Session(ctx).Raw(query, pattern, pattern, limit).Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("search expansion tokens: %w", err)
	}

	weights := make(map[string]int)
	for _, record := range raw {
		for _, field := range []string{record.AKA, record.Keywords} {
			for _, token := range strings.Split(field, ",") {
				token = strings.TrimSpace(token)
				if token == "" || token == q {
					continue
				}
				weights[token]++
				if len(weights) >= limit {
					return weights, nil
				}
			}
		}
	}
	return weights, nil
}
