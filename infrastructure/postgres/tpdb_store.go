package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TPDB enrichment row statuses.
const (
	TPDBStatusSuccess  = "success"
	TPDBStatusNotFound = "not_found"
	TPDBStatusError    = "error"
)

// TPDBRef identifies one catalog record to enrich via TPDB.
type TPDBRef struct {
	ContentType   string
	ContentSource string
	ContentID     string
	Title         string
	OriginalTitle string
	ReleaseYear   *int
	TPDBType      string
}

// Valid reports whether the ref carries a full identity.
func (r TPDBRef) Valid() bool {
	return r.ContentType != "" && r.ContentSource != "" && r.ContentID != ""
}

// TPDBValues are the normalized columns of a TPDB enrichment row.
type TPDBValues struct {
	TPDBID        string
	ExternalType  string
	Title         string
	OriginalTitle string
	AKA           string
	Actors        string
	Tags          string
	Studio        string
	Series        string
	Site          string
	ReleaseDate   string
	Plot          string
	PosterURL     string
}

// TPDBResult describes how a row was resolved.
type TPDBResult struct {
	Values       TPDBValues
	Raw          map[string]any
	MatchMethod  string
	MatchScore   *float64
	Status       string
	ErrorMessage string
}

// FetchTPDBRefs lists catalog content to enrich. Unless force is set, rows
// that already have an enrichment row are skipped; TTL staleness is applied
// separately by FilterStaleTPDBRefs.
func (s *EnrichmentStore) FetchTPDBRefs(ctx context.Context, limit int, force bool) ([]TPDBRef, error) {
	table, err := schemaTable(s.schema, "tpdb_enrichment")
	if err != nil {
		return nil, err
	}
	query := `
		SELECT c.type AS content_type, c.source AS content_source, c.id AS content_id,
		       c.title, c.original_title, c.release_year
		FROM public.content c
		ORDER BY c.id
		LIMIT ?`
	if !force {
		query = fmt.Sprintf(`
			SELECT c.type AS content_type, c.source AS content_source, c.id AS content_id,
			       c.title, c.original_title, c.release_year
			FROM public.content c
			LEFT JOIN %s te
			    ON te.content_type = c.type
			    AND te.content_source = c.source
			    AND te.content_id = c.id
			WHERE te.content_id IS NULL
			ORDER BY c.id
			LIMIT ?`, table)
	}
	var refs []TPDBRef
	if err := s.db.Session(ctx).Raw(query, limit).Scan(&refs).Error; err != nil {
		return nil, fmt.Errorf("fetch tpdb refs: %w", err)
	}
	return refs, nil
}

// FilterStaleTPDBRefs keeps refs that have no enrichment row or whose row
// aged past its TTL. Not-found rows use the longer notFoundTTL so repeated
// probing of dead references stays cheap.
func (s *EnrichmentStore) FilterStaleTPDBRefs(ctx context.Context, refs []TPDBRef, ttl, notFoundTTL time.Duration) ([]TPDBRef, error) {
	valid := make([]TPDBRef, 0, len(refs))
	type key struct{ t, s, id string }
	seen := make(map[key]bool, len(refs))
	for _, ref := range refs {
		k := key{ref.ContentType, ref.ContentSource, ref.ContentID}
		if !ref.Valid() || seen[k] {
			continue
		}
		seen[k] = true
		valid = append(valid, ref)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	table, err := schemaTable(s.schema, "tpdb_enrichment")
	if err != nil {
		return nil, err
	}
	tuples := make([]string, len(valid))
	args := make([]any, 0, len(valid)*3)
	for i, ref := range valid {
		tuples[i] = "(?, ?, ?)"
		args = append(args, ref.ContentType, ref.ContentSource, ref.ContentID)
	}
	query := fmt.Sprintf(`
		SELECT content_type, content_source, content_id, status, updated_at
		FROM %s
		WHERE (content_type, content_source, content_id) IN (%s)`,
		table, strings.Join(tuples, ", "))

	var existing []struct {
		ContentType   string     `gorm:"column:content_type"`
		ContentSource string     `gorm:"column:content_source"`
		ContentID     string     `gorm:"column:content_id"`
		Status        string     `gorm:"column:status"`
		UpdatedAt     *time.Time `gorm:"column:updated_at"`
	}
	if err := s.db.Session(ctx).Raw(query, args...).Scan(&existing).Error; err != nil {
		return nil, fmt.Errorf("filter tpdb refs: %w", err)
	}

	type rowState struct {
		status    string
		updatedAt *time.Time
	}
	states := make(map[key]rowState, len(existing))
	for _, row := range existing {
		states[key{row.ContentType, row.ContentSource, row.ContentID}] = rowState{row.Status, row.UpdatedAt}
	}

	now := time.Now().UTC()
	fresh := make([]TPDBRef, 0, len(valid))
	for _, ref := range valid {
		state, ok := states[key{ref.ContentType, ref.ContentSource, ref.ContentID}]
		if !ok {
			fresh = append(fresh, ref)
			continue
		}
		rowTTL := ttl
		if state.status == TPDBStatusNotFound {
			rowTTL = notFoundTTL
		}
		if rowTTL <= 0 {
			fresh = append(fresh, ref)
			continue
		}
		if state.updatedAt == nil || now.Sub(state.updatedAt.UTC()) >= rowTTL {
			fresh = append(fresh, ref)
		}
	}
	return fresh, nil
}

// UpsertTPDB writes one enrichment outcome, success or otherwise.
func (s *EnrichmentStore) UpsertTPDB(ctx context.Context, ref TPDBRef, result TPDBResult) error {
	table, err := schemaTable(s.schema, "tpdb_enrichment")
	if err != nil {
		return err
	}
	rawJSON, err := json.Marshal(result.Raw)
	if err != nil {
		return fmt.Errorf("marshal tpdb raw payload: %w", err)
	}
	v := result.Values
	stmt := fmt.Sprintf(`
		INSERT INTO %s
		    (content_type, content_source, content_id, tpdb_id, external_type, title, original_title, aka,
		     actors, tags, studio, series, site, release_date, plot, poster_url, match_method, match_score,
		     status, error_message, raw, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?::jsonb, now())
		ON CONFLICT (content_type, content_source, content_id) DO UPDATE
		SET tpdb_id = EXCLUDED.tpdb_id,
		    external_type = EXCLUDED.external_type,
		    title = EXCLUDED.title,
		    original_title = EXCLUDED.original_title,
		    aka = EXCLUDED.aka,
		    actors = EXCLUDED.actors,
		    tags = EXCLUDED.tags,
		    studio = EXCLUDED.studio,
		    series = EXCLUDED.series,
		    site = EXCLUDED.site,
		    release_date = EXCLUDED.release_date,
		    plot = EXCLUDED.plot,
		    poster_url = EXCLUDED.poster_url,
		    match_method = EXCLUDED.match_method,
		    match_score = EXCLUDED.match_score,
		    status = EXCLUDED.status,
		    error_message = EXCLUDED.error_message,
		    raw = EXCLUDED.raw,
		    updated_at = now()`, table)
	if err := s.db.Session(ctx).Exec(stmt,
		ref.ContentType, ref.ContentSource, ref.ContentID,
		v.TPDBID, v.ExternalType, v.Title, v.OriginalTitle, v.AKA,
		v.Actors, v.Tags, v.Studio, v.Series, v.Site, v.ReleaseDate, v.Plot, v.PosterURL,
		result.MatchMethod, result.MatchScore, result.Status, nullIfEmpty(result.ErrorMessage), string(rawJSON),
	).Error; err != nil {
		return fmt.Errorf("upsert tpdb %s:%s:%s: %w", ref.ContentType, ref.ContentSource, ref.ContentID, err)
	}
	return nil
}

// EnrichmentCounters summarizes the enrichment tables for status reporting.
type EnrichmentCounters struct {
	TMDBTotal    int64 `json:"tmdb_total"`
	TPDBTotal    int64 `json:"tpdb_total"`
	TPDBSuccess  int64 `json:"tpdb_success"`
	TPDBNotFound int64 `json:"tpdb_not_found"`
	TPDBError    int64 `json:"tpdb_error"`
}

// Counters reads enrichment totals. Missing tables yield zero counters.
func (s *EnrichmentStore) Counters(ctx context.Context) (EnrichmentCounters, error) {
	var counters EnrichmentCounters
	tmdbTable, err := schemaTable(s.schema, "tmdb_enrichment")
	if err != nil {
		return counters, err
	}
	tpdbTable, err := schemaTable(s.schema, "tpdb_enrichment")
	if err != nil {
		return counters, err
	}
	if err := s.db.Session(ctx).Raw("SELECT COUNT(*) FROM " + tmdbTable).Scan(&counters.TMDBTotal).Error; err != nil {
		return counters, nil
	}
	var rows []struct {
		Status string `gorm:"column:status"`
		Count  int64  `gorm:"column:count"`
	}
	if err := s.db.Session(ctx).Raw("SELECT status, COUNT(*) AS count FROM " + tpdbTable + " GROUP BY status").Scan(&rows).Error; err != nil {
		return counters, nil
	}
	for _, row := range rows {
		counters.TPDBTotal += row.Count
		switch row.Status {
		case TPDBStatusSuccess:
			counters.TPDBSuccess = row.Count
		case TPDBStatusNotFound:
			counters.TPDBNotFound = row.Count
		case TPDBStatusError:
			counters.TPDBError = row.Count
		}
	}
	return counters, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
