package postgres

import (
	"context"
	"fmt"

	"github.com/hermesindex/hermes/internal/database"
)

// Setup creates the integration schema, the catalog views, and the
// enrichment tables inside an existing bitmagnet database.
type Setup struct {
	db     database.Database
	schema string
}

// NewSetup creates a setup helper for the given schema.
func NewSetup(db database.Database, schema string) *Setup {
	return &Setup{db: db, schema: schema}
}

// Run creates the schema, both views, and both enrichment tables.
func (s *Setup) Run(ctx context.Context) error {
	steps := []func(context.Context) error{
		s.ensureSchema,
		s.createTorrentFilesView,
		s.createContentView,
		s.ensureTMDBTable,
		s.ensureTPDBTable,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Setup) ensureSchema(ctx context.Context) error {
	schema, err := quoteIdent(s.schema)
	if err != nil {
		return err
	}
	if err := s.db.Session(ctx).Exec("CREATE SCHEMA IF NOT EXISTS " + schema).Error; err != nil {
		return fmt.Errorf("create schema %s: %w", s.schema, err)
	}
	return nil
}

func (s *Setup) createTorrentFilesView(ctx context.Context) error {
	view, err := schemaTable(s.schema, "torrent_files_view")
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
		CREATE OR REPLACE VIEW %s AS
		SELECT
		    (encode(info_hash, 'hex') || ':' || index::text) AS file_id,
		    info_hash,
		    index,
		    path,
		    extension,
		    size,
		    created_at,
		    updated_at
		FROM public.torrent_files`, view)
	if err := s.db.Session(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("create torrent_files_view: %w", err)
	}
	return nil
}

func (s *Setup) createContentView(ctx context.Context) error {
	view, err := schemaTable(s.schema, "content_view")
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
		CREATE OR REPLACE VIEW %s AS
		SELECT
		    (type || ':' || source || ':' || id) AS content_uid,
		    type,
		    source,
		    id,
		    title,
		    original_title,
		    overview,
		    adult,
		    release_year,
		    updated_at
		FROM public.content`, view)
	if err := s.db.Session(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("create content_view: %w", err)
	}
	return nil
}

func (s *Setup) ensureTMDBTable(ctx context.Context) error {
	table, err := schemaTable(s.schema, "tmdb_enrichment")
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
		    content_type TEXT NOT NULL,
		    tmdb_id TEXT NOT NULL,
		    aka TEXT,
		    keywords TEXT,
		    actors TEXT,
		    directors TEXT,
		    plot TEXT,
		    genre TEXT,
		    imdb_rating REAL,
		    douban_rating REAL,
		    raw JSONB,
		    updated_at TIMESTAMPTZ DEFAULT now(),
		    PRIMARY KEY (content_type, tmdb_id)
		)`, table)
	if err := s.db.Session(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("create tmdb_enrichment: %w", err)
	}
	return nil
}

func (s *Setup) ensureTPDBTable(ctx context.Context) error {
	table, err := schemaTable(s.schema, "tpdb_enrichment")
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
		    content_type TEXT NOT NULL,
		    content_source TEXT NOT NULL,
		    content_id TEXT NOT NULL,
		    tpdb_id TEXT,
		    external_type TEXT,
		    title TEXT,
		    original_title TEXT,
		    aka TEXT,
		    actors TEXT,
		    tags TEXT,
		    studio TEXT,
		    series TEXT,
		    site TEXT,
		    release_date TEXT,
		    plot TEXT,
		    poster_url TEXT,
		    match_method TEXT,
		    match_score REAL,
		    status TEXT,
		    error_message TEXT,
		    raw JSONB,
		    updated_at TIMESTAMPTZ DEFAULT now(),
		    PRIMARY KEY (content_type, content_source, content_id)
		)`, table)
	if err := s.db.Session(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("create tpdb_enrichment: %w", err)
	}
	return nil
}
