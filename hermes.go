// Package hermes provides a hybrid semantic and keyword search engine over
// media catalog databases.
//
// Hermes syncs rows from configured catalog tables through a GPU embedding
// service into a vector index, and answers search queries by combining
// vector similarity with SQL keyword matches.
//
// Basic usage:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := hermes.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Run one sync pass over every configured source
//	err = client.Sync.Run(ctx, "")
//
//	// Hybrid search
//	resp, err := client.Search.Search(ctx, service.SearchParams{
//	    Query: "恐怖 电影 中字",
//	})
package hermes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hermesindex/hermes/application/service"
	"github.com/hermesindex/hermes/domain/vector"
	"github.com/hermesindex/hermes/infrastructure/api"
	"github.com/hermesindex/hermes/infrastructure/auth"
	"github.com/hermesindex/hermes/infrastructure/bitmagnet"
	"github.com/hermesindex/hermes/infrastructure/enrich"
	"github.com/hermesindex/hermes/infrastructure/gpu"
	"github.com/hermesindex/hermes/infrastructure/postgres"
	"github.com/hermesindex/hermes/infrastructure/provider"
	"github.com/hermesindex/hermes/infrastructure/vectorstore"
	"github.com/hermesindex/hermes/internal/config"
	"github.com/hermesindex/hermes/internal/database"
)

// Client is the main entry point for the hermes library. It wires the
// catalog database, vector store, GPU client, and enrichment stack into
// the application services.
//
// Access operations via struct fields:
//
//	client.Search.Search(ctx, params)
//	client.Sync.Run(ctx, "torrents")
//	client.Status.Snapshot()
type Client struct {
	// Public service fields (direct access)
	Search  *service.Search
	Keyword *service.KeywordSearch
	Sync    *service.Sync
	Status  *service.Status

	// Enrichers are nil unless the corresponding integration is enabled.
	TMDB *enrich.TMDBEnricher
	TPDB *enrich.TPDBEnricher

	// Auth stores are nil unless auth is enabled.
	Users  *auth.UserStore
	Tokens *auth.TokenStore

	cfg        config.Config
	logger     *slog.Logger
	db         database.Database
	store      vector.Store
	gpu        *gpu.Client
	reader     *postgres.CatalogReader
	states     *postgres.SyncStateStore
	enrichment *postgres.EnrichmentStore
	closers    []io.Closer
}

// New creates a fully wired client from configuration. Optional integrations
// (bitmagnet schema, TMDB, TPDB, auth) are only constructed when their
// config sections enable them.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.NewDatabase(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	if db.IsPostgres() {
		if err := db.ConfigurePool(16, 8, time.Hour); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure connection pool: %w", err)
		}
	}

	store := o.store
	if store == nil {
		store, err = vectorstore.New(ctx, cfg.VectorStore)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open vector store: %w", err)
		}
	}

	gpuClient := o.gpu
	if gpuClient == nil {
		gpuClient = gpu.NewClient(cfg.GPUEndpoint)
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		db:     db,
		store:  store,
		gpu:    gpuClient,
		reader: postgres.NewCatalogReader(db, cfg),
		states: postgres.NewSyncStateStore(db),
	}
	c.closers = append(c.closers, store)

	if cfg.Bitmagnet.Enabled {
		c.enrichment = postgres.NewEnrichmentStore(db, cfg.Bitmagnet.Schema)
	}

	if err := c.buildEnrichers(); err != nil {
		_ = c.Close()
		return nil, err
	}

	embedder := o.embedder
	if embedder == nil {
		embedder = c.buildEmbedder()
	}

	var expansions service.ExpansionSource
	if c.enrichment != nil {
		expansions = c.enrichment
	}
	rewriter := service.NewRewriter(cfg, expansions, logger)

	c.Search = service.NewSearch(cfg, store, embedder, c.reader, rewriter, logger)
	c.Keyword = service.NewKeywordSearch(cfg, c.reader, c.buildTorrentSearcher(), logger)

	var tmdbAuto service.TMDBAutoEnricher
	if c.TMDB != nil && cfg.TMDB.AutoEnrich {
		tmdbAuto = c.TMDB
	}
	var tpdbAuto service.TPDBAutoEnricher
	if c.TPDB != nil && cfg.TPDB.AutoEnrich {
		tpdbAuto = c.TPDB
	}
	c.Sync = service.NewSync(cfg, c.reader, store, c.states, gpuClient, tmdbAuto, tpdbAuto, logger)

	var counters service.CounterSource
	if c.enrichment != nil {
		counters = c.enrichment
	}
	c.Status = service.NewStatus(c.states, counters, service.DefaultStatusInterval, logger)

	if cfg.Auth.Enabled {
		users, err := auth.NewUserStore(cfg.Auth.UserStorePath, cfg.Auth.AdminUser, cfg.Auth.AdminPassword)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("open user store: %w", err)
		}
		c.Users = users
		c.Tokens = auth.NewTokenStore(cfg.Auth.TokenTTL())
	}

	return c, nil
}

// buildEnrichers constructs the TMDB and TPDB enrichers when enabled. Both
// write into the integration schema, so they require bitmagnet.enabled.
func (c *Client) buildEnrichers() error {
	if c.enrichment == nil {
		if c.cfg.TMDB.Enabled || c.cfg.TPDB.Enabled {
			c.logger.Warn("enrichment requires bitmagnet.enabled for the integration schema")
		}
		return nil
	}
	if c.cfg.TMDB.Enabled {
		client, err := enrich.NewTMDBClient(c.cfg.TMDB)
		if err != nil {
			return fmt.Errorf("tmdb client: %w", err)
		}
		c.TMDB = enrich.NewTMDBEnricher(c.enrichment, client, c.cfg.TMDB, c.logger)
	}
	if c.cfg.TPDB.Enabled {
		client, err := enrich.NewTPDBClient(c.cfg.TPDB)
		if err != nil {
			return fmt.Errorf("tpdb client: %w", err)
		}
		c.TPDB = enrich.NewTPDBEnricher(c.enrichment, client, c.cfg.TPDB, c.logger)
	}
	return nil
}

// buildEmbedder assembles the query-time embedding chain: an optional local
// hugot model in front of either an OpenAI-compatible endpoint or the GPU
// service, wrapped so a local failure falls through to the remote.
func (c *Client) buildEmbedder() provider.Embedder {
	var remote provider.Embedder
	if c.cfg.Search.OpenAI.Enabled {
		remote = provider.NewOpenAIEmbedder(provider.OpenAIConfig{
			APIKey:  c.cfg.Search.OpenAI.APIKey,
			BaseURL: c.cfg.Search.OpenAI.BaseURL,
			Model:   c.cfg.Search.OpenAI.Model,
		})
	} else {
		gpuClient := c.gpu
		remote = provider.EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
			res, err := gpuClient.Embed(ctx, texts)
			if err != nil {
				return nil, err
			}
			return res.Embeddings, nil
		})
	}

	var local provider.Embedder
	if c.cfg.LocalEmbedder.Enabled {
		le := provider.NewLocalEmbedder(c.cfg.LocalEmbedder.CacheDir, c.cfg.LocalEmbedder.ModelName)
		if le.Available() {
			local = le
			c.closers = append(c.closers, le)
		} else {
			c.logger.Warn("local embedder enabled but model files are missing",
				slog.String("model", c.cfg.LocalEmbedder.ModelName),
				slog.String("cache_dir", c.cfg.LocalEmbedder.CacheDir),
			)
		}
	}

	return provider.NewFallback(local, remote, c.cfg.VectorStore.Dim, c.logger)
}

// buildTorrentSearcher returns a bitmagnet GraphQL client when the keyword
// backend is set to bitmagnet, or nil for the SQL backend.
func (c *Client) buildTorrentSearcher() service.TorrentSearcher {
	if c.cfg.Search.KeywordBackend != "bitmagnet" {
		return nil
	}
	endpoint := c.cfg.Bitmagnet.GraphQLEndpoint
	if endpoint == "" && c.cfg.Bitmagnet.Host != "" {
		endpoint = strings.TrimRight(c.cfg.Bitmagnet.Host, "/") + "/graphql"
	}
	if endpoint == "" {
		c.logger.Warn("keyword_backend is bitmagnet but no graphql endpoint is configured")
		return nil
	}
	return bitmagnet.NewClient(endpoint, c.cfg.Bitmagnet.GraphQLTimeout(),
		bitmagnet.WithLimitCap(c.cfg.Bitmagnet.GraphQLSearchLimitCap),
		bitmagnet.WithLogger(c.logger),
	)
}

// Handlers builds the HTTP endpoint set backed by this client.
func (c *Client) Handlers() *api.Handlers {
	deps := api.HandlerDeps{
		Search:  c.Search,
		Keyword: c.Keyword,
		Status:  c.Status,
		Index:   c.store,
		Users:   c.Users,
		Tokens:  c.Tokens,
	}
	if c.enrichment != nil {
		deps.Enrich = c.enrichment
	}
	if c.TMDB != nil {
		deps.Enricher = c.TMDB
	}
	return api.NewHandlers(c.cfg, deps, c.logger)
}

// DB exposes the catalog database for setup commands.
func (c *Client) DB() database.Database { return c.db }

// Close releases the vector store, the local embedder if any, and the
// database connection.
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
