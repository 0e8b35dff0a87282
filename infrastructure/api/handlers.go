package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hermesindex/hermes/application/service"
	"github.com/hermesindex/hermes/infrastructure/api/middleware"
	"github.com/hermesindex/hermes/infrastructure/auth"
	"github.com/hermesindex/hermes/infrastructure/postgres"
	"github.com/hermesindex/hermes/internal/config"
)

// SearchService answers hybrid search requests.
type SearchService interface {
	Search(ctx context.Context, params service.SearchParams) (service.SearchResponse, error)
}

// KeywordService answers keyword-only search requests.
type KeywordService interface {
	Search(ctx context.Context, q string, limit int, sources []string) (service.SearchResponse, error)
}

// StatusProvider serves the cached sync status snapshot.
type StatusProvider interface {
	Snapshot() service.StatusSnapshot
}

// IndexSizer reports the live size of the vector index.
type IndexSizer interface {
	Size(ctx context.Context) (int, error)
}

// EnrichmentReader reads the TMDB and torrent integration tables.
type EnrichmentReader interface {
	FetchTorrentFiles(ctx context.Context, infoHash string) ([]postgres.TorrentFile, error)
	FetchLatestTMDB(ctx context.Context, limit int) ([]postgres.LatestTMDBItem, error)
	FetchTMDBDetail(ctx context.Context, contentType, tmdbID string) (*postgres.TMDBDetail, error)
}

// DetailEnricher fetches one TMDB record on demand when a detail read misses.
type DetailEnricher interface {
	EnrichOne(ctx context.Context, ref postgres.TMDBRef) error
}

// HandlerDeps collects everything the handlers call into. Enrich, Enricher,
// Users, and Tokens are optional.
type HandlerDeps struct {
	Search   SearchService
	Keyword  KeywordService
	Status   StatusProvider
	Index    IndexSizer
	Enrich   EnrichmentReader
	Enricher DetailEnricher
	Users    *auth.UserStore
	Tokens   *auth.TokenStore
}

// Handlers implements the HTTP endpoints.
type Handlers struct {
	cfg    config.Config
	deps   HandlerDeps
	logger *slog.Logger
}

// NewHandlers creates the endpoint set.
func NewHandlers(cfg config.Config, deps HandlerDeps, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{cfg: cfg, deps: deps, logger: logger}
}

// Mount registers all routes. Health and login stay reachable without a
// token; everything else sits behind bearer auth when it is enabled.
func (h *Handlers) Mount(router chi.Router) {
	router.Get("/health", h.Health)
	router.Post("/auth/login", h.Login)

	router.Group(func(r chi.Router) {
		if h.cfg.Auth.Enabled && h.deps.Tokens != nil {
			r.Use(middleware.BearerAuth(h.deps.Tokens, h.logger))
		}
		r.Get("/search", h.Search)
		r.Get("/search_keyword", h.SearchKeyword)
		r.Get("/torrent_files", h.TorrentFiles)
		r.Get("/tmdb_latest", h.TMDBLatest)
		r.Get("/tmdb_detail", h.TMDBDetail)
		r.Get("/sync_status", h.SyncStatus)
		r.Get("/auth/me", h.Me)
		r.Get("/auth/users", h.ListUsers)
		r.Post("/auth/users", h.AddUser)
		r.Delete("/auth/users/{username}", h.DeleteUser)
		r.Post("/auth/password", h.ChangePassword)
	})
}

// Health reports liveness plus the index size and model version so operators
// can eyeball a deployment in one request.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	size := 0
	if h.deps.Index != nil {
		n, err := h.deps.Index.Size(r.Context())
		if err != nil {
			h.logger.Warn("index size failed", slog.String("error", err.Error()))
		} else {
			size = n
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":                  "ok",
		"vector_index_size":       size,
		"embedding_model_version": h.cfg.EmbeddingModelVersion,
	})
}

// SyncStatus serves the cached sync and enrichment snapshot.
func (h *Handlers) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Status == nil {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "status reporting is not configured", h.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, h.deps.Status.Snapshot())
}

// queryInt parses an integer query parameter clamped to [lo, hi].
func queryInt(r *http.Request, name string, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

// queryBool parses a boolean query parameter, keeping def when the parameter
// is absent or unrecognized.
func queryBool(r *http.Request, name string, def bool) bool {
	switch r.URL.Query().Get(name) {
	case "1", "true", "True", "yes":
		return true
	case "0", "false", "False", "no":
		return false
	}
	return def
}
