package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hermesindex/hermes/infrastructure/api/middleware"
	"github.com/hermesindex/hermes/infrastructure/postgres"
)

// TorrentFiles handles GET /torrent_files.
func (h *Handlers) TorrentFiles(w http.ResponseWriter, r *http.Request) {
	if h.deps.Enrich == nil {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "integration schema is not configured", h.logger)
		return
	}
	infoHash := strings.TrimSpace(r.URL.Query().Get("info_hash"))
	if infoHash == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "info_hash is required", h.logger)
		return
	}
	files, err := h.deps.Enrich.FetchTorrentFiles(r.Context(), infoHash)
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, err.Error(), h.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"info_hash": infoHash,
		"count":     len(files),
		"files":     files,
	})
}

// TMDBLatest handles GET /tmdb_latest.
func (h *Handlers) TMDBLatest(w http.ResponseWriter, r *http.Request) {
	if h.deps.Enrich == nil {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "integration schema is not configured", h.logger)
		return
	}
	limit, ok := queryInt(r, "limit", 50, 1, maxPageSize)
	if !ok {
		middleware.WriteError(w, r, http.StatusBadRequest, "limit must be between 1 and 100", h.logger)
		return
	}
	items, err := h.deps.Enrich.FetchLatestTMDB(r.Context(), limit)
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, err.Error(), h.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

// TMDBDetail handles GET /tmdb_detail. A miss triggers a one-off live
// enrichment when TMDB is enabled, then the row is read back.
func (h *Handlers) TMDBDetail(w http.ResponseWriter, r *http.Request) {
	if h.deps.Enrich == nil {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "integration schema is not configured", h.logger)
		return
	}
	tmdbID := strings.TrimSpace(r.URL.Query().Get("tmdb_id"))
	if tmdbID == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "tmdb_id is required", h.logger)
		return
	}
	contentType := r.URL.Query().Get("content_type")
	if contentType == "" {
		contentType = "movie"
	}

	detail, err := h.deps.Enrich.FetchTMDBDetail(r.Context(), contentType, tmdbID)
	if err != nil {
		middleware.WriteError(w, r, http.StatusInternalServerError, err.Error(), h.logger)
		return
	}
	if detail == nil && h.deps.Enricher != nil && h.cfg.TMDB.Enabled {
		ref := postgres.TMDBRef{ContentType: contentType, TMDBID: tmdbID}
		if err := h.deps.Enricher.EnrichOne(r.Context(), ref); err != nil {
			h.logger.Warn("live tmdb enrichment failed",
				slog.String("tmdb_id", tmdbID),
				slog.String("error", err.Error()),
			)
		} else if detail, err = h.deps.Enrich.FetchTMDBDetail(r.Context(), contentType, tmdbID); err != nil {
			middleware.WriteError(w, r, http.StatusInternalServerError, err.Error(), h.logger)
			return
		}
	}
	if detail == nil {
		middleware.WriteError(w, r, http.StatusNotFound, "tmdb record not found", h.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, detail)
}
