package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/hermesindex/hermes/application/service"
	"github.com/hermesindex/hermes/infrastructure/api/middleware"
)

// maxPageSize bounds topk, page_size, and limit parameters.
const maxPageSize = 100

// Search handles GET /search.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "q is required", h.logger)
		return
	}
	topk, ok := queryInt(r, "topk", 20, 1, maxPageSize)
	if !ok {
		middleware.WriteError(w, r, http.StatusBadRequest, "topk must be between 1 and 100", h.logger)
		return
	}
	pageSize, ok := queryInt(r, "page_size", 20, 1, maxPageSize)
	if !ok {
		middleware.WriteError(w, r, http.StatusBadRequest, "page_size must be between 1 and 100", h.logger)
		return
	}
	cursor, ok := queryInt(r, "cursor", 0, 0, 1<<30)
	if !ok {
		middleware.WriteError(w, r, http.StatusBadRequest, "cursor must be a non-negative integer", h.logger)
		return
	}
	sizeSort := r.URL.Query().Get("size_sort")
	switch sizeSort {
	case "", "asc", "desc":
	default:
		middleware.WriteError(w, r, http.StatusBadRequest, "size_sort must be asc or desc", h.logger)
		return
	}
	var sizeMinGB float64
	if raw := r.URL.Query().Get("size_min_gb"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			middleware.WriteError(w, r, http.StatusBadRequest, "size_min_gb must be a non-negative number", h.logger)
			return
		}
		sizeMinGB = parsed
	}

	resp, err := h.deps.Search.Search(r.Context(), service.SearchParams{
		Query:    q,
		TopK:     topk,
		PageSize: pageSize,
		Cursor:   cursor,
		// NSFW results are opt-in: only an explicit false serves them.
		ExcludeNSFW: queryBool(r, "exclude_nsfw", true),
		TMDBOnly:    queryBool(r, "tmdb_only", false),
		SizeMinGB:   sizeMinGB,
		SizeSort:    sizeSort,
	})
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuery) {
			middleware.WriteError(w, r, http.StatusBadRequest, err.Error(), h.logger)
			return
		}
		middleware.WriteError(w, r, http.StatusInternalServerError, err.Error(), h.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// SearchKeyword handles GET /search_keyword.
func (h *Handlers) SearchKeyword(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "q is required", h.logger)
		return
	}
	// Same parameter vocabulary as /search: page_size, with topk and the
	// legacy limit tolerated as aliases.
	limit := 20
	for _, name := range []string{"page_size", "topk", "limit"} {
		n, ok := queryInt(r, name, 0, 1, maxPageSize)
		if !ok {
			middleware.WriteError(w, r, http.StatusBadRequest, name+" must be between 1 and 100", h.logger)
			return
		}
		if n != 0 {
			limit = n
			break
		}
	}
	var sources []string
	if raw := r.URL.Query().Get("sources"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				sources = append(sources, name)
			}
		}
	}

	resp, err := h.deps.Keyword.Search(r.Context(), q, limit, sources)
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuery) {
			middleware.WriteError(w, r, http.StatusBadRequest, err.Error(), h.logger)
			return
		}
		middleware.WriteError(w, r, http.StatusInternalServerError, err.Error(), h.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
