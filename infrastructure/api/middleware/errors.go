// Package middleware provides HTTP middleware and response helpers for the
// API server.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error body. Server-side errors are logged with the
// request path; the detail is still returned so operators can debug against
// their own deployment.
func WriteError(w http.ResponseWriter, r *http.Request, status int, detail string, logger *slog.Logger) {
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("detail", detail),
		)
	}
	WriteJSON(w, status, map[string]string{"detail": detail})
}
