package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

// userKey carries the authenticated username through the request context.
const userKey contextKey = "auth.user"

// TokenResolver maps a bearer token to its username.
type TokenResolver interface {
	Resolve(token string) (string, bool)
}

// BearerAuth rejects requests without a valid bearer token. Paths listed in
// skip pass through unauthenticated.
func BearerAuth(tokens TokenResolver, logger *slog.Logger, skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]bool, len(skip))
	for _, path := range skip {
		skipped[path] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			token := bearerToken(r)
			if token == "" {
				WriteError(w, r, http.StatusUnauthorized, "missing bearer token", logger)
				return
			}
			username, ok := tokens.Resolve(token)
			if !ok {
				WriteError(w, r, http.StatusUnauthorized, "invalid or expired token", logger)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), username)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// WithUser stores the authenticated username in ctx.
func WithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey, username)
}

// User returns the authenticated username, or "" when auth is disabled.
func User(ctx context.Context) string {
	if username, ok := ctx.Value(userKey).(string); ok {
		return username
	}
	return ""
}
