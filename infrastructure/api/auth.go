package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hermesindex/hermes/infrastructure/api/middleware"
	"github.com/hermesindex/hermes/infrastructure/auth"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if h.deps.Users == nil || h.deps.Tokens == nil {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "authentication is not configured", h.logger)
		return
	}
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if err := h.deps.Users.Verify(body.Username, body.Password); err != nil {
		middleware.WriteError(w, r, http.StatusUnauthorized, "invalid credentials", h.logger)
		return
	}
	token := h.deps.Tokens.Issue(body.Username)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"token":              token,
		"username":           body.Username,
		"is_admin":           h.deps.Users.IsAdmin(body.Username),
		"expires_in_seconds": int(h.cfg.Auth.TokenTTL().Seconds()),
	})
}

// Me handles GET /auth/me.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	username := middleware.User(r.Context())
	isAdmin := false
	if h.deps.Users != nil {
		isAdmin = h.deps.Users.IsAdmin(username)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"username": username,
		"is_admin": isAdmin,
	})
}

// ListUsers handles GET /auth/users. Admin only.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"users": h.deps.Users.List()})
}

// AddUser handles POST /auth/users. Admin only.
func (h *Handlers) AddUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	if err := h.deps.Users.Add(body.Username, body.Password); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, err.Error(), h.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]string{"username": body.Username})
}

// DeleteUser handles DELETE /auth/users/{username}. Admin only.
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	username := chi.URLParam(r, "username")
	if err := h.deps.Users.Delete(username); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		middleware.WriteError(w, r, status, err.Error(), h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type passwordChange struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChangePassword handles POST /auth/password. Users change their own
// password; the admin may change anyone's.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if h.deps.Users == nil {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "authentication is not configured", h.logger)
		return
	}
	var body passwordChange
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid request body", h.logger)
		return
	}
	caller := middleware.User(r.Context())
	target := body.Username
	if target == "" {
		target = caller
	}
	if target != caller && !h.deps.Users.IsAdmin(caller) {
		middleware.WriteError(w, r, http.StatusForbidden, "admin required", h.logger)
		return
	}
	if err := h.deps.Users.SetPassword(target, body.Password); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, err.Error(), h.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdmin enforces admin access on user management routes.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.deps.Users == nil {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "authentication is not configured", h.logger)
		return false
	}
	if !h.deps.Users.IsAdmin(middleware.User(r.Context())) {
		middleware.WriteError(w, r, http.StatusForbidden, "admin required", h.logger)
		return false
	}
	return true
}
