// ABOUTME: Request handlers for the auth, admin, and health endpoints
// ABOUTME: Thin JSON adapters over the authentication service

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/privatellm/pllm-gateway/internal/audit"
	"github.com/privatellm/pllm-gateway/internal/auth"
	"github.com/privatellm/pllm-gateway/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	SessionID string          `json:"session_id"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      *auth.Principal `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	creds := auth.CredentialsFromRequest(r)
	result, err := s.svc.Login(req.Username, req.Password, creds.IPAddress, creds.UserAgent)
	if err != nil {
		auth.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    result.Session.ID,
		Path:     "/",
		Expires:  result.Session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		SessionID: result.Session.ID,
		ExpiresAt: result.Session.ExpiresAt,
		User:      result.Principal,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal := auth.FromContext(r.Context())

	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil && cookie.Value != "" {
		if err := s.svc.RevokeSession(principal.Username, cookie.Value); err != nil {
			auth.WriteError(w, err)
			return
		}
	}

	// Expire the cookie client-side regardless of which credential was used.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := auth.FromContext(r.Context())

	info, err := s.svc.UserInfo(principal.Username)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	principal := auth.FromContext(r.Context())
	writeJSON(w, http.StatusOK, s.svc.ActiveSessions(principal.Username))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ListUsers())
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.UserInfo(r.PathValue("username"))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type createUserRequest struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Permissions []string `json:"permissions"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}

	actor := auth.FromContext(r.Context()).Username
	info, err := s.svc.CreateUser(actor, req.Username, req.Password, req.Permissions)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "user already exists"})
			return
		}
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	actor := auth.FromContext(r.Context()).Username

	if err := s.svc.DeleteUser(actor, username); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	actor := auth.FromContext(r.Context()).Username

	key, err := s.svc.IssueAPIKey(actor, username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		auth.WriteError(w, err)
		return
	}
	// The raw key appears in this response only; the store is its sole holder
	// afterwards and sanitized views never include it.
	writeJSON(w, http.StatusCreated, map[string]string{"api_key": key})
}

type revokeKeyRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	actor := auth.FromContext(r.Context()).Username

	var req revokeKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key is required"})
		return
	}

	if err := s.svc.RevokeAPIKey(actor, username, req.Key); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	log := s.svc.AuditLog()
	if log == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit log disabled"})
		return
	}

	var f audit.Filter
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		f.Since = &since
	}
	if v := q.Get("actor"); v != "" {
		f.Actor = &v
	}
	if v := q.Get("action"); v != "" {
		a := audit.Action(v)
		f.Action = &a
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		f.Limit = limit
	}

	entries, err := log.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
