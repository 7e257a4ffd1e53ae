// ABOUTME: HTTP surface of the gateway: auth endpoints, admin API, health
// ABOUTME: Routes are wired onto a stdlib mux with auth middleware per group

package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/privatellm/pllm-gateway/internal/auth"
)

// Server exposes the authentication core over HTTP.
type Server struct {
	svc    *auth.Service
	http   *http.Server
	logger *slog.Logger
}

// New builds the HTTP server listening on addr.
func New(addr string, svc *auth.Service) *Server {
	s := &Server{
		svc:    svc,
		logger: slog.Default().With("component", "httpapi"),
	}

	mux := http.NewServeMux()

	// Unauthenticated surface.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	// Authenticated self-service surface.
	authed := auth.Middleware(svc)
	mux.Handle("POST /auth/logout", authed(http.HandlerFunc(s.handleLogout)))
	mux.Handle("GET /auth/me", authed(http.HandlerFunc(s.handleMe)))
	mux.Handle("GET /auth/sessions", authed(http.HandlerFunc(s.handleSessions)))

	// Admin surface.
	admin := auth.Middleware(svc, "admin")
	mux.Handle("GET /admin/users", admin(http.HandlerFunc(s.handleListUsers)))
	mux.Handle("GET /admin/users/{username}", admin(http.HandlerFunc(s.handleGetUser)))
	mux.Handle("POST /admin/users", admin(http.HandlerFunc(s.handleCreateUser)))
	mux.Handle("DELETE /admin/users/{username}", admin(http.HandlerFunc(s.handleDeleteUser)))
	mux.Handle("POST /admin/users/{username}/keys", admin(http.HandlerFunc(s.handleIssueKey)))
	mux.Handle("DELETE /admin/users/{username}/keys", admin(http.HandlerFunc(s.handleRevokeKey)))
	mux.Handle("GET /admin/audit", admin(http.HandlerFunc(s.handleAudit)))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving requests until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
