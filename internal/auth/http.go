// ABOUTME: HTTP middleware bridging requests into the authentication service
// ABOUTME: Extracts credentials, maps typed denials to status codes

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/privatellm/pllm-gateway/internal/store"
)

// SessionCookieName is the cookie carrying the opaque session identifier.
const SessionCookieName = "session_id"

// StatusForError maps an authentication outcome to an HTTP status code.
// Unknown errors (persistence, corruption) map to 500, never to a silent
// allow.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrAccountInactive):
		return http.StatusForbidden
	case errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionRevoked),
		errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrIPMismatch),
		errors.Is(err, store.ErrUserNotFound):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes a JSON error body with the status mapped from err. The
// message is the sentinel text only; internal detail stays in the logs.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// CredentialsFromRequest extracts the raw credential material the service
// dispatches on: Authorization header, session cookie, client IP, user agent.
func CredentialsFromRequest(r *http.Request) Credentials {
	creds := Credentials{
		Authorization: r.Header.Get("Authorization"),
		IPAddress:     clientIP(r),
		UserAgent:     r.UserAgent(),
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		creds.SessionID = cookie.Value
	}
	return creds
}

// clientIP strips the port from RemoteAddr. Proxy headers are deliberately
// not consulted; the gateway terminates connections directly.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Authenticator is the gate the HTTP layer composes over: raw credential
// material in, principal or typed denial out.
type Authenticator interface {
	Authenticate(creds Credentials, endpoint string) (*Principal, error)
}

// Middleware authenticates every request through the gate and requires the
// principal to hold at least one of the listed permissions (none means any
// authenticated principal passes). The principal is attached to the request
// context for handlers.
func Middleware(svc Authenticator, required ...string) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := CredentialsFromRequest(r)

			principal, err := svc.Authenticate(creds, r.URL.Path)
			if err != nil {
				logger.Debug("request denied", "path", r.URL.Path, "ip", creds.IPAddress, "error", err)
				WriteError(w, err)
				return
			}

			if !principal.HasAny(required...) {
				logger.Warn("permission denied", "username", principal.Username, "path", r.URL.Path, "required", required)
				WriteError(w, ErrPermissionDenied)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
