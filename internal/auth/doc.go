// ABOUTME: Package documentation for the authentication core
// ABOUTME: Describes credential precedence and the typed error contract

// Package auth resolves request credentials into authenticated principals
// and owns the account, session, and token lifecycle.
//
// Credentials are dispatched through a fixed precedence chain: a Bearer
// Authorization header is tried first as a signed token, then as an opaque
// API key; when bearer material is present the session cookie is never
// consulted, even if the bearer credential is invalid. Requests with no
// bearer header fall through to session-cookie validation. Only after a
// credential resolves successfully is the per-identity rate limit checked.
//
// Every denial is a typed sentinel error (ErrAuthenticationFailed,
// ErrAccountLocked, ErrRateLimitExceeded, ...) suitable for errors.Is; the
// HTTP layer maps these to status codes via StatusForError. Failures of the
// underlying stores are fail-closed: a persistence error denies the request
// rather than falling back to stale state.
package auth
