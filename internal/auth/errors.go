// ABOUTME: Typed authentication outcomes returned to the calling gateway
// ABOUTME: Every denial is a sentinel error; none is raised as a panic

package auth

import (
	"errors"

	"github.com/privatellm/pllm-gateway/internal/store"
)

// Authentication and authorization outcomes. All are recoverable-by-design
// and returned as typed errors; callers test with errors.Is. Persistence
// failures surface as store.ErrPersistence and are fail-closed.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccountInactive      = errors.New("account inactive")
	ErrAccountLocked        = errors.New("account locked")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrPermissionDenied     = errors.New("permission denied")

	// Token outcomes. Both map to "authentication failed" at the caller-visible
	// surface but stay distinguishable for diagnostics.
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")

	// Session outcomes are shared with the session store.
	ErrSessionExpired = store.ErrSessionExpired
	ErrSessionRevoked = store.ErrSessionRevoked
)
