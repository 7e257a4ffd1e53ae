// ABOUTME: JWT issuance and verification for bearer-token authentication
// ABOUTME: HS256 with a signing secret persisted once at first run

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/privatellm/pllm-gateway/internal/store"
)

// Claims is the token payload: subject (username), issue/expiry times, and
// the permission set at issuance.
type Claims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions"`
}

// TokenService issues and verifies signed, time-bounded bearer tokens. The
// signing secret is immutable for the process lifetime; rotating it
// invalidates every outstanding token.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	users  *store.UserStore
}

// NewTokenService creates a token service signing with secret and issuing
// tokens valid for ttl. The user store is consulted on verification so that
// tokens for deactivated or deleted users are rejected even while
// cryptographically valid.
func NewTokenService(secret []byte, ttl time.Duration, users *store.UserStore) *TokenService {
	return &TokenService{secret: secret, ttl: ttl, users: users}
}

// Issue produces a signed token for the user embedding subject, issue and
// expiry times, and the user's permissions.
func (t *TokenService) Issue(user *store.User) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Permissions: append([]string(nil), user.Permissions...),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of a token and confirms the named
// user still exists and is active. An expired but correctly signed token
// yields ErrTokenExpired; a bad signature or malformed payload yields
// ErrTokenInvalid; a token for a missing user yields ErrTokenInvalid and for
// a deactivated user ErrAccountInactive.
func (t *TokenService) Verify(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	user, err := t.users.Get(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown subject", ErrTokenInvalid)
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	return principalFromUser(user), nil
}
