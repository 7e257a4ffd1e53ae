// ABOUTME: Record types, sentinel errors, and sanitized views for auth persistence
// ABOUTME: Defines User and Session structs shared by the encrypted stores

package store

import (
	"errors"
	"time"
)

// Store errors. ErrPersistence is fail-closed: a mutation that cannot be
// durably written reports it instead of succeeding in memory only.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrDuplicateUser   = errors.New("user already exists")
	ErrDuplicateKey    = errors.New("api key already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrIPMismatch      = errors.New("session ip mismatch")
	ErrPersistence     = errors.New("persistence failure")
	ErrCorruptStore    = errors.New("store file is corrupt")
)

// maxUserAgentLen bounds the stored user agent string.
const maxUserAgentLen = 200

// User is an identity record. The password hash is a bcrypt hash and is only
// ever compared through bcrypt's verify routine.
type User struct {
	Username     string     `json:"username"`
	PasswordHash string     `json:"password_hash"`
	APIKeys      []string   `json:"api_keys"`
	Permissions  []string   `json:"permissions"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login"`
	IsActive     bool       `json:"is_active"`
	RateLimit    int        `json:"rate_limit"` // max requests per rolling hour
}

// Clone returns a deep copy of the user record.
func (u *User) Clone() *User {
	c := *u
	c.APIKeys = append([]string(nil), u.APIKeys...)
	c.Permissions = append([]string(nil), u.Permissions...)
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

// Session is a short-lived authenticated context created by password login.
// Once IsActive transitions to false it never returns to true.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	IsActive  bool      `json:"is_active"`
}

// Clone returns a copy of the session record.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// UserInfo is the sanitized account view exposed to collaborators. It never
// carries the password hash or raw API keys.
type UserInfo struct {
	Username    string     `json:"username"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	IsActive    bool       `json:"is_active"`
	APIKeyCount int        `json:"api_key_count"`
	RateLimit   int        `json:"rate_limit"`
}

// Info returns the sanitized view of the user.
func (u *User) Info() *UserInfo {
	info := &UserInfo{
		Username:    u.Username,
		Permissions: append([]string(nil), u.Permissions...),
		CreatedAt:   u.CreatedAt,
		IsActive:    u.IsActive,
		APIKeyCount: len(u.APIKeys),
		RateLimit:   u.RateLimit,
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		info.LastLogin = &t
	}
	return info
}

// SessionInfo is the sanitized session view: the id is truncated so the view
// can never be replayed as a credential.
type SessionInfo struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
}

// Info returns the sanitized view of the session.
func (s *Session) Info() *SessionInfo {
	id := s.ID
	if len(id) > 8 {
		id = id[:8] + "..."
	}
	ua := s.UserAgent
	if len(ua) > 50 {
		ua = ua[:50] + "..."
	}
	return &SessionInfo{
		ID:        id,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		IPAddress: s.IPAddress,
		UserAgent: ua,
	}
}

func truncateUserAgent(ua string) string {
	if len(ua) > maxUserAgentLen {
		return ua[:maxUserAgentLen]
	}
	return ua
}
