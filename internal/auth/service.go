// ABOUTME: Authentication service: credential dispatch, login, and lifecycle ops
// ABOUTME: Explicitly constructed and injected; replaces any ambient global state

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/privatellm/pllm-gateway/internal/audit"
	"github.com/privatellm/pllm-gateway/internal/limiter"
	"github.com/privatellm/pllm-gateway/internal/store"
)

// Defaults for the service options.
const (
	DefaultSessionTTL       = 24 * time.Hour
	DefaultTokenTTL         = 24 * time.Hour
	DefaultRateLimit        = 100  // requests per rolling hour for new users
	BootstrapRateLimit      = 1000 // requests per rolling hour for the admin
	DefaultLockoutThreshold = 5
	DefaultLockoutWindow    = time.Hour
	DefaultRateWindow       = time.Hour

	// BootstrapUsername is the account created on first run.
	BootstrapUsername = "admin"
)

// BootstrapPermissions is the permission set of the first-run admin account.
var BootstrapPermissions = []string{"admin", "chat", "models"}

// Options configures a Service. Zero values fall back to the defaults above.
type Options struct {
	SessionTTL       time.Duration
	DefaultRateLimit int
	LockoutThreshold int
	LockoutWindow    time.Duration
	RateWindow       time.Duration
	StrictSessionIP  bool // require session IP to match the request IP
}

func (o Options) withDefaults() Options {
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	if o.DefaultRateLimit <= 0 {
		o.DefaultRateLimit = DefaultRateLimit
	}
	if o.LockoutThreshold <= 0 {
		o.LockoutThreshold = DefaultLockoutThreshold
	}
	if o.LockoutWindow <= 0 {
		o.LockoutWindow = DefaultLockoutWindow
	}
	if o.RateWindow <= 0 {
		o.RateWindow = DefaultRateWindow
	}
	return o
}

// Credentials is the raw credential material the surrounding gateway
// extracts from a request.
type Credentials struct {
	Authorization string // raw Authorization header value, may be empty
	SessionID     string // session cookie value, may be empty
	IPAddress     string
	UserAgent     string
}

// LoginResult is what a successful password login returns: the principal, a
// fresh session, and a bearer token for API use.
type LoginResult struct {
	Principal *Principal
	Session   *store.Session
	Token     string
}

// BootstrapResult reports the credentials of a first-run admin account. The
// password is surfaced exactly once, here.
type BootstrapResult struct {
	Username          string
	Password          string
	APIKey            string
	PasswordGenerated bool
}

// Service resolves request credentials into principals and owns the
// account/session lifecycle. It is safe for concurrent use.
type Service struct {
	users    *store.UserStore
	sessions *store.SessionStore
	tokens   *TokenService
	limiter  *limiter.RateLimiter
	lockout  *limiter.Lockout
	audit    *audit.Log // nil disables auditing
	opts     Options
	logger   *slog.Logger
}

var _ Authenticator = (*Service)(nil)

// NewService wires the authentication core together. The audit log may be
// nil; recording is advisory and never blocks the auth path.
func NewService(users *store.UserStore, sessions *store.SessionStore, tokens *TokenService, auditLog *audit.Log, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		limiter:  limiter.NewRateLimiter(opts.RateWindow, 0),
		lockout:  limiter.NewLockout(opts.LockoutThreshold, opts.LockoutWindow, 0),
		audit:    auditLog,
		opts:     opts,
		logger:   slog.Default().With("component", "auth"),
	}
}

// recordAudit appends an audit entry, logging (not propagating) failures.
func (s *Service) recordAudit(action audit.Action, actor, target string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	entry := &audit.Entry{Actor: actor, Action: action, Target: target, Detail: detail}
	if err := s.audit.Record(context.Background(), entry); err != nil {
		s.logger.Warn("failed to record audit entry", "action", action, "error", err)
	}
}

// Bootstrap creates the default admin account if the credential store is
// empty: full permissions, one generated API key, and either the configured
// password or a generated one. Returns nil if the store already has users.
func (s *Service) Bootstrap(configuredPassword string) (*BootstrapResult, error) {
	if s.users.Count() > 0 {
		return nil, nil
	}

	password := configuredPassword
	generated := false
	if password == "" {
		var err error
		password, err = GeneratePassword()
		if err != nil {
			return nil, err
		}
		generated = true
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	apiKey, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	user := &store.User{
		Username:     BootstrapUsername,
		PasswordHash: hash,
		APIKeys:      []string{apiKey},
		Permissions:  append([]string(nil), BootstrapPermissions...),
		CreatedAt:    time.Now(),
		IsActive:     true,
		RateLimit:    BootstrapRateLimit,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}

	s.recordAudit(audit.ActionBootstrap, "system", BootstrapUsername, nil)
	s.logger.Info("bootstrapped default admin account", "username", BootstrapUsername)

	return &BootstrapResult{
		Username:          BootstrapUsername,
		Password:          password,
		APIKey:            apiKey,
		PasswordGenerated: generated,
	}, nil
}

// extractBearer returns the bearer credential from an Authorization header
// value, or empty if the header does not carry bearer material.
func extractBearer(authorization string) string {
	if !strings.HasPrefix(authorization, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authorization, "Bearer ")
}

// Authenticate resolves raw credential material into a principal through the
// fixed-precedence chain: bearer token, then API key with the same string,
// then session cookie. Bearer material takes absolute precedence: when
// present and invalid, the session cookie is never consulted. On success the
// rate limiter is checked for (identity, endpoint) before the principal is
// returned.
func (s *Service) Authenticate(creds Credentials, endpoint string) (*Principal, error) {
	principal, err := s.resolve(creds)
	if err != nil {
		return nil, err
	}

	if !s.limiter.Allow(principal.Username, endpoint, principal.RateLimit) {
		s.logger.Debug("rate limit exceeded", "username", principal.Username, "endpoint", endpoint)
		return nil, ErrRateLimitExceeded
	}

	return principal, nil
}

// resolve walks the credential precedence chain without rate limiting.
func (s *Service) resolve(creds Credentials) (*Principal, error) {
	if bearer := extractBearer(creds.Authorization); bearer != "" {
		if principal, err := s.tokens.Verify(bearer); err == nil {
			return principal, nil
		} else if errors.Is(err, ErrAccountInactive) {
			return nil, ErrAccountInactive
		}

		if principal, err := s.resolveAPIKey(bearer); err == nil {
			return principal, nil
		} else if errors.Is(err, ErrAccountInactive) {
			return nil, ErrAccountInactive
		}

		s.logger.Debug("bearer credential rejected", "api_key_shape", looksLikeAPIKey(bearer))
		return nil, ErrAuthenticationFailed
	}

	if creds.SessionID != "" {
		return s.resolveSession(creds)
	}

	return nil, ErrAuthenticationFailed
}

// resolveAPIKey maps an opaque key to its owner. The store scan is timing
// independent of which key matched.
func (s *Service) resolveAPIKey(key string) (*Principal, error) {
	user, err := s.users.ResolveAPIKey(key)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	return principalFromUser(user), nil
}

// resolveSession validates the session cookie and loads its user.
func (s *Service) resolveSession(creds Credentials) (*Principal, error) {
	session, err := s.sessions.Validate(creds.SessionID, creds.IPAddress, s.opts.StrictSessionIP)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSessionExpired):
		return nil, ErrSessionExpired
	case errors.Is(err, store.ErrSessionRevoked):
		return nil, ErrSessionRevoked
	default:
		return nil, ErrAuthenticationFailed
	}

	user, err := s.users.Get(session.UserID)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	return principalFromUser(user), nil
}

// Login authenticates a username/password pair and establishes a new
// session. The lockout guard is consulted before the slow hash comparison,
// so a locked identity never reaches bcrypt.
func (s *Service) Login(username, password, ipAddress, userAgent string) (*LoginResult, error) {
	if s.lockout.IsLocked(username) {
		s.recordAudit(audit.ActionLockout, username, username, map[string]any{"ip": ipAddress})
		return nil, ErrAccountLocked
	}

	user, err := s.users.Get(username)
	if err != nil {
		burnPasswordCheck(password)
		s.recordAudit(audit.ActionLoginFailed, username, username, map[string]any{"reason": "unknown user", "ip": ipAddress})
		return nil, ErrAuthenticationFailed
	}

	if !user.IsActive {
		burnPasswordCheck(password)
		return nil, ErrAccountInactive
	}

	if !verifyPassword(user.PasswordHash, password) {
		s.lockout.RecordFailure(username)
		s.recordAudit(audit.ActionLoginFailed, username, username, map[string]any{"reason": "bad password", "ip": ipAddress})
		return nil, ErrAuthenticationFailed
	}

	now := time.Now()
	if err := s.users.Update(username, func(u *store.User) error {
		u.LastLogin = &now
		return nil
	}); err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(username, ipAddress, userAgent, s.opts.SessionTTL)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	s.recordAudit(audit.ActionLogin, username, username, map[string]any{"ip": ipAddress})
	s.logger.Info("login successful", "username", username, "ip", ipAddress)

	return &LoginResult{
		Principal: principalFromUser(user),
		Session:   session,
		Token:     token,
	}, nil
}

// CreateUser registers a new account with the default rate limit.
func (s *Service) CreateUser(actor, username, password string, permissions []string) (*store.UserInfo, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	apiKey, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	user := &store.User{
		Username:     username,
		PasswordHash: hash,
		APIKeys:      []string{apiKey},
		Permissions:  append([]string(nil), permissions...),
		CreatedAt:    time.Now(),
		IsActive:     true,
		RateLimit:    s.opts.DefaultRateLimit,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}

	s.recordAudit(audit.ActionCreateUser, actor, username, map[string]any{"permissions": permissions})
	return user.Info(), nil
}

// DeleteUser removes an account and cascades: every session belonging to the
// user is marked inactive before the call reports success.
func (s *Service) DeleteUser(actor, username string) error {
	if err := s.users.Delete(username); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAllForUser(username); err != nil {
		return err
	}

	s.recordAudit(audit.ActionDeleteUser, actor, username, nil)
	return nil
}

// IssueAPIKey generates and attaches a new key to the user, returning the
// raw key (shown only once).
func (s *Service) IssueAPIKey(actor, username string) (string, error) {
	for {
		key, err := GenerateAPIKey()
		if err != nil {
			return "", err
		}
		err = s.users.AddAPIKey(username, key)
		if errors.Is(err, store.ErrDuplicateKey) {
			continue // astronomically unlikely collision, regenerate
		}
		if err != nil {
			return "", err
		}
		s.recordAudit(audit.ActionIssueKey, actor, username, nil)
		return key, nil
	}
}

// RevokeAPIKey removes a key from the user. Revoking an absent key is not an
// error.
func (s *Service) RevokeAPIKey(actor, username, key string) error {
	if err := s.users.RemoveAPIKey(username, key); err != nil {
		return err
	}
	s.recordAudit(audit.ActionRevokeKey, actor, username, nil)
	return nil
}

// RevokeSession marks a session inactive.
func (s *Service) RevokeSession(actor, sessionID string) error {
	if err := s.sessions.Revoke(sessionID); err != nil {
		return err
	}
	s.recordAudit(audit.ActionRevokeSession, actor, actor, nil)
	return nil
}

// SweepSessions removes physically expired session records. Intended to run
// periodically; see RunSessionSweeper.
func (s *Service) SweepSessions() (int, error) {
	return s.sessions.Sweep()
}

// RunSessionSweeper runs the periodic expired-session sweep until ctx is
// cancelled.
func (s *Service) RunSessionSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.SweepSessions(); err != nil {
				s.logger.Error("session sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Info("session sweep removed expired sessions", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// UserInfo returns the sanitized account view.
func (s *Service) UserInfo(username string) (*store.UserInfo, error) {
	user, err := s.users.Get(username)
	if err != nil {
		return nil, err
	}
	return user.Info(), nil
}

// ListUsers returns sanitized views of every account, ordered by username.
func (s *Service) ListUsers() []*store.UserInfo {
	users := s.users.All()
	infos := make([]*store.UserInfo, len(users))
	for i, u := range users {
		infos[i] = u.Info()
	}
	return infos
}

// ActiveSessions returns sanitized views of the user's active sessions.
func (s *Service) ActiveSessions(username string) []*store.SessionInfo {
	return s.sessions.ActiveForUser(username)
}

// AuditLog exposes the audit trail for introspection endpoints; may be nil.
func (s *Service) AuditLog() *audit.Log {
	return s.audit
}

// Tokens exposes the token service (the admin CLI issues tokens directly).
func (s *Service) Tokens() *TokenService {
	return s.tokens
}
