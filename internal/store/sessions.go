// ABOUTME: Encrypted session store with lazy expiry, cascade revocation, and sweep
// ABOUTME: Session ids are fresh 256-bit random values, never reused

package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/privatellm/pllm-gateway/internal/cryptofile"
)

// SessionStore is the durable, encrypted mapping from session id to session
// record. Mutations flush before reporting success; on flush failure the
// in-memory change is rolled back so memory and disk stay consistent.
type SessionStore struct {
	mu       sync.RWMutex
	path     string
	key      []byte
	sessions map[string]*Session
	logger   *slog.Logger
}

// OpenSessionStore loads the encrypted session store at path. A missing file
// is an empty store; an undecryptable file is ErrCorruptStore.
func OpenSessionStore(path string, key []byte) (*SessionStore, error) {
	s := &SessionStore{
		path:     path,
		key:      key,
		sessions: make(map[string]*Session),
		logger:   slog.Default().With("component", "session-store"),
	}

	err := cryptofile.LoadEncrypted(path, key, &s.sessions)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
	case errors.Is(err, cryptofile.ErrCorrupt):
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	default:
		return nil, fmt.Errorf("loading session store: %w", err)
	}

	s.logger.Info("session store loaded", "path", path, "sessions", len(s.sessions))
	return s, nil
}

func (s *SessionStore) persistLocked() error {
	if err := cryptofile.SaveEncrypted(s.path, s.key, s.sessions); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// newSessionID returns a fresh unguessable session id (256 bits of entropy).
func newSessionID() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Count returns the number of session records, active or not.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Get returns a copy of the session record without validating it.
func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Create issues a new session for the user with the given TTL, bound to the
// caller's IP and (truncated) user agent, and flushes it.
func (s *SessionStore) Create(userID, ipAddress, userAgent string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %v", ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for {
		var err error
		id, err = newSessionID()
		if err != nil {
			return nil, err
		}
		if _, taken := s.sessions[id]; !taken {
			break
		}
	}

	now := time.Now()
	session := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		IPAddress: ipAddress,
		UserAgent: truncateUserAgent(userAgent),
		IsActive:  true,
	}

	s.sessions[id] = session
	if err := s.persistLocked(); err != nil {
		delete(s.sessions, id)
		return nil, err
	}

	s.logger.Debug("created session", "user_id", userID, "expires_at", session.ExpiresAt)
	return session.Clone(), nil
}

// Validate checks existence, expiry, and activity of a session. Expiry
// dominates: once past ExpiresAt every validation reports ErrSessionExpired,
// with the first one lazily deactivating and flushing the record. When
// strictIP is set the recorded IP must match the request's IP.
func (s *SessionStore) Validate(id, ipAddress string, strictIP bool) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	if !time.Now().Before(session.ExpiresAt) {
		if session.IsActive {
			next := session.Clone()
			next.IsActive = false
			s.sessions[id] = next
			if err := s.persistLocked(); err != nil {
				// Deny either way; roll back so memory matches disk. Time only
				// moves forward, so the next validation deactivates again.
				s.sessions[id] = session
				s.logger.Error("failed to persist session expiry", "error", err)
			}
		}
		return nil, ErrSessionExpired
	}

	if !session.IsActive {
		return nil, ErrSessionRevoked
	}

	if strictIP && session.IPAddress != ipAddress {
		return nil, ErrIPMismatch
	}

	return session.Clone(), nil
}

// Revoke marks a session inactive and flushes. Revoking an unknown session
// is not an error. The deactivation is terminal: no path reactivates it.
func (s *SessionStore) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.sessions[id]
	if !ok || !prev.IsActive {
		return nil
	}

	next := prev.Clone()
	next.IsActive = false

	s.sessions[id] = next
	if err := s.persistLocked(); err != nil {
		s.sessions[id] = prev
		return err
	}

	s.logger.Info("revoked session", "user_id", prev.UserID)
	return nil
}

// RevokeAllForUser marks every session belonging to the user inactive and
// flushes once. Used as the cascade when a user is deleted.
func (s *SessionStore) RevokeAllForUser(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev []*Session
	revoked := 0
	for id, session := range s.sessions {
		if session.UserID != userID || !session.IsActive {
			continue
		}
		prev = append(prev, session)
		next := session.Clone()
		next.IsActive = false
		s.sessions[id] = next
		revoked++
	}

	if revoked == 0 {
		return 0, nil
	}

	if err := s.persistLocked(); err != nil {
		for _, session := range prev {
			s.sessions[session.ID] = session
		}
		return 0, err
	}

	s.logger.Info("revoked user sessions", "user_id", userID, "count", revoked)
	return revoked, nil
}

// ActiveForUser returns sanitized views of the user's active sessions,
// newest first.
func (s *SessionStore) ActiveForUser(userID string) []*SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var infos []*SessionInfo
	for _, session := range s.sessions {
		if session.UserID == userID && session.IsActive {
			infos = append(infos, session.Info())
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos
}

// Sweep deletes session records whose expiry has passed and flushes if any
// were removed. This is the physical garbage collection; logical
// deactivation happens lazily in Validate.
func (s *SessionStore) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expired []*Session
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(now) {
			expired = append(expired, session)
			delete(s.sessions, id)
		}
	}

	if len(expired) == 0 {
		return 0, nil
	}

	if err := s.persistLocked(); err != nil {
		for _, session := range expired {
			s.sessions[session.ID] = session
		}
		return 0, err
	}

	s.logger.Debug("swept expired sessions", "count", len(expired))
	return len(expired), nil
}
