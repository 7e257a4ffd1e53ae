// ABOUTME: Encrypted user store mapping username to user record
// ABOUTME: All mutations flush to disk before reporting success (fail-closed)

package store

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/privatellm/pllm-gateway/internal/cryptofile"
)

// UserStore is the durable, encrypted mapping from username to user record.
// It is the sole writer of user records: every mutation funnels through a
// method that flushes the full state before the mutation reports success.
type UserStore struct {
	mu     sync.RWMutex
	path   string
	key    []byte
	users  map[string]*User
	logger *slog.Logger
}

// OpenUserStore loads the encrypted user store at path, decrypting with key.
// A missing file is an empty store; a file that exists but cannot be
// decrypted is reported as ErrCorruptStore, never treated as empty.
func OpenUserStore(path string, key []byte) (*UserStore, error) {
	s := &UserStore{
		path:   path,
		key:    key,
		users:  make(map[string]*User),
		logger: slog.Default().With("component", "user-store"),
	}

	err := cryptofile.LoadEncrypted(path, key, &s.users)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		// First run, nothing persisted yet.
	case errors.Is(err, cryptofile.ErrCorrupt):
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	default:
		return nil, fmt.Errorf("loading user store: %w", err)
	}

	s.logger.Info("user store loaded", "path", path, "users", len(s.users))
	return s, nil
}

// persistLocked flushes the full state to the encrypted file. Must be called
// with mu held for writing.
func (s *UserStore) persistLocked() error {
	if err := cryptofile.SaveEncrypted(s.path, s.key, s.users); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Count returns the number of user records.
func (s *UserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Get returns a copy of the named user record.
func (s *UserStore) Get(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user.Clone(), nil
}

// All returns copies of every user record, ordered by username.
func (s *UserStore) All() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u.Clone())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// Create adds a new user record and flushes. Returns ErrDuplicateUser if the
// username is taken and ErrDuplicateKey if an initial key is already held by
// another user. On flush failure the in-memory state is rolled back and
// ErrPersistence returned.
func (s *UserStore) Create(user *User) error {
	if user.Username == "" {
		return fmt.Errorf("username must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return ErrDuplicateUser
	}

	// Initial keys honor the same global uniqueness as AddAPIKey
	for _, key := range user.APIKeys {
		for _, u := range s.users {
			for _, k := range u.APIKeys {
				if k == key {
					return ErrDuplicateKey
				}
			}
		}
	}

	s.users[user.Username] = user.Clone()
	if err := s.persistLocked(); err != nil {
		delete(s.users, user.Username)
		return err
	}

	s.logger.Info("created user", "username", user.Username, "permissions", user.Permissions)
	return nil
}

// Delete removes a user record and flushes. Session cascade is the caller's
// responsibility (the auth service revokes the user's sessions).
func (s *UserStore) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}

	delete(s.users, username)
	if err := s.persistLocked(); err != nil {
		s.users[username] = prev
		return err
	}

	s.logger.Info("deleted user", "username", username)
	return nil
}

// Update applies mutate to a copy of the named record, swaps it in, and
// flushes. If mutate returns an error nothing changes; if the flush fails the
// previous record is restored.
func (s *UserStore) Update(username string, mutate func(*User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}

	next := prev.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	next.Username = username // the map key stays authoritative

	s.users[username] = next
	if err := s.persistLocked(); err != nil {
		s.users[username] = prev
		return err
	}
	return nil
}

// AddAPIKey appends a key to the user's key set and flushes. A key string is
// unique across all users: ErrDuplicateKey if any user already holds it.
func (s *UserStore) AddAPIKey(username, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}

	for _, u := range s.users {
		for _, k := range u.APIKeys {
			if k == key {
				return ErrDuplicateKey
			}
		}
	}

	next := prev.Clone()
	next.APIKeys = append(next.APIKeys, key)

	s.users[username] = next
	if err := s.persistLocked(); err != nil {
		s.users[username] = prev
		return err
	}

	s.logger.Info("issued api key", "username", username, "keys", len(next.APIKeys))
	return nil
}

// RemoveAPIKey removes a key from the user's key set if present. Removing an
// absent key is not an error (idempotent revoke).
func (s *UserStore) RemoveAPIKey(username, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}

	next := prev.Clone()
	removed := false
	kept := next.APIKeys[:0]
	for _, k := range next.APIKeys {
		if k == key {
			removed = true
			continue
		}
		kept = append(kept, k)
	}
	if !removed {
		return nil
	}
	next.APIKeys = kept

	s.users[username] = next
	if err := s.persistLocked(); err != nil {
		s.users[username] = prev
		return err
	}

	s.logger.Info("revoked api key", "username", username, "keys", len(next.APIKeys))
	return nil
}

// ResolveAPIKey finds the user owning the given key. The scan visits every
// key of every user with a constant-time comparison and no early exit, so the
// lookup time does not reveal which key (if any) matched.
func (s *UserStore) ResolveAPIKey(key string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyBytes := []byte(key)
	var match *User
	for _, u := range s.users {
		for _, k := range u.APIKeys {
			if subtle.ConstantTimeCompare(keyBytes, []byte(k)) == 1 {
				match = u
			}
		}
	}

	if match == nil {
		return nil, ErrUserNotFound
	}
	return match.Clone(), nil
}
