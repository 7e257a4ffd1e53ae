// ABOUTME: Tests for the encrypted session store
// ABOUTME: Covers validation, lazy expiry, revocation cascade, IP pinning, and sweep

package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSessionStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := OpenSessionStore(filepath.Join(t.TempDir(), "sessions.enc"), testStoreKey(t))
	require.NoError(t, err)
	return s
}

func TestSessionStore_CreateAndValidate(t *testing.T) {
	s := setupSessionStore(t)

	session, err := s.Create("alice", "10.0.0.1", "curl/8.0", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.True(t, session.IsActive)
	assert.Equal(t, "alice", session.UserID)

	got, err := s.Validate(session.ID, "10.0.0.1", false)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
}

func TestSessionStore_Create_RejectsNonPositiveTTL(t *testing.T) {
	s := setupSessionStore(t)

	_, err := s.Create("alice", "10.0.0.1", "curl/8.0", 0)
	assert.Error(t, err)
	_, err = s.Create("alice", "10.0.0.1", "curl/8.0", -time.Hour)
	assert.Error(t, err)
}

func TestSessionStore_Create_UniqueIDs(t *testing.T) {
	s := setupSessionStore(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		session, err := s.Create("alice", "10.0.0.1", "", time.Hour)
		require.NoError(t, err)
		assert.False(t, seen[session.ID])
		seen[session.ID] = true
	}
}

func TestSessionStore_Create_TruncatesUserAgent(t *testing.T) {
	s := setupSessionStore(t)

	long := strings.Repeat("x", 500)
	session, err := s.Create("alice", "10.0.0.1", long, time.Hour)
	require.NoError(t, err)
	assert.Len(t, session.UserAgent, maxUserAgentLen)
}

func TestSessionStore_Validate_NotFound(t *testing.T) {
	s := setupSessionStore(t)

	_, err := s.Validate("no-such-session", "10.0.0.1", false)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_Validate_Expired(t *testing.T) {
	s := setupSessionStore(t)

	session, err := s.Create("alice", "10.0.0.1", "", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = s.Validate(session.ID, "10.0.0.1", false)
	assert.ErrorIs(t, err, ErrSessionExpired)

	// Lazy deactivation: the record survives but is now inactive
	got, err := s.Get(session.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// Terminal state: every later validation reports the same expiry
	_, err = s.Validate(session.ID, "10.0.0.1", false)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = s.Validate(session.ID, "10.0.0.1", false)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionStore_Validate_StrictIP(t *testing.T) {
	s := setupSessionStore(t)

	session, err := s.Create("alice", "10.0.0.1", "", time.Hour)
	require.NoError(t, err)

	// Mismatch allowed when pinning is off
	_, err = s.Validate(session.ID, "192.168.1.1", false)
	require.NoError(t, err)

	_, err = s.Validate(session.ID, "192.168.1.1", true)
	assert.ErrorIs(t, err, ErrIPMismatch)

	_, err = s.Validate(session.ID, "10.0.0.1", true)
	assert.NoError(t, err)
}

func TestSessionStore_Revoke(t *testing.T) {
	s := setupSessionStore(t)

	session, err := s.Create("alice", "10.0.0.1", "", time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.Revoke(session.ID))
	_, err = s.Validate(session.ID, "10.0.0.1", false)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	// Idempotent: revoking again or revoking the unknown is fine
	require.NoError(t, s.Revoke(session.ID))
	require.NoError(t, s.Revoke("no-such-session"))
}

func TestSessionStore_RevokeAllForUser(t *testing.T) {
	s := setupSessionStore(t)

	a1, err := s.Create("alice", "10.0.0.1", "", time.Hour)
	require.NoError(t, err)
	a2, err := s.Create("alice", "10.0.0.2", "", time.Hour)
	require.NoError(t, err)
	b1, err := s.Create("bob", "10.0.0.3", "", time.Hour)
	require.NoError(t, err)

	n, err := s.RevokeAllForUser("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Validate(a1.ID, "10.0.0.1", false)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	_, err = s.Validate(a2.ID, "10.0.0.2", false)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	// Bob is untouched
	_, err = s.Validate(b1.ID, "10.0.0.3", false)
	assert.NoError(t, err)

	// Second cascade finds nothing
	n, err = s.RevokeAllForUser("alice")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSessionStore_ActiveForUser_SanitizedNewestFirst(t *testing.T) {
	s := setupSessionStore(t)

	first, err := s.Create("alice", "10.0.0.1", strings.Repeat("u", 80), time.Hour)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := s.Create("alice", "10.0.0.2", "curl/8.0", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Revoke(first.ID))

	third, err := s.Create("alice", "10.0.0.3", "", time.Hour)
	require.NoError(t, err)
	_ = third

	infos := s.ActiveForUser("alice")
	require.Len(t, infos, 2)
	assert.True(t, infos[0].CreatedAt.After(infos[1].CreatedAt) || infos[0].CreatedAt.Equal(infos[1].CreatedAt))

	// The view truncates the id so it cannot be replayed as a credential
	for _, info := range infos {
		assert.Len(t, info.ID, 11)
		assert.True(t, strings.HasSuffix(info.ID, "..."))
		assert.LessOrEqual(t, len(info.UserAgent), 53)
	}
	assert.NotEqual(t, second.ID, infos[0].ID)
}

func TestSessionStore_Sweep(t *testing.T) {
	s := setupSessionStore(t)

	expired, err := s.Create("alice", "10.0.0.1", "", 10*time.Millisecond)
	require.NoError(t, err)
	live, err := s.Create("alice", "10.0.0.1", "", time.Hour)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	n, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(expired.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Get(live.ID)
	assert.NoError(t, err)

	// Nothing left to sweep
	n, err = s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSessionStore_FlushFailureRollsBack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.MkdirAll(dir, 0o700))

	s, err := OpenSessionStore(filepath.Join(dir, "sessions.enc"), testStoreKey(t))
	require.NoError(t, err)
	session, err := s.Create("alice", "10.0.0.1", "", time.Hour)
	require.NoError(t, err)

	// Removing the parent directory makes the atomic write's temp-file
	// creation fail, so every flush from here on errors
	require.NoError(t, os.RemoveAll(dir))

	// Failed creation leaves no record behind
	_, err = s.Create("alice", "10.0.0.2", "", time.Hour)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, s.Count())

	// Failed revoke leaves the session active and still valid
	assert.ErrorIs(t, s.Revoke(session.ID), ErrPersistence)
	_, err = s.Validate(session.ID, "10.0.0.1", false)
	assert.NoError(t, err)

	// Failed cascade leaves the session active too
	_, err = s.RevokeAllForUser("alice")
	assert.ErrorIs(t, err, ErrPersistence)
	_, err = s.Validate(session.ID, "10.0.0.1", false)
	assert.NoError(t, err)
}

func TestSessionStore_PersistsAcrossReopen(t *testing.T) {
	key := testStoreKey(t)
	path := filepath.Join(t.TempDir(), "sessions.enc")

	s, err := OpenSessionStore(path, key)
	require.NoError(t, err)
	session, err := s.Create("alice", "10.0.0.1", "curl/8.0", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Revoke(session.ID))

	reopened, err := OpenSessionStore(path, key)
	require.NoError(t, err)

	// Revocation survives the restart
	_, err = reopened.Validate(session.ID, "10.0.0.1", false)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}
