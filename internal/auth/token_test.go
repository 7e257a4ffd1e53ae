// ABOUTME: Tests for JWT issuance and verification
// ABOUTME: Covers expiry, tampering, wrong secrets, and user liveness checks

package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privatellm/pllm-gateway/internal/cryptofile"
	"github.com/privatellm/pllm-gateway/internal/store"
)

func setupUserStore(t *testing.T) *store.UserStore {
	t.Helper()
	key, err := cryptofile.LoadOrCreateKey(filepath.Join(t.TempDir(), ".auth_key"))
	require.NoError(t, err)
	users, err := store.OpenUserStore(filepath.Join(t.TempDir(), "users.enc"), key)
	require.NoError(t, err)
	return users
}

func createUser(t *testing.T, users *store.UserStore, username string, active bool) *store.User {
	t.Helper()
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	user := &store.User{
		Username:     username,
		PasswordHash: hash,
		Permissions:  []string{"chat", "models"},
		CreatedAt:    time.Now(),
		IsActive:     active,
		RateLimit:    100,
	}
	require.NoError(t, users.Create(user))
	return user
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	users := setupUserStore(t)
	user := createUser(t, users, "alice", true)
	svc := NewTokenService([]byte("test-secret"), time.Hour, users)

	token, err := svc.Issue(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	principal, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Username)
	assert.Equal(t, []string{"chat", "models"}, principal.Permissions)
	assert.Equal(t, 100, principal.RateLimit)
}

func TestTokenService_Verify_Expired(t *testing.T) {
	users := setupUserStore(t)
	user := createUser(t, users, "alice", true)
	svc := NewTokenService([]byte("test-secret"), -time.Minute, users)

	token, err := svc.Issue(user)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenService_Verify_WrongSecret(t *testing.T) {
	users := setupUserStore(t)
	user := createUser(t, users, "alice", true)

	issuer := NewTokenService([]byte("secret-a"), time.Hour, users)
	verifier := NewTokenService([]byte("secret-b"), time.Hour, users)

	token, err := issuer.Issue(user)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenService_Verify_Tampered(t *testing.T) {
	users := setupUserStore(t)
	user := createUser(t, users, "alice", true)
	svc := NewTokenService([]byte("test-secret"), time.Hour, users)

	token, err := svc.Issue(user)
	require.NoError(t, err)

	_, err = svc.Verify(token[:len(token)-2] + "xx")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenService_Verify_Garbage(t *testing.T) {
	users := setupUserStore(t)
	svc := NewTokenService([]byte("test-secret"), time.Hour, users)

	_, err := svc.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenService_Verify_DeletedUser(t *testing.T) {
	users := setupUserStore(t)
	user := createUser(t, users, "alice", true)
	svc := NewTokenService([]byte("test-secret"), time.Hour, users)

	token, err := svc.Issue(user)
	require.NoError(t, err)
	require.NoError(t, users.Delete("alice"))

	// Cryptographically valid, but the subject is gone
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenService_Verify_InactiveUser(t *testing.T) {
	users := setupUserStore(t)
	user := createUser(t, users, "alice", true)
	svc := NewTokenService([]byte("test-secret"), time.Hour, users)

	token, err := svc.Issue(user)
	require.NoError(t, err)
	require.NoError(t, users.Update("alice", func(u *store.User) error {
		u.IsActive = false
		return nil
	}))

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestTokenService_Verify_ReflectsCurrentPermissions(t *testing.T) {
	users := setupUserStore(t)
	user := createUser(t, users, "alice", true)
	svc := NewTokenService([]byte("test-secret"), time.Hour, users)

	token, err := svc.Issue(user)
	require.NoError(t, err)
	require.NoError(t, users.Update("alice", func(u *store.User) error {
		u.Permissions = []string{"chat"}
		return nil
	}))

	// The principal reflects the store, not what the token was issued with
	principal, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, []string{"chat"}, principal.Permissions)
}
