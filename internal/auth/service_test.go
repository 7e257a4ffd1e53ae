// ABOUTME: Tests for the authentication service: dispatch, login, lifecycle
// ABOUTME: Covers credential precedence, lockout, rate limiting, and bootstrap

package auth

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privatellm/pllm-gateway/internal/cryptofile"
	"github.com/privatellm/pllm-gateway/internal/store"
)

func setupService(t *testing.T, opts Options) *Service {
	t.Helper()
	dir := t.TempDir()
	key, err := cryptofile.LoadOrCreateKey(filepath.Join(dir, ".auth_key"))
	require.NoError(t, err)
	users, err := store.OpenUserStore(filepath.Join(dir, "users.enc"), key)
	require.NoError(t, err)
	sessions, err := store.OpenSessionStore(filepath.Join(dir, "sessions.enc"), key)
	require.NoError(t, err)
	tokens := NewTokenService([]byte("test-secret"), time.Hour, users)
	return NewService(users, sessions, tokens, nil, opts)
}

func mustCreateUser(t *testing.T, svc *Service, username, password string, permissions []string) {
	t.Helper()
	_, err := svc.CreateUser("admin", username, password, permissions)
	require.NoError(t, err)
}

func TestService_Bootstrap_EmptyStore(t *testing.T) {
	svc := setupService(t, Options{})

	result, err := svc.Bootstrap("")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, BootstrapUsername, result.Username)
	assert.True(t, result.PasswordGenerated)
	assert.NotEmpty(t, result.Password)
	assert.True(t, strings.HasPrefix(result.APIKey, APIKeyPrefix))

	info, err := svc.UserInfo(BootstrapUsername)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin", "chat", "models"}, info.Permissions)
	assert.Equal(t, BootstrapRateLimit, info.RateLimit)
	assert.Equal(t, 1, info.APIKeyCount)

	// The generated password actually works
	_, err = svc.Login(BootstrapUsername, result.Password, "10.0.0.1", "test")
	require.NoError(t, err)
}

func TestService_Bootstrap_ConfiguredPassword(t *testing.T) {
	svc := setupService(t, Options{})

	result, err := svc.Bootstrap("hunter2hunter2")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.PasswordGenerated)

	_, err = svc.Login(BootstrapUsername, "hunter2hunter2", "10.0.0.1", "test")
	require.NoError(t, err)
}

func TestService_Bootstrap_NonEmptyStoreIsNoOp(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	result, err := svc.Bootstrap("")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestService_Login_Success(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	result, err := svc.Login("alice", "password1", "10.0.0.1", "curl/8.0")
	require.NoError(t, err)
	assert.Equal(t, "alice", result.Principal.Username)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "alice", result.Session.UserID)
	assert.Equal(t, "10.0.0.1", result.Session.IPAddress)

	// last_login is stamped
	info, err := svc.UserInfo("alice")
	require.NoError(t, err)
	assert.NotNil(t, info.LastLogin)
}

func TestService_Login_WrongPassword(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	_, err := svc.Login("alice", "wrong", "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestService_Login_UnknownUser(t *testing.T) {
	svc := setupService(t, Options{})

	_, err := svc.Login("nobody", "whatever", "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestService_Login_InactiveUser(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})
	require.NoError(t, svc.users.Update("alice", func(u *store.User) error {
		u.IsActive = false
		return nil
	}))

	_, err := svc.Login("alice", "password1", "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestService_Login_LockoutAfterThreshold(t *testing.T) {
	svc := setupService(t, Options{LockoutThreshold: 3})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	for i := 0; i < 3; i++ {
		_, err := svc.Login("alice", "wrong", "10.0.0.1", "")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	}

	// Locked now, even with the correct password
	_, err := svc.Login("alice", "password1", "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestService_Login_LockoutWindowExpires(t *testing.T) {
	svc := setupService(t, Options{LockoutThreshold: 2, LockoutWindow: 30 * time.Millisecond})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	_, _ = svc.Login("alice", "wrong", "10.0.0.1", "")
	_, _ = svc.Login("alice", "wrong", "10.0.0.1", "")
	_, err := svc.Login("alice", "password1", "10.0.0.1", "")
	assert.ErrorIs(t, err, ErrAccountLocked)

	time.Sleep(40 * time.Millisecond)

	_, err = svc.Login("alice", "password1", "10.0.0.1", "")
	assert.NoError(t, err)
}

func TestService_Authenticate_BearerToken(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	result, err := svc.Login("alice", "password1", "10.0.0.1", "")
	require.NoError(t, err)

	principal, err := svc.Authenticate(Credentials{
		Authorization: "Bearer " + result.Token,
		IPAddress:     "10.0.0.1",
	}, "/v1/chat")
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Username)
}

func TestService_Authenticate_APIKey(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})
	key, err := svc.IssueAPIKey("admin", "alice")
	require.NoError(t, err)

	principal, err := svc.Authenticate(Credentials{
		Authorization: "Bearer " + key,
		IPAddress:     "10.0.0.1",
	}, "/v1/chat")
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Username)
}

func TestService_Authenticate_SessionCookie(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	result, err := svc.Login("alice", "password1", "10.0.0.1", "")
	require.NoError(t, err)

	principal, err := svc.Authenticate(Credentials{
		SessionID: result.Session.ID,
		IPAddress: "10.0.0.1",
	}, "/v1/chat")
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Username)
}

func TestService_Authenticate_BearerPrecedenceOverSession(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	result, err := svc.Login("alice", "password1", "10.0.0.1", "")
	require.NoError(t, err)

	// Invalid bearer material must not fall through to the valid session
	_, err = svc.Authenticate(Credentials{
		Authorization: "Bearer garbage",
		SessionID:     result.Session.ID,
		IPAddress:     "10.0.0.1",
	}, "/v1/chat")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestService_Authenticate_TokenWinsOverOtherIdentitySession(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"admin"})
	mustCreateUser(t, svc, "bob", "password1", []string{"chat"})

	aliceLogin, err := svc.Login("alice", "password1", "10.0.0.1", "")
	require.NoError(t, err)
	bobLogin, err := svc.Login("bob", "password1", "10.0.0.1", "")
	require.NoError(t, err)

	// Both credentials are valid; the bearer token decides the identity
	principal, err := svc.Authenticate(Credentials{
		Authorization: "Bearer " + aliceLogin.Token,
		SessionID:     bobLogin.Session.ID,
		IPAddress:     "10.0.0.1",
	}, "/v1/chat")
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Username)
	assert.Equal(t, []string{"admin"}, principal.Permissions)
}

func TestService_Authenticate_NoCredentials(t *testing.T) {
	svc := setupService(t, Options{})

	_, err := svc.Authenticate(Credentials{IPAddress: "10.0.0.1"}, "/v1/chat")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestService_Authenticate_NonBearerAuthorization(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	_, err := svc.Authenticate(Credentials{
		Authorization: "Basic dXNlcjpwYXNz",
		IPAddress:     "10.0.0.1",
	}, "/v1/chat")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestService_Authenticate_RevokedSession(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	result, err := svc.Login("alice", "password1", "10.0.0.1", "")
	require.NoError(t, err)
	require.NoError(t, svc.RevokeSession("alice", result.Session.ID))

	_, err = svc.Authenticate(Credentials{
		SessionID: result.Session.ID,
		IPAddress: "10.0.0.1",
	}, "/v1/chat")
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestService_Authenticate_StrictSessionIP(t *testing.T) {
	svc := setupService(t, Options{StrictSessionIP: true})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	result, err := svc.Login("alice", "password1", "10.0.0.1", "")
	require.NoError(t, err)

	_, err = svc.Authenticate(Credentials{
		SessionID: result.Session.ID,
		IPAddress: "192.168.1.50",
	}, "/v1/chat")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestService_Authenticate_InactiveUserAllCredentials(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})
	key, err := svc.IssueAPIKey("admin", "alice")
	require.NoError(t, err)
	result, err := svc.Login("alice", "password1", "10.0.0.1", "")
	require.NoError(t, err)

	require.NoError(t, svc.users.Update("alice", func(u *store.User) error {
		u.IsActive = false
		return nil
	}))

	_, err = svc.Authenticate(Credentials{Authorization: "Bearer " + result.Token}, "/v1/chat")
	assert.ErrorIs(t, err, ErrAccountInactive)

	_, err = svc.Authenticate(Credentials{Authorization: "Bearer " + key}, "/v1/chat")
	assert.ErrorIs(t, err, ErrAccountInactive)

	_, err = svc.Authenticate(Credentials{SessionID: result.Session.ID}, "/v1/chat")
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestService_Authenticate_RateLimit(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})
	require.NoError(t, svc.users.Update("alice", func(u *store.User) error {
		u.RateLimit = 2
		return nil
	}))
	key, err := svc.IssueAPIKey("admin", "alice")
	require.NoError(t, err)

	creds := Credentials{Authorization: "Bearer " + key, IPAddress: "10.0.0.1"}

	_, err = svc.Authenticate(creds, "/v1/chat")
	require.NoError(t, err)
	_, err = svc.Authenticate(creds, "/v1/chat")
	require.NoError(t, err)

	_, err = svc.Authenticate(creds, "/v1/chat")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// A different endpoint has an independent counter
	_, err = svc.Authenticate(creds, "/v1/models")
	assert.NoError(t, err)
}

func TestService_CreateUser_Defaults(t *testing.T) {
	svc := setupService(t, Options{DefaultRateLimit: 42})

	info, err := svc.CreateUser("admin", "alice", "password1", []string{"chat"})
	require.NoError(t, err)
	assert.Equal(t, 42, info.RateLimit)
	assert.True(t, info.IsActive)
	assert.Equal(t, 1, info.APIKeyCount)
}

func TestService_CreateUser_Duplicate(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	_, err := svc.CreateUser("admin", "alice", "other", nil)
	assert.ErrorIs(t, err, store.ErrDuplicateUser)
}

func TestService_DeleteUser_CascadesSessions(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	result, err := svc.Login("alice", "password1", "10.0.0.1", "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser("admin", "alice"))

	// The orphaned session no longer authenticates
	_, err = svc.Authenticate(Credentials{SessionID: result.Session.ID}, "/v1/chat")
	assert.Error(t, err)

	_, err = svc.UserInfo("alice")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestService_IssueAndRevokeAPIKey(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	key, err := svc.IssueAPIKey("admin", "alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, APIKeyPrefix))

	_, err = svc.Authenticate(Credentials{Authorization: "Bearer " + key}, "/v1/chat")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAPIKey("admin", "alice", key))

	_, err = svc.Authenticate(Credentials{Authorization: "Bearer " + key}, "/v1/chat")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestService_ActiveSessions(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	_, err := svc.Login("alice", "password1", "10.0.0.1", "curl/8.0")
	require.NoError(t, err)
	_, err = svc.Login("alice", "password1", "10.0.0.2", "curl/8.0")
	require.NoError(t, err)

	infos := svc.ActiveSessions("alice")
	assert.Len(t, infos, 2)
}

func TestService_SweepSessions(t *testing.T) {
	svc := setupService(t, Options{SessionTTL: 10 * time.Millisecond})
	mustCreateUser(t, svc, "alice", "password1", []string{"chat"})

	_, err := svc.Login("alice", "password1", "10.0.0.1", "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	n, err := svc.SweepSessions()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_ListUsers(t *testing.T) {
	svc := setupService(t, Options{})
	mustCreateUser(t, svc, "bob", "password1", []string{"chat"})
	mustCreateUser(t, svc, "alice", "password1", []string{"admin"})

	users := svc.ListUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
}

func TestPrincipal_HasAny(t *testing.T) {
	p := &Principal{Username: "alice", Permissions: []string{"chat", "models"}}

	assert.True(t, p.HasAny())
	assert.True(t, p.HasAny("chat"))
	assert.True(t, p.HasAny("admin", "models"))
	assert.False(t, p.HasAny("admin"))
}
