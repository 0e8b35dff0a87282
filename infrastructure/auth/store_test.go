package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserStore(t *testing.T) *UserStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	s, err := NewUserStore(path, "admin", "admin-secret")
	require.NoError(t, err)
	return s
}

func TestUserStoreAdminLogin(t *testing.T) {
	s := newUserStore(t)
	require.NoError(t, s.Verify("admin", "admin-secret"))
	require.ErrorIs(t, s.Verify("admin", "wrong"), ErrInvalidCredentials)
	assert.True(t, s.IsAdmin("admin"))
	assert.False(t, s.IsAdmin("alice"))
}

func TestUserStoreAddVerifyDelete(t *testing.T) {
	s := newUserStore(t)

	require.NoError(t, s.Add("alice", "pw1"))
	require.NoError(t, s.Verify("alice", "pw1"))
	require.ErrorIs(t, s.Verify("alice", "pw2"), ErrInvalidCredentials)
	require.ErrorIs(t, s.Verify("bob", "pw1"), ErrInvalidCredentials)

	require.ErrorIs(t, s.Add("alice", "other"), ErrUserExists)
	require.ErrorIs(t, s.Add("admin", "other"), ErrUserExists)

	assert.Equal(t, []string{"alice"}, s.List())

	require.NoError(t, s.Delete("alice"))
	require.ErrorIs(t, s.Delete("alice"), ErrUserNotFound)
	assert.Empty(t, s.List())
}

func TestUserStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	s, err := NewUserStore(path, "admin", "admin-secret")
	require.NoError(t, err)
	require.NoError(t, s.Add("alice", "pw1"))

	reopened, err := NewUserStore(path, "admin", "admin-secret")
	require.NoError(t, err)
	require.NoError(t, reopened.Verify("alice", "pw1"))
}

func TestUserStoreSetPassword(t *testing.T) {
	s := newUserStore(t)
	require.NoError(t, s.Add("alice", "old"))
	require.NoError(t, s.SetPassword("alice", "new"))
	require.NoError(t, s.Verify("alice", "new"))
	require.ErrorIs(t, s.Verify("alice", "old"), ErrInvalidCredentials)

	require.Error(t, s.SetPassword("admin", "x"))
	require.ErrorIs(t, s.SetPassword("bob", "x"), ErrUserNotFound)
}

func TestTokenStoreIssueResolve(t *testing.T) {
	s := NewTokenStore(time.Hour)
	token := s.Issue("alice")
	assert.Len(t, token, 48)

	user, ok := s.Resolve(token)
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	s.Revoke(token)
	_, ok = s.Resolve(token)
	assert.False(t, ok)
}

func TestTokenStoreExpiry(t *testing.T) {
	s := NewTokenStore(time.Hour)
	current := time.Now()
	s.now = func() time.Time { return current }

	token := s.Issue("alice")
	current = current.Add(2 * time.Hour)

	_, ok := s.Resolve(token)
	assert.False(t, ok)
}
