// Package auth implements the file-backed user store and the in-memory
// bearer-token store used by the API middleware.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Sentinel errors surfaced to the API layer.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
)

type userRecord struct {
	Salt         string `json:"salt"`
	PasswordHash string `json:"password_hash"`
}

type userFile struct {
	Users map[string]userRecord `json:"users"`
}

// UserStore persists users as salted SHA-256 hashes in a JSON file. The
// admin user comes from configuration and never appears in the file.
type UserStore struct {
	mu        sync.Mutex
	path      string
	adminUser string
	adminPass string
	users     map[string]userRecord
}

// NewUserStore loads (or initializes) the store at path.
func NewUserStore(path, adminUser, adminPassword string) (*UserStore, error) {
	s := &UserStore{
		path:      path,
		adminUser: adminUser,
		adminPass: adminPassword,
		users:     make(map[string]userRecord),
	}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user store: %w", err)
	}
	var file userFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode user store: %w", err)
	}
	if file.Users != nil {
		s.users = file.Users
	}
	return s, nil
}

// Verify checks a username/password pair. The admin user is compared against
// the configured password directly; everyone else against the salted hash.
func (s *UserStore) Verify(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adminUser != "" && username == s.adminUser {
		if subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPass)) == 1 {
			return nil
		}
		return ErrInvalidCredentials
	}

	record, ok := s.users[username]
	if !ok {
		return ErrInvalidCredentials
	}
	if hashPassword(record.Salt, password) != record.PasswordHash {
		return ErrInvalidCredentials
	}
	return nil
}

// IsAdmin reports whether username is the configured admin.
func (s *UserStore) IsAdmin(username string) bool {
	return s.adminUser != "" && username == s.adminUser
}

// Add creates a new user and persists the store.
func (s *UserStore) Add(username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == s.adminUser {
		return ErrUserExists
	}
	if _, ok := s.users[username]; ok {
		return ErrUserExists
	}

	salt := randomHex(8)
	s.users[username] = userRecord{
		Salt:         salt,
		PasswordHash: hashPassword(salt, password),
	}
	return s.save()
}

// Delete removes a user and persists the store.
func (s *UserStore) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, username)
	return s.save()
}

// SetPassword replaces a user's password. The admin password lives in
// configuration and cannot be changed here.
func (s *UserStore) SetPassword(username, password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if username == s.adminUser {
		return fmt.Errorf("admin password is set in configuration")
	}
	if _, ok := s.users[username]; !ok {
		return ErrUserNotFound
	}

	salt := randomHex(8)
	s.users[username] = userRecord{
		Salt:         salt,
		PasswordHash: hashPassword(salt, password),
	}
	return s.save()
}

// List returns all stored usernames, sorted. The admin is not included.
func (s *UserStore) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// save writes the user file atomically. Callers hold the lock.
func (s *UserStore) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(userFile{Users: s.users}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create user store directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write user store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename user store: %w", err)
	}
	return nil
}

func hashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + ":" + password))
	return hex.EncodeToString(sum[:])
}

func randomHex(bytes int) string {
	buf := make([]byte, bytes)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

type tokenRecord struct {
	username string
	issuedAt time.Time
}

// TokenStore holds bearer tokens in memory. Expired tokens are pruned on
// every operation; a restart invalidates all sessions.
type TokenStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]tokenRecord
	now    func() time.Time
}

// NewTokenStore creates a store with the given token lifetime.
func NewTokenStore(ttl time.Duration) *TokenStore {
	return &TokenStore{
		ttl:    ttl,
		tokens: make(map[string]tokenRecord),
		now:    time.Now,
	}
}

// Issue mints a fresh token for username.
func (s *TokenStore) Issue(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()

	token := randomHex(24)
	s.tokens[token] = tokenRecord{username: username, issuedAt: s.now()}
	return token
}

// Resolve returns the username behind a token, if it is still valid.
func (s *TokenStore) Resolve(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()

	record, ok := s.tokens[token]
	if !ok {
		return "", false
	}
	return record.username, true
}

// Revoke drops a token.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// prune drops expired tokens. Callers hold the lock.
func (s *TokenStore) prune() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for token, record := range s.tokens {
		if record.issuedAt.Before(cutoff) {
			delete(s.tokens, token)
		}
	}
}
