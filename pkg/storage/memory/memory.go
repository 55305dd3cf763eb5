// Package memory provides process-local stores for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-stepflow/pkg/auth"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
)

// SettingsStore keeps settings rows in a map.
type SettingsStore struct {
	mu   sync.RWMutex
	rows map[string]domain.AuthSettings
}

// NewSettingsStore creates an empty settings store.
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{rows: make(map[string]domain.AuthSettings)}
}

// Get returns a copy of the named row.
func (s *SettingsStore) Get(_ context.Context, name string) (*domain.AuthSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[name]
	if !ok {
		return nil, domain.ErrSettingsNotFound
	}
	return &row, nil
}

// Save stores a copy of the row.
func (s *SettingsStore) Save(_ context.Context, settings *domain.AuthSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[settings.Name] = *settings
	return nil
}

// UserStore keeps users in a map keyed by username.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUserStore creates an empty user store.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]domain.User)}
}

// DemoUser is a development account seeded into the user store.
type DemoUser struct {
	Username string
	Email    string
	Password string
}

// DemoUsers are the accounts seeded when demo users are enabled.
var DemoUsers = []DemoUser{
	{Username: "admin", Email: "admin@example.com", Password: "password123"},
	{Username: "user", Email: "user@example.com", Password: "userpass"},
}

// Seed hashes and stores the given accounts, replacing existing ones.
func (s *UserStore) Seed(accounts ...DemoUser) error {
	now := time.Now()
	for _, a := range accounts {
		hash, err := auth.HashPassword(a.Password)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.users[a.Username] = domain.User{
			ID:           uuid.New(),
			Username:     a.Username,
			Email:        a.Email,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.mu.Unlock()
	}
	return nil
}

// GetByUsername returns a copy of the user.
func (s *UserStore) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

// Create stores a new user.
func (s *UserStore) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Username]; ok {
		return domain.ErrUserExists
	}
	s.users[user.Username] = *user
	return nil
}

// ProfileStore keeps onboarding profiles keyed by username.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.StoredProfile
}

// NewProfileStore creates an empty profile store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]domain.StoredProfile)}
}

// Save replaces the profile of the user.
func (s *ProfileStore) Save(_ context.Context, p *domain.StoredProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Username] = *p
	return nil
}

// GetByUsername returns a copy of the user's profile.
func (s *ProfileStore) GetByUsername(_ context.Context, username string) (*domain.StoredProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[username]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

type sessionEntry struct {
	session   *flow.Session
	expiresAt time.Time
}

// SessionStore keeps live session pointers.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry
	now      func() time.Time
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]sessionEntry),
		now:      time.Now,
	}
}

// Load returns the stored session unless its ttl has passed.
func (s *SessionStore) Load(_ context.Context, id string) (*flow.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.sessions, id)
		return nil, domain.ErrSessionNotFound
	}
	return e.session, nil
}

// Save stores the session pointer.
func (s *SessionStore) Save(_ context.Context, session *flow.Session, ttl time.Duration) error {
	e := sessionEntry{session: session}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.sessions[session.ID()] = e
	s.mu.Unlock()
	return nil
}

// Delete removes the session.
func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}
