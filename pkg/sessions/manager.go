// Package sessions owns the lifecycle of flow sessions: creation, lookup,
// persistence and idle expiry.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
)

// Store persists sessions.
type Store interface {
	// Load returns domain.ErrSessionNotFound for unknown or expired ids.
	Load(ctx context.Context, id string) (*flow.Session, error)
	// Save writes the session. A positive ttl bounds how long it is kept.
	Save(ctx context.Context, s *flow.Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Config holds manager configuration.
type Config struct {
	// IdleTimeout matches the chain's idle timeout. A negative value keeps
	// sessions until deleted.
	IdleTimeout time.Duration
	Now         func() time.Time
}

// Manager hands out one live *flow.Session per id so that concurrent requests
// share the session's lock, and writes every change through to the Store.
type Manager struct {
	store  Store
	config Config
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*flow.Session
}

// NewManager creates a new session manager.
func NewManager(store Store, config Config, logger *slog.Logger) *Manager {
	if config.IdleTimeout == 0 {
		config.IdleTimeout = flow.DefaultIdleTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		config: config,
		logger: logger,
		live:   make(map[string]*flow.Session),
	}
}

// Create starts a new empty session.
func (m *Manager) Create(ctx context.Context) (*flow.Session, error) {
	s := flow.NewSession(uuid.NewString(), m.config.Now())
	if err := m.store.Save(ctx, s, m.ttl()); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	m.mu.Lock()
	m.live[s.ID()] = s
	m.mu.Unlock()

	m.logger.Debug("session created", "session", s.ID())
	return s, nil
}

// Get returns the live session for id, loading it from the Store when it is
// not cached. Sessions idle past twice the timeout are dropped; shorter idle
// periods are left for the chain to reset.
func (m *Manager) Get(ctx context.Context, id string) (*flow.Session, error) {
	if id == "" {
		return nil, domain.ErrSessionNotFound
	}

	m.mu.Lock()
	s, ok := m.live[id]
	m.mu.Unlock()

	if !ok {
		loaded, err := m.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		// Another request may have loaded it meanwhile.
		if existing, ok := m.live[id]; ok {
			loaded = existing
		} else {
			m.live[id] = loaded
		}
		m.mu.Unlock()
		s = loaded
	}

	if m.stale(s) {
		m.forget(id)
		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.Warn("failed to delete stale session", "session", id, "error", err)
		}
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// GetOrCreate returns the session for id, or a new one when id is unknown.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*flow.Session, bool, error) {
	s, err := m.Get(ctx, id)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, false, err
	}
	s, err = m.Create(ctx)
	return s, true, err
}

// Save writes the session through to the Store.
func (m *Manager) Save(ctx context.Context, s *flow.Session) error {
	if err := m.store.Save(ctx, s, m.ttl()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete removes the session everywhere.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.forget(id)
	return m.store.Delete(ctx, id)
}

// Sweep drops cached sessions that have been idle past the timeout and
// returns how many were dropped. The Store keeps them until its own ttl.
func (m *Manager) Sweep() int {
	if m.config.IdleTimeout < 0 {
		return 0
	}
	now := m.config.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.live {
		if now.Sub(s.LastActivity()) > m.config.IdleTimeout {
			delete(m.live, id)
			n++
		}
	}
	return n
}

// Run sweeps the cache every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("swept idle sessions", "count", n)
			}
		}
	}
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()
}

func (m *Manager) stale(s *flow.Session) bool {
	if m.config.IdleTimeout < 0 {
		return false
	}
	return m.config.Now().Sub(s.LastActivity()) > 2*m.config.IdleTimeout
}

// ttl keeps stored sessions long enough for the chain to observe expiry.
func (m *Manager) ttl() time.Duration {
	if m.config.IdleTimeout < 0 {
		return 0
	}
	return 2 * m.config.IdleTimeout
}
