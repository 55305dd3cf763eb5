package flow

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Session is the progress record of one principal's authentication attempt.
//
// A Session is owned by a session store and passed by reference into every
// engine call. Its fields are only changed by steps and the chain: completed
// steps grow through a successful Step.Process and shrink through an explicit
// reset. All access is serialized by the session's own mutex.
type Session struct {
	mu sync.Mutex

	id                  string
	username            string
	completed           map[string]struct{}
	pendingCode         string
	onboardingCompleted bool
	grants              []string
	createdAt           time.Time
	lastActivity        time.Time
	version             uint64

	// inflight holds the ids of steps whose external check is running.
	inflight map[string]struct{}
}

// NewSession creates an empty session.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		id:           id,
		completed:    make(map[string]struct{}),
		inflight:     make(map[string]struct{}),
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// LastActivity returns the time of the last mutation.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Version returns the reset generation of the session.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// State is an immutable view of a session taken at one instant.
type State struct {
	ID                  string
	Username            string
	OnboardingCompleted bool
	Grants              []string
	CreatedAt           time.Time
	LastActivity        time.Time
	Version             uint64
	// Expired reports that the session was idle past the timeout. An expired
	// state carries no progress.
	Expired bool

	completed map[string]struct{}
}

// HasCompleted reports whether the step id is completed in this view.
func (st State) HasCompleted(stepID string) bool {
	_, ok := st.completed[stepID]
	return ok
}

// HasGrant reports whether the capability token was granted.
func (st State) HasGrant(grant string) bool {
	for _, g := range st.Grants {
		if g == grant {
			return true
		}
	}
	return false
}

// CompletedSteps returns the completed step ids sorted by name.
func (st State) CompletedSteps() []string {
	ids := make([]string, 0, len(st.completed))
	for id := range st.completed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// stateLocked builds a view of the session. The caller holds s.mu.
func (s *Session) stateLocked(expired bool) State {
	st := State{
		ID:           s.id,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Version:      s.version,
		Expired:      expired,
		completed:    make(map[string]struct{}, len(s.completed)),
	}
	if expired {
		return st
	}
	st.Username = s.username
	st.OnboardingCompleted = s.onboardingCompleted
	st.Grants = append([]string(nil), s.grants...)
	for id := range s.completed {
		st.completed[id] = struct{}{}
	}
	return st
}

func (s *Session) hasProgressLocked() bool {
	return len(s.completed) > 0 || s.username != "" || s.pendingCode != "" || len(s.grants) > 0
}

func (s *Session) markCompletedLocked(stepID string) {
	if s.completed == nil {
		s.completed = make(map[string]struct{})
	}
	s.completed[stepID] = struct{}{}
}

func (s *Session) grantLocked(tokens ...string) {
	for _, t := range tokens {
		found := false
		for _, g := range s.grants {
			if g == t {
				found = true
				break
			}
		}
		if !found {
			s.grants = append(s.grants, t)
		}
	}
}

func (s *Session) revokeLocked(tokens ...string) {
	kept := s.grants[:0]
	for _, g := range s.grants {
		drop := false
		for _, t := range tokens {
			if g == t {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, g)
		}
	}
	s.grants = kept
}

func (s *Session) claimLocked(stepID string) bool {
	if s.inflight == nil {
		s.inflight = make(map[string]struct{})
	}
	if _, busy := s.inflight[stepID]; busy {
		return false
	}
	s.inflight[stepID] = struct{}{}
	return true
}

func (s *Session) releaseLocked(stepID string) {
	delete(s.inflight, stepID)
}

// clearLocked drops every field and starts a new generation.
func (s *Session) clearLocked(now time.Time) {
	s.username = ""
	s.completed = make(map[string]struct{})
	s.pendingCode = ""
	s.onboardingCompleted = false
	s.grants = nil
	s.inflight = make(map[string]struct{})
	s.version++
	s.lastActivity = now
}

type sessionRecord struct {
	ID                  string    `json:"id"`
	Username            string    `json:"username,omitempty"`
	CompletedSteps      []string  `json:"completed_steps"`
	PendingCode         string    `json:"pending_code,omitempty"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	Grants              []string  `json:"grants,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	LastActivity        time.Time `json:"last_activity"`
	Version             uint64    `json:"version"`
}

// MarshalJSON encodes the session for persistent stores. In-flight markers
// are not persisted.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	rec := sessionRecord{
		ID:                  s.id,
		Username:            s.username,
		PendingCode:         s.pendingCode,
		OnboardingCompleted: s.onboardingCompleted,
		Grants:              append([]string(nil), s.grants...),
		CreatedAt:           s.createdAt,
		LastActivity:        s.lastActivity,
		Version:             s.version,
	}
	rec.CompletedSteps = make([]string, 0, len(s.completed))
	for id := range s.completed {
		rec.CompletedSteps = append(rec.CompletedSteps, id)
	}
	s.mu.Unlock()

	sort.Strings(rec.CompletedSteps)
	return json.Marshal(rec)
}

// UnmarshalJSON restores a session encoded by MarshalJSON.
func (s *Session) UnmarshalJSON(data []byte) error {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = rec.ID
	s.username = rec.Username
	s.pendingCode = rec.PendingCode
	s.onboardingCompleted = rec.OnboardingCompleted
	s.grants = rec.Grants
	s.createdAt = rec.CreatedAt
	s.lastActivity = rec.LastActivity
	s.version = rec.Version
	s.completed = make(map[string]struct{}, len(rec.CompletedSteps))
	for _, id := range rec.CompletedSteps {
		s.completed[id] = struct{}{}
	}
	s.inflight = make(map[string]struct{})
	return nil
}
