package bolt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
	"go.etcd.io/bbolt"
)

// SettingsStore persists settings rows keyed by name.
type SettingsStore struct{ s *Store }

func (st *SettingsStore) Get(_ context.Context, name string) (*domain.AuthSettings, error) {
	var row domain.AuthSettings
	found, err := st.s.get(settingsBucket, name, &row)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrSettingsNotFound
	}
	return &row, nil
}

func (st *SettingsStore) Save(_ context.Context, settings *domain.AuthSettings) error {
	return st.s.put(settingsBucket, settings.Name, settings)
}

// UserStore persists users keyed by username.
type UserStore struct{ s *Store }

func (st *UserStore) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	var u domain.User
	found, err := st.s.get(usersBucket, username, &u)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

// Create stores a new user, failing with domain.ErrUserExists when the
// username is taken.
func (st *UserStore) Create(_ context.Context, user *domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return st.s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(user.Username)) != nil {
			return domain.ErrUserExists
		}
		return b.Put([]byte(user.Username), data)
	})
}

// ProfileStore persists onboarding profiles keyed by username.
type ProfileStore struct{ s *Store }

func (st *ProfileStore) Save(_ context.Context, p *domain.StoredProfile) error {
	return st.s.put(profilesBucket, p.Username, p)
}

func (st *ProfileStore) GetByUsername(_ context.Context, username string) (*domain.StoredProfile, error) {
	var p domain.StoredProfile
	found, err := st.s.get(profilesBucket, username, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

type sessionEnvelope struct {
	ExpiresAt time.Time     `json:"expires_at,omitzero"`
	Session   *flow.Session `json:"session"`
}

// SessionStore persists sessions with an optional expiry.
type SessionStore struct{ s *Store }

func (st *SessionStore) Load(ctx context.Context, id string) (*flow.Session, error) {
	env := sessionEnvelope{Session: &flow.Session{}}
	found, err := st.s.get(sessionsBucket, id, &env)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrSessionNotFound
	}
	if !env.ExpiresAt.IsZero() && st.s.now().After(env.ExpiresAt) {
		if err := st.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrSessionNotFound
	}
	return env.Session, nil
}

func (st *SessionStore) Save(_ context.Context, session *flow.Session, ttl time.Duration) error {
	env := sessionEnvelope{Session: session}
	if ttl > 0 {
		env.ExpiresAt = st.s.now().Add(ttl)
	}
	return st.s.put(sessionsBucket, session.ID(), env)
}

func (st *SessionStore) Delete(_ context.Context, id string) error {
	return st.s.delete(sessionsBucket, id)
}

// PurgeExpired deletes every stored session whose expiry has passed.
func (st *SessionStore) PurgeExpired() (int, error) {
	now := st.s.now()
	n := 0
	err := st.s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var env struct {
				ExpiresAt time.Time `json:"expires_at"`
			}
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			if !env.ExpiresAt.IsZero() && now.After(env.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(expired)
		return nil
	})
	return n, err
}
