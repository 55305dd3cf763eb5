// Package bolt provides single-node stores backed by a BBolt file.
package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	settingsBucket = []byte("auth_settings")
	usersBucket    = []byte("users")
	profilesBucket = []byte("onboarding_profiles")
	sessionsBucket = []byte("sessions")
)

// Store owns the BBolt database shared by the typed stores.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the database at path and ensures every bucket exists.
func Open(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{settingsBucket, usersBucket, profilesBucket, sessionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Settings returns the settings store.
func (s *Store) Settings() *SettingsStore { return &SettingsStore{s} }

// Users returns the user store.
func (s *Store) Users() *UserStore { return &UserStore{s} }

// Profiles returns the onboarding profile store.
func (s *Store) Profiles() *ProfileStore { return &ProfileStore{s} }

// Sessions returns the session store.
func (s *Store) Sessions() *SessionStore { return &SessionStore{s} }

func (s *Store) get(bucket []byte, key string, v any) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

func (s *Store) put(bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *Store) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}
