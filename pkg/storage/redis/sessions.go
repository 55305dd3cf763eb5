// Package redis stores flow sessions in Redis with a per-key TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
)

// DefaultPrefix namespaces session keys.
const DefaultPrefix = "stepflow:session"

// ErrUnavailable wraps Redis transport failures.
var ErrUnavailable = errors.New("session redis unavailable")

// SessionStore implements sessions.Store on a Redis client.
type SessionStore struct {
	redis  *redis.Client
	prefix string
}

// NewSessionStore creates a session store. An empty prefix uses DefaultPrefix.
func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &SessionStore{redis: client, prefix: prefix}
}

func (s *SessionStore) key(id string) string {
	return s.prefix + ":" + id
}

// Load returns domain.ErrSessionNotFound when the key is missing or expired.
func (s *SessionStore) Load(ctx context.Context, id string) (*flow.Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess := &flow.Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess, nil
}

// Save writes the session with the given ttl. A zero ttl keeps the key.
func (s *SessionStore) Save(ctx context.Context, sess *flow.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sess.ID()), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the session key.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
