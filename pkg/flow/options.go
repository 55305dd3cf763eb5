package flow

import (
	"log/slog"
	"time"
)

// DefaultIdleTimeout is the idle window after which a session is treated as reset.
const DefaultIdleTimeout = 30 * time.Minute

// Options carries the clock, idle timeout and logger shared by a chain and its steps.
type Options struct {
	// IdleTimeout defaults to DefaultIdleTimeout. A negative value disables expiry.
	IdleTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

func (o Options) expired(lastActivity time.Time) bool {
	if o.IdleTimeout < 0 {
		return false
	}
	return o.Now().Sub(lastActivity) > o.IdleTimeout
}

// snapshot takes a consistent view of s, treating an idle session as empty.
func (o Options) snapshot(s *Session) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(o.expired(s.lastActivity))
}
