package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-idm-stepflow/pkg/auth"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
)

func TestSettingsStore(t *testing.T) {
	ctx := t.Context()
	s := NewSettingsStore()

	_, err := s.Get(ctx, domain.DefaultSettingsName)
	require.ErrorIs(t, err, domain.ErrSettingsNotFound)

	row := domain.NewAuthSettings(true, false)
	require.NoError(t, s.Save(ctx, row))

	row.OTPEnabled = false
	got, err := s.Get(ctx, domain.DefaultSettingsName)
	require.NoError(t, err)
	assert.True(t, got.OTPEnabled, "stored row must not alias the caller's value")
	assert.False(t, got.OnboardingEnabled)
}

func TestUserStore_SeedAndCreate(t *testing.T) {
	ctx := t.Context()
	s := NewUserStore()
	require.NoError(t, s.Seed(DemoUsers...))

	admin, err := s.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, auth.VerifyPassword("password123", admin.PasswordHash))

	err = s.Create(ctx, &domain.User{Username: "admin"})
	assert.ErrorIs(t, err, domain.ErrUserExists)

	_, err = s.GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestProfileStore(t *testing.T) {
	ctx := t.Context()
	s := NewProfileStore()

	_, err := s.GetByUsername(ctx, "user")
	require.ErrorIs(t, err, domain.ErrProfileNotFound)

	require.NoError(t, s.Save(ctx, &domain.StoredProfile{Username: "user", FullName: "First"}))
	require.NoError(t, s.Save(ctx, &domain.StoredProfile{Username: "user", FullName: "Second"}))

	got, err := s.GetByUsername(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, "Second", got.FullName)
}

func TestSessionStore_TTL(t *testing.T) {
	ctx := t.Context()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessionStore()
	s.now = func() time.Time { return now }

	sess := flow.NewSession("abc", now)
	require.NoError(t, s.Save(ctx, sess, time.Minute))

	got, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Same(t, sess, got)

	now = now.Add(2 * time.Minute)
	_, err = s.Load(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_Delete(t *testing.T) {
	ctx := t.Context()
	s := NewSessionStore()
	require.NoError(t, s.Save(ctx, flow.NewSession("abc", time.Now()), 0))
	require.NoError(t, s.Delete(ctx, "abc"))

	_, err := s.Load(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
