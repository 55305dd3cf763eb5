package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-idm-stepflow/internal/backend"
	"github.com/tendant/simple-idm-stepflow/internal/config"
	"github.com/tendant/simple-idm-stepflow/pkg/auth"
)

// useMemoryStores points every command at one in-memory backend.
func useMemoryStores(t *testing.T) *backend.Backends {
	t.Helper()
	cfg := &config.Config{
		StoreBackend:             config.StoreMemory,
		SessionBackend:           config.SessionMemory,
		DefaultOTPEnabled:        true,
		DefaultOnboardingEnabled: true,
		PasswordPolicy:           config.PasswordPolicyConfig{MinLength: 8},
	}
	stores, err := backend.Open(context.Background(), cfg, nil)
	require.NoError(t, err)

	orig := openSession
	openSession = func(_ context.Context, logger *slog.Logger) (*session, error) {
		return &session{cfg: cfg, stores: &backend.Backends{
			Users:    stores.Users,
			Settings: stores.Settings,
			Profiles: stores.Profiles,
			Sessions: stores.Sessions,
		}, logger: logger}, nil
	}
	t.Cleanup(func() { openSession = orig })

	addEmail, addPassword = "", ""
	return stores
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

type settingsOutput struct {
	OTPEnabled        bool   `json:"otp_enabled"`
	OnboardingEnabled bool   `json:"onboarding_enabled"`
	Flow              string `json:"flow_description"`
}

func decodeSettings(t *testing.T, out string) settingsOutput {
	t.Helper()
	var got settingsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	return got
}

func TestSettingsShowCreatesDefaults(t *testing.T) {
	useMemoryStores(t)

	out, err := execute(t, "", "settings", "show")
	require.NoError(t, err)
	got := decodeSettings(t, out)
	assert.True(t, got.OTPEnabled)
	assert.True(t, got.OnboardingEnabled)
	assert.Equal(t, "Password + OTP + Onboarding (3 steps)", got.Flow)
}

func TestSettingsEnableDisable(t *testing.T) {
	useMemoryStores(t)

	out, err := execute(t, "", "settings", "disable", "otp")
	require.NoError(t, err)
	got := decodeSettings(t, out)
	assert.False(t, got.OTPEnabled)
	assert.True(t, got.OnboardingEnabled)

	out, err = execute(t, "", "settings", "disable", "onboarding")
	require.NoError(t, err)
	assert.Equal(t, "Password only (1 step)", decodeSettings(t, out).Flow)

	out, err = execute(t, "", "settings", "enable", "otp")
	require.NoError(t, err)
	got = decodeSettings(t, out)
	assert.True(t, got.OTPEnabled)
	assert.False(t, got.OnboardingEnabled)

	_, err = execute(t, "", "settings", "enable", "sms")
	assert.Error(t, err)
}

func TestSettingsSetKeepsUnchangedToggle(t *testing.T) {
	useMemoryStores(t)

	out, err := execute(t, "", "settings", "set", "--onboarding=false")
	require.NoError(t, err)
	got := decodeSettings(t, out)
	assert.True(t, got.OTPEnabled)
	assert.False(t, got.OnboardingEnabled)
}

func TestUsersAdd(t *testing.T) {
	stores := useMemoryStores(t)

	out, err := execute(t, "", "users", "add", "alice", "--email", "Alice@Example.com", "--password", "correct-horse")
	require.NoError(t, err)
	assert.Contains(t, out, "created user alice")

	verifier := auth.NewPasswordVerifier(stores.Users)
	ok, err := verifier.Validate(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = execute(t, "", "users", "add", "alice", "--email", "alice@example.com", "--password", "correct-horse")
	assert.Error(t, err)
}

func TestUsersAddReadsPasswordFromStdin(t *testing.T) {
	stores := useMemoryStores(t)

	_, err := execute(t, "from-stdin-1\n", "users", "add", "bob", "--email", "bob@example.com")
	require.NoError(t, err)

	ok, err := auth.NewPasswordVerifier(stores.Users).Validate(context.Background(), "bob", "from-stdin-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUsersAddRejectsWeakPassword(t *testing.T) {
	useMemoryStores(t)

	_, err := execute(t, "", "users", "add", "carol", "--email", "carol@example.com", "--password", "short")
	assert.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	out, err := execute(t, "", "hash-password", "s3cret-pass")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.True(t, auth.VerifyPassword("s3cret-pass", hash))
	assert.False(t, auth.VerifyPassword("other", hash))

	out, err = execute(t, "piped\n", "hash-password")
	require.NoError(t, err)
	assert.True(t, auth.VerifyPassword("piped", strings.TrimSpace(out)))

	_, err = execute(t, "", "hash-password")
	assert.Error(t, err)
}

func TestOpenSessionRejectsMemoryStore(t *testing.T) {
	t.Setenv("STORE_BACKEND", config.StoreMemory)
	t.Setenv("SESSION_BACKEND", config.SessionMemory)

	_, err := openSession(context.Background(), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not persistent")
}
