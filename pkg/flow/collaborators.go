package flow

import (
	"context"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

// CredentialVerifier checks a username and secret.
type CredentialVerifier interface {
	// Validate reports whether the secret is valid for username. A non-nil
	// error means the check could not be performed.
	Validate(ctx context.Context, username, secret string) (bool, error)
}

// CodeIssuer produces, delivers and checks one-time codes.
type CodeIssuer interface {
	Generate(ctx context.Context) (string, error)
	Deliver(ctx context.Context, username, code string) error
	Matches(expected, provided string) bool
}

// OnboardingValidator accepts or rejects onboarding profile data.
type OnboardingValidator interface {
	Accept(ctx context.Context, username string, profile domain.OnboardingProfile) (bool, error)
}

// SettingsProvider reports the live enablement of the optional steps.
type SettingsProvider interface {
	OTPEnabled() bool
	OnboardingEnabled() bool
}

// StaticSettings is a fixed SettingsProvider.
type StaticSettings struct {
	OTP        bool
	Onboarding bool
}

func (s StaticSettings) OTPEnabled() bool        { return s.OTP }
func (s StaticSettings) OnboardingEnabled() bool { return s.Onboarding }

// currentSettings is implemented by providers that can read with a caller's
// context, such as settings.Service.
type currentSettings interface {
	Current(ctx context.Context) *domain.AuthSettings
}

// snapshotSettings reads both toggles once.
func snapshotSettings(ctx context.Context, p SettingsProvider) StaticSettings {
	if cs, ok := p.(currentSettings); ok {
		cur := cs.Current(ctx)
		return StaticSettings{OTP: cur.OTPEnabled, Onboarding: cur.OnboardingEnabled}
	}
	return StaticSettings{OTP: p.OTPEnabled(), Onboarding: p.OnboardingEnabled()}
}
