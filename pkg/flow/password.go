package flow

import (
	"context"
	"errors"
	"strings"
)

// PasswordStep verifies a username and password. It is always enabled and
// always accessible, and issues the one-time code when OTP follows.
type PasswordStep struct {
	base
	verifier CredentialVerifier
	codes    CodeIssuer
	settings SettingsProvider
}

// NewPasswordStep creates the password step. codes may be nil while OTP is disabled.
func NewPasswordStep(verifier CredentialVerifier, codes CodeIssuer, settings SettingsProvider, opts Options) *PasswordStep {
	return &PasswordStep{
		base: base{
			id:    StepPassword,
			name:  "Username/Password Authentication",
			url:   "/auth/login",
			order: 1,
			opts:  opts.withDefaults(),
		},
		verifier: verifier,
		codes:    codes,
		settings: settings,
	}
}

func (p *PasswordStep) Enabled() bool { return true }

func (p *PasswordStep) CanAccess(State) bool { return true }

func (p *PasswordStep) canAccess(State, StaticSettings) bool { return true }

func (p *PasswordStep) NextStep(State) string {
	return p.next(snapshotSettings(context.Background(), p.settings))
}

func (p *PasswordStep) next(flags StaticSettings) string {
	switch {
	case flags.OTP:
		return StepOTP
	case flags.Onboarding:
		return StepOnboarding
	default:
		return ""
	}
}

func (p *PasswordStep) SuccessMessage() string {
	return p.successMessage(snapshotSettings(context.Background(), p.settings))
}

func (p *PasswordStep) successMessage(flags StaticSettings) string {
	switch {
	case flags.OTP:
		return "Credentials verified. OTP sent."
	case flags.Onboarding:
		return "Credentials verified. Please complete onboarding."
	default:
		return "Authentication completed successfully!"
	}
}

// Process verifies the credential. The username is trimmed once and that
// value is used for lookup, code delivery and the session.
func (p *PasswordStep) Process(ctx context.Context, cred Credential, s *Session) Result {
	username := strings.TrimSpace(cred.Username)
	return attempt{
		step:          p,
		opts:          p.opts,
		settings:      p.settings,
		rejectMessage: "Invalid username or password",
		verify: func(ctx context.Context, c claim) (func(*Session), error) {
			if username == "" || cred.Password == "" {
				return nil, rejected("username and password are required")
			}
			ok, err := p.verifier.Validate(ctx, username, cred.Password)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, rejected("invalid credentials")
			}

			var code string
			if c.flags.OTP {
				if p.codes == nil {
					return nil, errors.New("no code issuer configured")
				}
				if code, err = p.codes.Generate(ctx); err != nil {
					return nil, err
				}
				if err := p.codes.Deliver(ctx, username, code); err != nil {
					return nil, err
				}
			}

			return func(s *Session) {
				s.username = username
				s.pendingCode = code
			}, nil
		},
	}.run(ctx, s)
}

func (p *PasswordStep) accessDeniedMessage() string {
	return "Password authentication is not available"
}

func (p *PasswordStep) reset(s *Session) {
	delete(s.completed, p.id)
	s.username = ""
}
