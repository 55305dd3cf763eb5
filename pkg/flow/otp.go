package flow

import (
	"context"
	"errors"
)

// OTPStep verifies the one-time code issued by the password step.
type OTPStep struct {
	base
	codes    CodeIssuer
	settings SettingsProvider
}

func NewOTPStep(codes CodeIssuer, settings SettingsProvider, opts Options) *OTPStep {
	return &OTPStep{
		base: base{
			id:    StepOTP,
			name:  "One-Time Password Verification",
			url:   "/auth/otp",
			order: 2,
			opts:  opts.withDefaults(),
		},
		codes:    codes,
		settings: settings,
	}
}

func (o *OTPStep) Enabled() bool { return o.settings.OTPEnabled() }

func (o *OTPStep) CanAccess(st State) bool {
	return o.canAccess(st, snapshotSettings(context.Background(), o.settings))
}

func (o *OTPStep) canAccess(st State, flags StaticSettings) bool {
	return flags.OTP && !st.Expired && st.HasCompleted(StepPassword)
}

func (o *OTPStep) NextStep(State) string {
	return o.next(snapshotSettings(context.Background(), o.settings))
}

func (o *OTPStep) next(flags StaticSettings) string {
	if flags.Onboarding {
		return StepOnboarding
	}
	return ""
}

func (o *OTPStep) SuccessMessage() string {
	return o.successMessage(snapshotSettings(context.Background(), o.settings))
}

func (o *OTPStep) successMessage(flags StaticSettings) string {
	if flags.Onboarding {
		return "OTP verified. Please complete onboarding."
	}
	return "Authentication completed successfully!"
}

// Process checks the submitted code against the pending one. The pending code
// is single use: it is cleared whether the code matches or not.
func (o *OTPStep) Process(ctx context.Context, cred Credential, s *Session) Result {
	return attempt{
		step:          o,
		opts:          o.opts,
		settings:      o.settings,
		rejectMessage: "Invalid OTP code",
		verify: func(_ context.Context, c claim) (func(*Session), error) {
			if o.codes == nil {
				return nil, errors.New("no code issuer configured")
			}
			if c.pendingCode == "" {
				return nil, rejected("no code pending")
			}
			if cred.Code == "" || !o.codes.Matches(c.pendingCode, cred.Code) {
				return nil, rejected("code mismatch")
			}
			return func(s *Session) {
				s.pendingCode = ""
			}, nil
		},
		onReject: func(s *Session) {
			s.pendingCode = ""
		},
	}.run(ctx, s)
}

func (o *OTPStep) accessDeniedMessage() string {
	return "Password authentication must be completed first"
}

func (o *OTPStep) reset(s *Session) {
	delete(s.completed, o.id)
	s.pendingCode = ""
}
