package flow

import (
	"context"
	"errors"
)

// OnboardingStep captures the user's profile. When OTP is enabled it requires
// the OTP step to be completed first.
type OnboardingStep struct {
	base
	validator OnboardingValidator
	settings  SettingsProvider
}

func NewOnboardingStep(validator OnboardingValidator, settings SettingsProvider, opts Options) *OnboardingStep {
	return &OnboardingStep{
		base: base{
			id:    StepOnboarding,
			name:  "Profile Onboarding",
			url:   "/auth/onboard",
			order: 3,
			opts:  opts.withDefaults(),
		},
		validator: validator,
		settings:  settings,
	}
}

func (o *OnboardingStep) Enabled() bool { return o.settings.OnboardingEnabled() }

func (o *OnboardingStep) CanAccess(st State) bool {
	return o.canAccess(st, snapshotSettings(context.Background(), o.settings))
}

func (o *OnboardingStep) canAccess(st State, flags StaticSettings) bool {
	if !flags.Onboarding || st.Expired || !st.HasCompleted(StepPassword) {
		return false
	}
	return !flags.OTP || st.HasCompleted(StepOTP)
}

func (o *OnboardingStep) NextStep(State) string { return "" }

func (o *OnboardingStep) next(StaticSettings) string { return "" }

func (o *OnboardingStep) SuccessMessage() string {
	return "Authentication completed successfully!"
}

func (o *OnboardingStep) successMessage(StaticSettings) string { return o.SuccessMessage() }

func (o *OnboardingStep) Process(ctx context.Context, cred Credential, s *Session) Result {
	return attempt{
		step:          o,
		opts:          o.opts,
		settings:      o.settings,
		rejectMessage: "Invalid onboarding data",
		verify: func(ctx context.Context, c claim) (func(*Session), error) {
			if o.validator == nil {
				return nil, errors.New("no onboarding validator configured")
			}
			if cred.Profile == nil {
				return nil, rejected("profile is required")
			}
			ok, err := o.validator.Accept(ctx, c.username, *cred.Profile)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, rejected("profile rejected")
			}
			return func(s *Session) {
				s.onboardingCompleted = true
			}, nil
		},
	}.run(ctx, s)
}

func (o *OnboardingStep) accessDeniedMessage() string {
	return "Previous authentication steps must be completed first"
}

func (o *OnboardingStep) reset(s *Session) {
	delete(s.completed, o.id)
	s.onboardingCompleted = false
}
