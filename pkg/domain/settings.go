package domain

import "time"

// DefaultSettingsName is the name of the settings row the service reads and writes.
const DefaultSettingsName = "DEFAULT"

// AuthSettings toggles the optional steps of the authentication flow.
// The password step is always required and has no switch.
type AuthSettings struct {
	Name              string    `json:"setting_name"`
	OTPEnabled        bool      `json:"otp_enabled"`
	OnboardingEnabled bool      `json:"onboarding_enabled"`
	Description       string    `json:"description"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewAuthSettings returns the default settings row with the given toggles.
func NewAuthSettings(otpEnabled, onboardingEnabled bool) *AuthSettings {
	return &AuthSettings{
		Name:              DefaultSettingsName,
		OTPEnabled:        otpEnabled,
		OnboardingEnabled: onboardingEnabled,
		Description:       "Default authentication settings",
		UpdatedAt:         time.Now(),
	}
}

// FlowDescription describes the flow the settings produce.
func (s *AuthSettings) FlowDescription() string {
	return FlowDescription(s.OTPEnabled, s.OnboardingEnabled)
}

// FlowDescription describes the flow for a combination of optional steps.
func FlowDescription(otpEnabled, onboardingEnabled bool) string {
	switch {
	case otpEnabled && onboardingEnabled:
		return "Password + OTP + Onboarding (3 steps)"
	case otpEnabled:
		return "Password + OTP (2 steps)"
	case onboardingEnabled:
		return "Password + Onboarding (2 steps)"
	default:
		return "Password only (1 step)"
	}
}

// FlowCombination documents one of the four possible flows.
type FlowCombination struct {
	OTP         bool   `json:"otp"`
	Onboarding  bool   `json:"onboarding"`
	Description string `json:"description"`
	Flow        string `json:"flow"`
}

// FlowCombinations lists every combination of the optional steps keyed by a short name.
func FlowCombinations() map[string]FlowCombination {
	return map[string]FlowCombination{
		"password_only": {
			Description: FlowDescription(false, false),
			Flow:        "Password → Dashboard",
		},
		"password_otp": {
			OTP:         true,
			Description: FlowDescription(true, false),
			Flow:        "Password → OTP → Dashboard",
		},
		"password_onboarding": {
			Onboarding:  true,
			Description: FlowDescription(false, true),
			Flow:        "Password → Onboarding → Dashboard",
		},
		"full_3fa": {
			OTP:         true,
			Onboarding:  true,
			Description: FlowDescription(true, true),
			Flow:        "Password → OTP → Onboarding → Dashboard",
		},
	}
}
