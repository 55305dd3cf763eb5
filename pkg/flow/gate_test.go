package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGate_Allow(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		otp        bool
		onboarding bool
		completed  []string
		resource   Resource
		want       bool
	}{
		{"otp area needs password", true, true, nil, OTPArea, false},
		{"otp area after password", true, true, []string{StepPassword}, OTPArea, true},
		{"otp area disabled", false, true, []string{StepPassword}, OTPArea, false},
		{"onboarding needs otp when enabled", true, true, []string{StepPassword}, OnboardingArea, false},
		{"onboarding after otp", true, true, []string{StepPassword, StepOTP}, OnboardingArea, true},
		{"onboarding after password without otp", false, true, []string{StepPassword}, OnboardingArea, true},
		{"onboarding disabled", false, false, []string{StepPassword}, OnboardingArea, false},
		{"protected needs every step", true, true, []string{StepPassword, StepOTP}, ProtectedAPI, false},
		{"protected when complete", true, false, []string{StepPassword, StepOTP}, ProtectedAPI, true},
		{"admin open by default", true, true, nil, AdminArea, true},
		{"unknown resource", true, true, nil, Resource(99), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.otp, tc.onboarding)
			s := h.newSession()
			for _, id := range tc.completed {
				h.complete(t, s, id)
			}

			g := NewGate(h.chain, h.settings)
			assert.Equal(t, tc.want, g.Allow(ctx, tc.resource, s), tc.resource.String())
		})
	}
}

func TestGate_ProtectedRejectsStaleGrant(t *testing.T) {
	h := newHarness(t, false, false)
	s := h.newSession()
	h.complete(t, s, StepPassword)
	g := NewGate(h.chain, h.settings)
	assert.True(t, g.Allow(context.Background(), ProtectedAPI, s))

	h.settings.otp.Store(true)
	assert.False(t, g.Allow(context.Background(), ProtectedAPI, s), "grant held but flow no longer complete")
}

func TestGate_ExpiredSessionDenied(t *testing.T) {
	h := newHarness(t, false, false)
	s := h.newSession()
	h.complete(t, s, StepPassword)
	g := NewGate(h.chain, h.settings)

	h.clock.Advance(31 * time.Minute)

	assert.False(t, g.Allow(context.Background(), ProtectedAPI, s))
}

func TestGate_AdminPolicy(t *testing.T) {
	h := newHarness(t, false, false)
	g := NewGate(h.chain, h.settings, WithAdminPolicy(func(_ context.Context, st State) bool {
		return st.Username == "admin" && st.HasGrant(GrantFullyAuthenticated)
	}))
	s := h.newSession()

	assert.False(t, g.Allow(context.Background(), AdminArea, s))
	assert.False(t, g.Allow(context.Background(), AdminArea, nil))

	h.complete(t, s, StepPassword)
	assert.True(t, g.Allow(context.Background(), AdminArea, s))
}

func TestGate_NilSession(t *testing.T) {
	h := newHarness(t, true, true)
	g := NewGate(h.chain, h.settings)

	for _, r := range []Resource{ProtectedAPI, OTPArea, OnboardingArea} {
		assert.False(t, g.Allow(context.Background(), r, nil), r.String())
	}
}
