package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

func TestChain_FreshSessionStartsWithPassword(t *testing.T) {
	for _, tc := range combinations {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.otp, tc.onboarding)
			s := h.newSession()

			assert.Equal(t, StepPassword, h.chain.NextStep(s))
			assert.Equal(t, StepPassword, h.chain.FirstStep().ID())
			assert.False(t, h.chain.IsFullyAuthenticated(s))
		})
	}
}

func TestChain_NextStepAfterPassword(t *testing.T) {
	want := map[string]string{
		"password only":           "",
		"password and otp":        StepOTP,
		"password and onboarding": StepOnboarding,
		"all steps":               StepOTP,
	}
	for _, tc := range combinations {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.otp, tc.onboarding)
			s := h.newSession()

			res := h.complete(t, s, StepPassword)
			assert.Equal(t, want[tc.name], res.NextStep)
			assert.Equal(t, want[tc.name], h.chain.NextStep(s))
			assert.Equal(t, want[tc.name] == "", res.Completed)
		})
	}
}

func TestChain_FullyAuthenticatedOnLastStep(t *testing.T) {
	for _, tc := range combinations {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.otp, tc.onboarding)
			s := h.newSession()

			enabled := h.chain.EnabledSteps()
			for i, step := range enabled {
				require.False(t, h.chain.IsFullyAuthenticated(s), "before %s", step.ID())
				res := h.complete(t, s, step.ID())
				assert.Equal(t, i == len(enabled)-1, res.Completed)
			}

			assert.True(t, h.chain.IsFullyAuthenticated(s))
			assert.True(t, h.chain.IsFullyAuthenticated(s))
			assert.Empty(t, h.chain.NextStep(s))
		})
	}
}

func TestChain_OTPOnFreshSessionIsDenied(t *testing.T) {
	h := newHarness(t, true, true)
	s := h.newSession()

	res := h.chain.Submit(context.Background(), StepOTP, Credential{Code: "482913"}, s)

	require.ErrorIs(t, res.Err, domain.ErrAccessDenied)
	assert.False(t, res.Success)
	assert.Equal(t, "Password authentication must be completed first", res.Message)
	assert.Empty(t, h.chain.State(s).CompletedSteps())
	assert.Equal(t, uint64(0), s.Version())
}

func TestChain_OnboardingRequiresOTPWhenEnabled(t *testing.T) {
	h := newHarness(t, true, true)
	s := h.newSession()
	h.complete(t, s, StepPassword)

	res := h.chain.Submit(context.Background(), StepOnboarding, Credential{Profile: validProfile()}, s)

	require.ErrorIs(t, res.Err, domain.ErrAccessDenied)
	assert.Equal(t, []string{StepPassword}, h.chain.State(s).CompletedSteps())
}

func TestChain_WrongOTPResetsSession(t *testing.T) {
	h := newHarness(t, true, false)
	s := h.newSession()
	h.complete(t, s, StepPassword)

	res := h.chain.Submit(context.Background(), StepOTP, Credential{Code: "000000"}, s)

	require.ErrorIs(t, res.Err, domain.ErrVerificationFailed)
	assert.Equal(t, "Invalid OTP code", res.Message)
	assert.Equal(t, StepPassword, h.chain.NextStep(s))

	st := h.chain.State(s)
	assert.Empty(t, st.Username)
	assert.Empty(t, st.CompletedSteps())
	assert.Empty(t, st.Grants)
}

func TestChain_WrongPasswordResetsSession(t *testing.T) {
	h := newHarness(t, false, false)
	s := h.newSession()

	res := h.chain.Submit(context.Background(), StepPassword, Credential{Username: "admin", Password: "nope"}, s)

	require.ErrorIs(t, res.Err, domain.ErrVerificationFailed)
	assert.Equal(t, "Invalid username or password", res.Message)
	assert.Equal(t, uint64(1), s.Version())
}

func TestChain_EnablingOnboardingDemotesSession(t *testing.T) {
	h := newHarness(t, true, false)
	s := h.newSession()
	h.complete(t, s, StepPassword)
	h.complete(t, s, StepOTP)
	require.True(t, h.chain.IsFullyAuthenticated(s))

	h.settings.onboarding.Store(true)

	assert.False(t, h.chain.IsFullyAuthenticated(s))
	assert.Equal(t, StepOnboarding, h.chain.NextStep(s))

	h.complete(t, s, StepOnboarding)
	assert.True(t, h.chain.IsFullyAuthenticated(s))
}

func TestChain_FullFlowWalk(t *testing.T) {
	h := newHarness(t, true, true)
	s := h.newSession()
	ctx := context.Background()

	steps := []struct {
		stepID string
		cred   func() Credential
		want   Result
	}{
		{
			stepID: StepPassword,
			cred:   func() Credential { return Credential{Username: "admin", Password: "password123"} },
			want: Result{
				Success:  true,
				Message:  "Credentials verified. OTP sent.",
				NextStep: StepOTP,
				Grants:   []string{"STEP_1_COMPLETED"},
			},
		},
		{
			stepID: StepOTP,
			cred:   func() Credential { return Credential{Code: h.codes.lastCode("admin")} },
			want: Result{
				Success:  true,
				Message:  "OTP verified. Please complete onboarding.",
				NextStep: StepOnboarding,
				Grants:   []string{"STEP_1_COMPLETED", "STEP_2_COMPLETED"},
			},
		},
		{
			stepID: StepOnboarding,
			cred:   func() Credential { return Credential{Profile: validProfile()} },
			want: Result{
				Success:   true,
				Completed: true,
				Message:   "Authentication completed successfully!",
				Grants: []string{
					"STEP_1_COMPLETED", "STEP_2_COMPLETED", "STEP_3_COMPLETED",
					GrantRoleUser, GrantFullyAuthenticated,
				},
			},
		},
	}

	for _, step := range steps {
		require.Equal(t, step.stepID, h.chain.NextStep(s))
		got := h.chain.Submit(ctx, step.stepID, step.cred(), s)
		if diff := cmp.Diff(step.want, got); diff != "" {
			t.Fatalf("%s result mismatch (-want +got):\n%s", step.stepID, diff)
		}
	}

	st := h.chain.State(s)
	assert.Equal(t, "admin", st.Username)
	assert.True(t, st.OnboardingCompleted)
	assert.Equal(t, []string{StepOnboarding, StepOTP, StepPassword}, st.CompletedSteps())
	assert.Empty(t, h.chain.NextStep(s))
}

func TestChain_ProcessStepRoutingErrors(t *testing.T) {
	h := newHarness(t, false, true)
	s := h.newSession()
	ctx := context.Background()

	tests := []struct {
		name   string
		stepID string
		want   error
	}{
		{"unknown step", "biometric", domain.ErrUnknownStep},
		{"disabled step", StepOTP, domain.ErrStepDisabled},
		{"inaccessible step", StepOnboarding, domain.ErrAccessDenied},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := h.chain.Submit(ctx, tc.stepID, Credential{Code: "1"}, s)
			require.ErrorIs(t, res.Err, tc.want)
			assert.False(t, res.ShouldReset())
			assert.Equal(t, uint64(0), s.Version())
		})
	}
}

func TestChain_ReplayIsRejected(t *testing.T) {
	h := newHarness(t, true, false)
	s := h.newSession()
	h.complete(t, s, StepPassword)

	res := h.chain.Submit(context.Background(), StepPassword, Credential{Username: "user", Password: "userpass"}, s)

	require.ErrorIs(t, res.Err, domain.ErrStepAlreadyCompleted)
	require.ErrorIs(t, res.Err, domain.ErrAccessDenied)
	assert.False(t, res.ShouldReset())
	assert.Equal(t, int32(1), h.verifier.calls.Load())
	assert.Equal(t, "admin", h.chain.State(s).Username)
}

func TestChain_ConcurrentSubmissionAppliesOnce(t *testing.T) {
	h := newHarness(t, false, false)
	h.verifier.started = make(chan struct{})
	h.verifier.release = make(chan struct{})
	s := h.newSession()
	ctx := context.Background()

	first := make(chan Result)
	go func() {
		first <- h.chain.Submit(ctx, StepPassword, Credential{Username: "admin", Password: "password123"}, s)
	}()
	<-h.verifier.started

	second := h.chain.Submit(ctx, StepPassword, Credential{Username: "admin", Password: "password123"}, s)
	require.ErrorIs(t, second.Err, domain.ErrStepInProgress)

	close(h.verifier.release)
	res := <-first
	require.True(t, res.Success)
	assert.Equal(t, int32(1), h.verifier.calls.Load())
	assert.True(t, h.chain.IsFullyAuthenticated(s))
}

func TestChain_ParallelOTPSubmissionsSucceedOnce(t *testing.T) {
	h := newHarness(t, true, false)
	s := h.newSession()
	h.complete(t, s, StepPassword)
	code := h.codes.lastCode("admin")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.chain.Submit(context.Background(), StepOTP, Credential{Code: code}, s)
			if res.Success {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.False(t, res.ShouldReset())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.True(t, h.chain.IsFullyAuthenticated(s))
}

func TestChain_ResetDuringVerificationDiscardsResult(t *testing.T) {
	h := newHarness(t, false, false)
	h.verifier.started = make(chan struct{})
	h.verifier.release = make(chan struct{})
	s := h.newSession()

	done := make(chan Result)
	go func() {
		done <- h.chain.Submit(context.Background(), StepPassword, Credential{Username: "admin", Password: "password123"}, s)
	}()
	<-h.verifier.started
	h.chain.ResetAll(s)
	close(h.verifier.release)

	res := <-done
	require.ErrorIs(t, res.Err, domain.ErrSessionReset)
	assert.False(t, h.chain.IsFullyAuthenticated(s))
	assert.Empty(t, h.chain.State(s).Username)
}

func TestChain_ExpiredSessionIsTreatedAsReset(t *testing.T) {
	h := newHarness(t, true, false)
	s := h.newSession()
	h.complete(t, s, StepPassword)

	h.clock.Advance(31 * time.Minute)

	st := h.chain.State(s)
	assert.True(t, st.Expired)
	assert.Empty(t, st.CompletedSteps())
	assert.Equal(t, StepPassword, h.chain.NextStep(s))
	assert.Equal(t, uint64(0), s.Version(), "queries must not mutate the session")

	res := h.chain.Submit(context.Background(), StepOTP, Credential{Code: h.codes.lastCode("admin")}, s)
	require.ErrorIs(t, res.Err, domain.ErrSessionExpired)
	assert.Equal(t, uint64(1), s.Version())

	h.complete(t, s, StepPassword)
	assert.Equal(t, StepOTP, h.chain.NextStep(s))
}

func TestChain_ExpiredEmptySessionContinues(t *testing.T) {
	h := newHarness(t, false, false)
	s := h.newSession()
	h.clock.Advance(2 * time.Hour)

	res := h.complete(t, s, StepPassword)
	assert.True(t, res.Completed)
}

func TestChain_CollaboratorFailureDoesNotReset(t *testing.T) {
	t.Run("onboarding store down", func(t *testing.T) {
		h := newHarness(t, false, true)
		s := h.newSession()
		h.complete(t, s, StepPassword)
		h.onboarding.err = errors.New("connection refused")

		res := h.chain.Submit(context.Background(), StepOnboarding, Credential{Profile: validProfile()}, s)

		require.ErrorIs(t, res.Err, domain.ErrCollaborator)
		assert.False(t, res.ShouldReset())
		assert.Equal(t, []string{StepPassword}, h.chain.State(s).CompletedSteps())
	})

	t.Run("code delivery fails", func(t *testing.T) {
		h := newHarness(t, true, false)
		h.codes.deliverErr = errors.New("smtp unavailable")
		s := h.newSession()

		res := h.chain.Submit(context.Background(), StepPassword, Credential{Username: "admin", Password: "password123"}, s)

		require.ErrorIs(t, res.Err, domain.ErrCollaborator)
		assert.Empty(t, h.chain.State(s).CompletedSteps())
		assert.Equal(t, StepPassword, h.chain.NextStep(s))
	})
}

func TestChain_Progress(t *testing.T) {
	h := newHarness(t, true, true)
	s := h.newSession()
	h.complete(t, s, StepPassword)

	p := h.chain.Progress(s)
	want := Progress{Completed: 1, Total: 3, NextStep: StepOTP}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("Progress mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 33.33, p.Percentage(), 0.01)
	assert.Zero(t, Progress{}.Percentage())
}

func TestChain_FlowDescription(t *testing.T) {
	want := map[string]string{
		"password only":           "Username/Password Authentication (1 steps)",
		"password and otp":        "Username/Password Authentication → One-Time Password Verification (2 steps)",
		"password and onboarding": "Username/Password Authentication → Profile Onboarding (2 steps)",
		"all steps":               "Username/Password Authentication → One-Time Password Verification → Profile Onboarding (3 steps)",
	}
	for _, tc := range combinations {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.otp, tc.onboarding)
			assert.Equal(t, want[tc.name], h.chain.FlowDescription())
		})
	}
}

func TestNewChain(t *testing.T) {
	settings := StaticSettings{OTP: true, Onboarding: true}
	codes := &fakeCodes{code: "111111"}

	t.Run("duplicate ids", func(t *testing.T) {
		_, err := NewChain(Options{},
			NewOTPStep(codes, settings, Options{}),
			NewOTPStep(codes, settings, Options{}),
		)
		require.Error(t, err)
	})

	t.Run("sorted by order", func(t *testing.T) {
		c, err := NewChain(Options{},
			NewOnboardingStep(&fakeOnboarding{}, settings, Options{}),
			NewOTPStep(codes, settings, Options{}),
			NewPasswordStep(&fakeVerifier{}, codes, settings, Options{}),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{StepPassword, StepOTP, StepOnboarding}, stepIDs(c.Steps()))
	})

	t.Run("ties keep registration order", func(t *testing.T) {
		tied := NewOTPStep(codes, settings, Options{})
		tied.order = 1
		c, err := NewChain(Options{},
			tied,
			NewPasswordStep(&fakeVerifier{}, codes, settings, Options{}),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{StepOTP, StepPassword}, stepIDs(c.Steps()))
	})

	t.Run("missing collaborators", func(t *testing.T) {
		_, err := New(Collaborators{}, Options{})
		require.Error(t, err)
	})
}

func TestChain_ResetStepRevokesTerminalGrants(t *testing.T) {
	h := newHarness(t, true, false)
	s := h.newSession()
	h.complete(t, s, StepPassword)
	h.complete(t, s, StepOTP)

	require.NoError(t, h.chain.ResetStep(StepOTP, s))

	st := h.chain.State(s)
	assert.Equal(t, []string{"STEP_1_COMPLETED"}, st.Grants)
	assert.Equal(t, StepOTP, h.chain.NextStep(s))
	assert.False(t, h.chain.IsFullyAuthenticated(s))
	require.ErrorIs(t, h.chain.ResetStep("nope", s), domain.ErrUnknownStep)
}

func TestChain_ResetAllIncludesDisabledSteps(t *testing.T) {
	h := newHarness(t, true, true)
	s := h.newSession()
	h.complete(t, s, StepPassword)
	h.complete(t, s, StepOTP)
	h.settings.otp.Store(false)

	h.chain.ResetAll(s)

	st := h.chain.State(s)
	assert.Empty(t, st.CompletedSteps())
	assert.Empty(t, st.Username)
	assert.False(t, st.OnboardingCompleted)
}

func stepIDs(steps []Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID()
	}
	return ids
}

func TestChain_PasswordUsernameIsTrimmedOnce(t *testing.T) {
	for _, tc := range combinations {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.otp, tc.onboarding)
			s := h.newSession()

			res := h.chain.Submit(context.Background(), StepPassword,
				Credential{Username: "  admin ", Password: "password123"}, s)
			require.True(t, res.Success, res.Message)

			assert.Equal(t, "admin", h.chain.State(s).Username)
			if tc.otp {
				assert.Equal(t, "482913", h.codes.lastCode("admin"))
				assert.Empty(t, h.codes.lastCode("  admin "))
			}
		})
	}
}

type ctxKey struct{}

// recordingSettings reads its toggles through Current and records how it was called.
type recordingSettings struct {
	StaticSettings
	session *Session

	mu         sync.Mutex
	reads      int
	lockedRead bool
	ctxValues  []any
}

func (r *recordingSettings) Current(ctx context.Context) *domain.AuthSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.session != nil {
		if r.session.mu.TryLock() {
			r.session.mu.Unlock()
		} else {
			r.lockedRead = true
		}
	}
	r.ctxValues = append(r.ctxValues, ctx.Value(ctxKey{}))
	return domain.NewAuthSettings(r.OTP, r.Onboarding)
}

func TestChain_SettingsAreReadOutsideSessionLock(t *testing.T) {
	settings := &recordingSettings{StaticSettings: StaticSettings{OTP: true, Onboarding: true}}
	codes := &fakeCodes{code: "135790"}
	chain, err := New(Collaborators{
		Credentials: &fakeVerifier{users: map[string]string{"admin": "password123"}},
		Codes:       codes,
		Onboarding:  &fakeOnboarding{},
		Settings:    settings,
	}, Options{})
	require.NoError(t, err)

	s := NewSession("sess-lock", time.Now())
	settings.session = s
	ctx := context.WithValue(context.Background(), ctxKey{}, "request")

	res := chain.ProcessStep(ctx, StepPassword, Credential{Username: "admin", Password: "password123"}, s)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, StepOTP, res.NextStep)
	assert.Equal(t, "Credentials verified. OTP sent.", res.Message)

	res = chain.ProcessStep(ctx, StepOTP, Credential{Code: codes.lastCode("admin")}, s)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, StepOnboarding, res.NextStep)

	settings.mu.Lock()
	defer settings.mu.Unlock()
	assert.False(t, settings.lockedRead, "settings read while the session lock was held")
	require.NotEmpty(t, settings.ctxValues)
	assert.Contains(t, settings.ctxValues, "request")
}
