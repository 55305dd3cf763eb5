package flow

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

type toggles struct {
	otp        atomic.Bool
	onboarding atomic.Bool
}

func newToggles(otp, onboarding bool) *toggles {
	t := &toggles{}
	t.otp.Store(otp)
	t.onboarding.Store(onboarding)
	return t
}

func (t *toggles) OTPEnabled() bool        { return t.otp.Load() }
func (t *toggles) OnboardingEnabled() bool { return t.onboarding.Load() }

type fakeVerifier struct {
	users map[string]string
	err   error

	// started and release let a test hold a call in flight.
	started chan struct{}
	release chan struct{}

	calls atomic.Int32
}

func (f *fakeVerifier) Validate(ctx context.Context, username, secret string) (bool, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if f.err != nil {
		return false, f.err
	}
	want, ok := f.users[username]
	return ok && want == secret, nil
}

type fakeCodes struct {
	mu         sync.Mutex
	code       string
	delivered  map[string]string
	deliverErr error
}

func (f *fakeCodes) Generate(context.Context) (string, error) {
	return f.code, nil
}

func (f *fakeCodes) Deliver(_ context.Context, username, code string) error {
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delivered == nil {
		f.delivered = make(map[string]string)
	}
	f.delivered[username] = code
	return nil
}

func (f *fakeCodes) Matches(expected, provided string) bool {
	return expected == strings.TrimSpace(provided)
}

func (f *fakeCodes) lastCode(username string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered[username]
}

type fakeOnboarding struct {
	err error
}

func (f *fakeOnboarding) Accept(_ context.Context, _ string, p domain.OnboardingProfile) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return strings.TrimSpace(p.FullName) != "" && strings.Contains(p.Email, "@"), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	chain      *Chain
	settings   *toggles
	verifier   *fakeVerifier
	codes      *fakeCodes
	onboarding *fakeOnboarding
	clock      *fakeClock
}

func newHarness(t *testing.T, otp, onboarding bool) *harness {
	t.Helper()
	h := &harness{
		settings:   newToggles(otp, onboarding),
		verifier:   &fakeVerifier{users: map[string]string{"admin": "password123", "user": "userpass"}},
		codes:      &fakeCodes{code: "482913"},
		onboarding: &fakeOnboarding{},
		clock:      newFakeClock(),
	}
	chain, err := New(Collaborators{
		Credentials: h.verifier,
		Codes:       h.codes,
		Onboarding:  h.onboarding,
		Settings:    h.settings,
	}, Options{Now: h.clock.Now})
	require.NoError(t, err)
	h.chain = chain
	return h
}

func (h *harness) newSession() *Session {
	return NewSession("sess-1", h.clock.Now())
}

func validProfile() *domain.OnboardingProfile {
	return &domain.OnboardingProfile{FullName: "Ada Lovelace", Email: "ada@example.com"}
}

// complete submits a valid credential for stepID and requires success.
func (h *harness) complete(t *testing.T, s *Session, stepID string) Result {
	t.Helper()
	var cred Credential
	switch stepID {
	case StepPassword:
		cred = Credential{Username: "admin", Password: "password123"}
	case StepOTP:
		cred = Credential{Code: h.codes.lastCode("admin")}
	case StepOnboarding:
		cred = Credential{Profile: validProfile()}
	}
	res := h.chain.Submit(context.Background(), stepID, cred, s)
	require.True(t, res.Success, "step %s failed: %s (%v)", stepID, res.Message, res.Err)
	return res
}

var combinations = []struct {
	name       string
	otp        bool
	onboarding bool
}{
	{"password only", false, false},
	{"password and otp", true, false},
	{"password and onboarding", false, true},
	{"all steps", true, true},
}
