package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

// Step ids.
const (
	StepPassword   = "password"
	StepOTP        = "otp"
	StepOnboarding = "onboarding"
)

// Capability tokens granted on terminal success.
const (
	GrantRoleUser           = "ROLE_USER"
	GrantFullyAuthenticated = "FULLY_AUTHENTICATED"
)

// StepGrant returns the capability token for the step with the given order.
func StepGrant(order int) string {
	return fmt.Sprintf("STEP_%d_COMPLETED", order)
}

// Step is one verification factor of the flow.
//
// Predicates take a State so that a caller can evaluate several of them on a
// single consistent view. Process is the only way a step becomes completed.
// The set of steps is closed: PasswordStep, OTPStep and OnboardingStep.
type Step interface {
	ID() string
	Name() string
	Order() int
	URL() string
	Enabled() bool
	Completed(st State) bool
	CanAccess(st State) bool
	NextStep(st State) string
	SuccessMessage() string
	Process(ctx context.Context, cred Credential, s *Session) Result

	accessDeniedMessage() string
	// The variants below evaluate against a settings snapshot so that no
	// settings read happens while the session lock is held.
	canAccess(st State, flags StaticSettings) bool
	next(flags StaticSettings) string
	successMessage(flags StaticSettings) string
	// reset clears the step's completion marker and owned fields.
	// The caller holds s.mu.
	reset(s *Session)
}

// Credential is the data submitted for a step. Each step reads only its own fields.
type Credential struct {
	Username string
	Password string
	Code     string
	Profile  *domain.OnboardingProfile
}

// Result is the outcome of processing a step.
type Result struct {
	Success   bool
	Completed bool
	Message   string
	NextStep  string
	Grants    []string
	Err       error
}

// ShouldReset reports whether the failure requires the session to be reset.
// Only factor rejections reset; routing and access errors leave the session alone.
func (r Result) ShouldReset() bool {
	return !r.Success && errors.Is(r.Err, domain.ErrVerificationFailed)
}

func failure(message string, err error) Result {
	return Result{Message: message, Err: err}
}

// base holds the identity shared by all step variants.
type base struct {
	id    string
	name  string
	url   string
	order int
	opts  Options
}

func (b *base) ID() string   { return b.id }
func (b *base) Name() string { return b.name }
func (b *base) Order() int   { return b.order }
func (b *base) URL() string  { return b.url }

func (b *base) Completed(st State) bool {
	return st.HasCompleted(b.id)
}

// claim is what a step may read from the session while its check runs unlocked.
type claim struct {
	username    string
	pendingCode string
	version     uint64
	flags       StaticSettings
}

// attempt runs one factor check against a session.
//
// The session lock is held to validate and claim the step, released while
// verify calls external services, and taken again to re-validate and commit.
type attempt struct {
	step          Step
	opts          Options
	settings      SettingsProvider
	rejectMessage string
	// verify returns the mutation to apply on success.
	verify func(ctx context.Context, c claim) (func(s *Session), error)
	// onReject runs under the lock when verify rejects the factor.
	onReject func(s *Session)
}

func (a attempt) run(ctx context.Context, s *Session) Result {
	step := a.step
	logger := a.opts.Logger.With("step", step.ID(), "session", s.ID())
	flags := snapshotSettings(ctx, a.settings)

	s.mu.Lock()
	if a.opts.expired(s.lastActivity) {
		hadProgress := s.hasProgressLocked()
		s.clearLocked(a.opts.Now())
		if hadProgress {
			s.mu.Unlock()
			logger.Warn("session expired, progress discarded")
			return failure("Session expired. Please sign in again.", domain.ErrSessionExpired)
		}
	}
	if res, ok := a.checkLocked(s, flags); !ok {
		s.mu.Unlock()
		return res
	}
	if !s.claimLocked(step.ID()) {
		s.mu.Unlock()
		return failure("This step is already being verified.", domain.ErrStepInProgress)
	}
	c := claim{username: s.username, pendingCode: s.pendingCode, version: s.version, flags: flags}
	s.mu.Unlock()

	apply, err := a.verify(ctx, c)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(step.ID())

	if s.version != c.version {
		logger.Warn("session reset during verification")
		return failure("Session was reset during verification.", domain.ErrSessionReset)
	}
	if err != nil {
		if errors.Is(err, domain.ErrVerificationFailed) {
			if a.onReject != nil {
				a.onReject(s)
			}
			s.lastActivity = a.opts.Now()
			logger.Warn("verification failed", "error", err)
			return failure(a.rejectMessage, err)
		}
		logger.Error("verification unavailable", "error", err)
		return failure("Verification is temporarily unavailable.", fmt.Errorf("%w: %w", domain.ErrCollaborator, err))
	}
	if res, ok := a.checkLocked(s, flags); !ok {
		return res
	}

	if apply != nil {
		apply(s)
	}
	s.markCompletedLocked(step.ID())
	s.lastActivity = a.opts.Now()

	next := step.next(flags)
	s.grantLocked(StepGrant(step.Order()))
	if next == "" {
		s.grantLocked(GrantRoleUser, GrantFullyAuthenticated)
	}
	logger.Debug("step completed", "next", next)

	return Result{
		Success:   true,
		Completed: next == "",
		Message:   step.successMessage(flags),
		NextStep:  next,
		Grants:    append([]string(nil), s.grants...),
	}
}

// checkLocked rejects a step that cannot be accessed or was already completed.
func (a attempt) checkLocked(s *Session, flags StaticSettings) (Result, bool) {
	st := s.stateLocked(false)
	if !a.step.canAccess(st, flags) {
		return failure(a.step.accessDeniedMessage(), domain.ErrAccessDenied), false
	}
	if a.step.Completed(st) {
		return failure("This step has already been completed.", domain.ErrStepAlreadyCompleted), false
	}
	return Result{}, true
}

func rejected(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrVerificationFailed, reason)
}
