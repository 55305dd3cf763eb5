package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

// Collaborators are the external services the standard steps delegate to.
type Collaborators struct {
	Credentials CredentialVerifier
	Codes       CodeIssuer
	Onboarding  OnboardingValidator
	Settings    SettingsProvider
}

// Chain is the ordered registry of steps. It is immutable after construction
// and safe for concurrent use; the enabled subset is recomputed on every call.
type Chain struct {
	steps []Step
	byID  map[string]Step
	opts  Options
}

// Progress summarizes a session against the currently enabled steps.
type Progress struct {
	Completed          int    `json:"completed_steps"`
	Total              int    `json:"total_steps"`
	FullyAuthenticated bool   `json:"fully_authenticated"`
	NextStep           string `json:"next_step,omitempty"`
}

// Percentage returns the share of enabled steps completed, from 0 to 100.
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// New builds the standard password, otp and onboarding chain.
func New(c Collaborators, opts Options) (*Chain, error) {
	if c.Credentials == nil || c.Settings == nil {
		return nil, errors.New("credential verifier and settings provider are required")
	}
	return NewChain(opts,
		NewPasswordStep(c.Credentials, c.Codes, c.Settings, opts),
		NewOTPStep(c.Codes, c.Settings, opts),
		NewOnboardingStep(c.Onboarding, c.Settings, opts),
	)
}

// NewChain registers steps sorted by order. Steps with equal order keep their
// registration order. Step ids must be unique.
func NewChain(opts Options, steps ...Step) (*Chain, error) {
	c := &Chain{
		steps: make([]Step, 0, len(steps)),
		byID:  make(map[string]Step, len(steps)),
		opts:  opts.withDefaults(),
	}
	for _, step := range steps {
		if step == nil {
			return nil, errors.New("nil step")
		}
		if _, dup := c.byID[step.ID()]; dup {
			return nil, fmt.Errorf("duplicate step id %q", step.ID())
		}
		c.byID[step.ID()] = step
		c.steps = append(c.steps, step)
	}
	sort.SliceStable(c.steps, func(i, j int) bool {
		return c.steps[i].Order() < c.steps[j].Order()
	})
	return c, nil
}

// Steps returns all registered steps in order, enabled or not.
func (c *Chain) Steps() []Step {
	return append([]Step(nil), c.steps...)
}

// Step looks up a step by id.
func (c *Chain) Step(id string) (Step, bool) {
	step, ok := c.byID[id]
	return step, ok
}

// EnabledSteps returns the currently enabled steps in order.
func (c *Chain) EnabledSteps() []Step {
	enabled := make([]Step, 0, len(c.steps))
	for _, step := range c.steps {
		if step.Enabled() {
			enabled = append(enabled, step)
		}
	}
	return enabled
}

// FirstStep returns the first enabled step, or nil when none is enabled.
func (c *Chain) FirstStep() Step {
	for _, step := range c.steps {
		if step.Enabled() {
			return step
		}
	}
	return nil
}

// State returns a consistent view of s. An idle session is reported as
// expired and empty; the session itself is not modified.
func (c *Chain) State(s *Session) State {
	return c.opts.snapshot(s)
}

// NextStep returns the id of the step the session should complete next, or
// "" when every enabled step is completed.
func (c *Chain) NextStep(s *Session) string {
	return c.nextStep(c.opts.snapshot(s))
}

func (c *Chain) nextStep(st State) string {
	pending := ""
	for _, step := range c.EnabledSteps() {
		if step.Completed(st) {
			continue
		}
		if step.CanAccess(st) {
			return step.ID()
		}
		if pending == "" {
			pending = step.ID()
		}
	}
	return pending
}

// IsFullyAuthenticated reports whether every currently enabled step is
// completed. Enabling a step demotes sessions that completed the old flow.
func (c *Chain) IsFullyAuthenticated(s *Session) bool {
	return c.fullyAuthenticated(c.opts.snapshot(s))
}

func (c *Chain) fullyAuthenticated(st State) bool {
	for _, step := range c.EnabledSteps() {
		if !step.Completed(st) {
			return false
		}
	}
	return true
}

// Progress reports how far s is through the enabled steps.
func (c *Chain) Progress(s *Session) Progress {
	st := c.opts.snapshot(s)
	enabled := c.EnabledSteps()

	p := Progress{Total: len(enabled)}
	for _, step := range enabled {
		if step.Completed(st) {
			p.Completed++
		}
	}
	p.FullyAuthenticated = c.fullyAuthenticated(st)
	p.NextStep = c.nextStep(st)
	return p
}

// ProcessStep routes a credential to the step with the given id.
//
// The checks run in order: the step must exist, be enabled, the session must
// not have expired and the step must be accessible. None of the failures
// modify the session, except expiry which resets it.
func (c *Chain) ProcessStep(ctx context.Context, stepID string, cred Credential, s *Session) Result {
	step, ok := c.byID[stepID]
	if !ok {
		return failure(fmt.Sprintf("Unknown authentication step: %s", stepID), domain.ErrUnknownStep)
	}
	if !step.Enabled() {
		return failure(fmt.Sprintf("Authentication step %s is disabled", stepID), domain.ErrStepDisabled)
	}

	s.mu.Lock()
	if c.opts.expired(s.lastActivity) {
		hadProgress := s.hasProgressLocked()
		c.resetAllLocked(s)
		if hadProgress {
			s.mu.Unlock()
			c.opts.Logger.Warn("session expired, progress discarded", "session", s.ID(), "step", stepID)
			return failure("Session expired. Please sign in again.", domain.ErrSessionExpired)
		}
	}
	st := s.stateLocked(false)
	s.mu.Unlock()

	if !step.CanAccess(st) {
		return failure(step.accessDeniedMessage(), domain.ErrAccessDenied)
	}
	return step.Process(ctx, cred, s)
}

// Submit processes a step and applies the reset policy: a rejected factor
// resets the whole session, any other failure leaves it untouched.
func (c *Chain) Submit(ctx context.Context, stepID string, cred Credential, s *Session) Result {
	res := c.ProcessStep(ctx, stepID, cred, s)
	if res.ShouldReset() {
		c.opts.Logger.Info("resetting session after rejected factor", "session", s.ID(), "step", stepID)
		c.ResetAll(s)
	}
	return res
}

// ResetAll resets every registered step, including disabled ones, and clears
// the session.
func (c *Chain) ResetAll(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.resetAllLocked(s)
}

func (c *Chain) resetAllLocked(s *Session) {
	for _, step := range c.steps {
		step.reset(s)
	}
	s.clearLocked(c.opts.Now())
}

// ResetStep clears a single step and revokes the grants that depended on it.
func (c *Chain) ResetStep(stepID string, s *Session) error {
	step, ok := c.byID[stepID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownStep, stepID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	step.reset(s)
	s.revokeLocked(StepGrant(step.Order()), GrantRoleUser, GrantFullyAuthenticated)
	s.version++
	s.lastActivity = c.opts.Now()
	return nil
}

// FlowDescription names the enabled steps, e.g.
// "Username/Password Authentication → Profile Onboarding (2 steps)".
func (c *Chain) FlowDescription() string {
	enabled := c.EnabledSteps()
	if len(enabled) == 0 {
		return "No authentication steps enabled"
	}
	names := make([]string, len(enabled))
	for i, step := range enabled {
		names[i] = step.Name()
	}
	return fmt.Sprintf("%s (%d steps)", strings.Join(names, " → "), len(enabled))
}
