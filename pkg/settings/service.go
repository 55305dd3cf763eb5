package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
)

const (
	// DefaultCacheTTL bounds how stale a cached read may be.
	DefaultCacheTTL = 5 * time.Second

	// Sentinels returned by NextStepAfter.
	NextDashboard = "dashboard"
	NextLogin     = "login"

	defaultReadTimeout = 2 * time.Second
)

// Repository persists the settings row.
type Repository interface {
	// Get returns domain.ErrSettingsNotFound when no row exists.
	Get(ctx context.Context, name string) (*domain.AuthSettings, error)
	Save(ctx context.Context, settings *domain.AuthSettings) error
}

// Config holds settings service configuration.
type Config struct {
	CacheTTL                 time.Duration
	DefaultOTPEnabled        bool
	DefaultOnboardingEnabled bool
	// ReadTimeout bounds repository reads made by OTPEnabled and OnboardingEnabled.
	ReadTimeout time.Duration
}

// DefaultConfig enables every optional step.
func DefaultConfig() Config {
	return Config{
		CacheTTL:                 DefaultCacheTTL,
		DefaultOTPEnabled:        true,
		DefaultOnboardingEnabled: true,
		ReadTimeout:              defaultReadTimeout,
	}
}

// Service reads and writes the authentication settings. Reads are cached for
// CacheTTL; writes replace the cache before returning.
type Service struct {
	repo   Repository
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	cached   *domain.AuthSettings
	loadedAt time.Time
}

var _ flow.SettingsProvider = (*Service)(nil)

// NewService creates a new settings service.
func NewService(repo Repository, config Config, logger *slog.Logger) *Service {
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Initialize creates the default settings row when none exists.
func (s *Service) Initialize(ctx context.Context) (*domain.AuthSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx, domain.DefaultSettingsName)
	if err == nil {
		s.storeLocked(current)
		return clone(current), nil
	}
	if !errors.Is(err, domain.ErrSettingsNotFound) {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	defaults := s.defaults()
	defaults.Description = "Default authentication settings"
	if err := s.repo.Save(ctx, defaults); err != nil {
		return nil, fmt.Errorf("save default settings: %w", err)
	}
	s.logger.Info("created default authentication settings",
		"otp_enabled", defaults.OTPEnabled,
		"onboarding_enabled", defaults.OnboardingEnabled)
	s.storeLocked(defaults)
	return clone(defaults), nil
}

// Current returns the live settings. When the repository cannot be read it
// falls back to the last known settings, then to the configured defaults.
func (s *Service) Current(ctx context.Context) *domain.AuthSettings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.loadedAt) < s.config.CacheTTL {
		return clone(s.cached)
	}

	current, err := s.repo.Get(ctx, domain.DefaultSettingsName)
	if err != nil {
		if s.cached != nil {
			s.logger.Warn("failed to load settings, using last known", "error", err)
			return clone(s.cached)
		}
		s.logger.Warn("failed to load settings, using defaults", "error", err)
		return s.defaults()
	}
	s.storeLocked(current)
	return clone(current)
}

// Update saves both toggles.
func (s *Service) Update(ctx context.Context, otpEnabled, onboardingEnabled bool) (*domain.AuthSettings, error) {
	return s.update(ctx, func(a *domain.AuthSettings) {
		a.OTPEnabled = otpEnabled
		a.OnboardingEnabled = onboardingEnabled
	})
}

// Apply changes only the toggles that are non-nil. The merge happens against
// the stored row, not the cache, so a toggle changed by another writer is kept.
func (s *Service) Apply(ctx context.Context, otpEnabled, onboardingEnabled *bool) (*domain.AuthSettings, error) {
	if otpEnabled == nil && onboardingEnabled == nil {
		return nil, errors.New("no settings to change")
	}
	return s.update(ctx, func(a *domain.AuthSettings) {
		if otpEnabled != nil {
			a.OTPEnabled = *otpEnabled
		}
		if onboardingEnabled != nil {
			a.OnboardingEnabled = *onboardingEnabled
		}
	})
}

// SetOTPEnabled toggles the OTP step.
func (s *Service) SetOTPEnabled(ctx context.Context, enabled bool) (*domain.AuthSettings, error) {
	return s.update(ctx, func(a *domain.AuthSettings) { a.OTPEnabled = enabled })
}

// SetOnboardingEnabled toggles the onboarding step.
func (s *Service) SetOnboardingEnabled(ctx context.Context, enabled bool) (*domain.AuthSettings, error) {
	return s.update(ctx, func(a *domain.AuthSettings) { a.OnboardingEnabled = enabled })
}

func (s *Service) update(ctx context.Context, mutate func(*domain.AuthSettings)) (*domain.AuthSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx, domain.DefaultSettingsName)
	switch {
	case errors.Is(err, domain.ErrSettingsNotFound):
		current = s.defaults()
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	}

	mutate(current)
	current.Name = domain.DefaultSettingsName
	current.Description = "Default authentication settings - Updated"
	current.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, current); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	s.storeLocked(current)

	s.logger.Info("authentication settings updated",
		"otp_enabled", current.OTPEnabled,
		"onboarding_enabled", current.OnboardingEnabled)
	return clone(current), nil
}

// Invalidate drops the cached settings.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

// OTPEnabled implements flow.SettingsProvider.
func (s *Service) OTPEnabled() bool {
	return s.read().OTPEnabled
}

// OnboardingEnabled implements flow.SettingsProvider.
func (s *Service) OnboardingEnabled() bool {
	return s.read().OnboardingEnabled
}

// StepRequired reports whether a step is part of the current flow.
func (s *Service) StepRequired(stepID string) bool {
	switch stepID {
	case flow.StepPassword:
		return true
	case flow.StepOTP:
		return s.OTPEnabled()
	case flow.StepOnboarding:
		return s.OnboardingEnabled()
	default:
		return false
	}
}

// NextStepAfter returns the step that follows stepID under the current
// settings, NextDashboard after the last step or NextLogin for unknown steps.
func (s *Service) NextStepAfter(stepID string) string {
	current := s.read()
	switch stepID {
	case flow.StepPassword:
		if current.OTPEnabled {
			return flow.StepOTP
		}
		if current.OnboardingEnabled {
			return flow.StepOnboarding
		}
		return NextDashboard
	case flow.StepOTP:
		if current.OnboardingEnabled {
			return flow.StepOnboarding
		}
		return NextDashboard
	case flow.StepOnboarding:
		return NextDashboard
	default:
		return NextLogin
	}
}

func (s *Service) read() *domain.AuthSettings {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ReadTimeout)
	defer cancel()
	return s.Current(ctx)
}

func (s *Service) defaults() *domain.AuthSettings {
	d := domain.NewAuthSettings(s.config.DefaultOTPEnabled, s.config.DefaultOnboardingEnabled)
	d.UpdatedAt = s.now()
	return d
}

func (s *Service) storeLocked(a *domain.AuthSettings) {
	s.cached = clone(a)
	s.loadedAt = s.now()
}

func clone(a *domain.AuthSettings) *domain.AuthSettings {
	c := *a
	return &c
}
