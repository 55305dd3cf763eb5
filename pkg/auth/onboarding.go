package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
)

const (
	maxFullNameLength = 200
	maxPhoneLength    = 32
)

// ProfileStore persists accepted onboarding profiles.
type ProfileStore interface {
	Save(ctx context.Context, profile *domain.StoredProfile) error
}

// OnboardingService validates and stores onboarding profiles.
type OnboardingService struct {
	profiles ProfileStore
	emails   EmailRules
}

var _ flow.OnboardingValidator = (*OnboardingService)(nil)

// NewOnboardingService creates a new onboarding service. profiles may be nil,
// in which case accepted profiles are not stored.
func NewOnboardingService(profiles ProfileStore, emails EmailRules) *OnboardingService {
	return &OnboardingService{profiles: profiles, emails: emails}
}

// Accept validates a profile and stores it for username. Invalid data is
// reported as (false, nil); only storage failures return an error.
func (s *OnboardingService) Accept(ctx context.Context, username string, profile domain.OnboardingProfile) (bool, error) {
	clean, err := s.Normalize(profile)
	if err != nil {
		return false, nil
	}
	if s.profiles == nil {
		return true, nil
	}

	stored := &domain.StoredProfile{
		ID:          uuid.New(),
		Username:    username,
		FullName:    clean.FullName,
		Email:       clean.Email,
		PhoneNumber: clean.PhoneNumber,
		CompletedAt: time.Now(),
	}
	if err := s.profiles.Save(ctx, stored); err != nil {
		return false, fmt.Errorf("save profile: %w", err)
	}
	return true, nil
}

// Normalize sanitizes a profile and checks it. Errors wrap domain.ErrInvalidProfile.
func (s *OnboardingService) Normalize(profile domain.OnboardingProfile) (domain.OnboardingProfile, error) {
	clean := domain.OnboardingProfile{
		FullName:    SanitizeName(profile.FullName),
		Email:       NormalizeEmail(profile.Email),
		PhoneNumber: SanitizePhone(profile.PhoneNumber),
	}

	if err := ValidateStringLength("full name", clean.FullName, 1, maxFullNameLength); err != nil {
		return clean, fmt.Errorf("%w: %v", domain.ErrInvalidProfile, err)
	}
	if err := s.emails.Validate(clean.Email); err != nil {
		return clean, fmt.Errorf("%w: %v", domain.ErrInvalidProfile, err)
	}
	if err := validatePhone(clean.PhoneNumber); err != nil {
		return clean, fmt.Errorf("%w: %v", domain.ErrInvalidProfile, err)
	}
	return clean, nil
}

func validatePhone(phone string) error {
	if phone == "" {
		return nil
	}
	if len(phone) > maxPhoneLength {
		return fmt.Errorf("phone number must be at most %d characters long", maxPhoneLength)
	}
	digits := 0
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return errors.New("phone number contains invalid characters")
		}
	}
	if digits < 4 {
		return errors.New("phone number is too short")
	}
	return nil
}
