package domain

import (
	"time"

	"github.com/google/uuid"
)

// OnboardingProfile is the profile data captured by the onboarding step.
type OnboardingProfile struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// StoredProfile is an accepted onboarding profile as persisted for a user.
type StoredProfile struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
