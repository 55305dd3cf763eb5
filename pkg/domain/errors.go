package domain

import (
	"errors"
	"fmt"
)

// Step flow errors
var (
	ErrUnknownStep          = errors.New("unknown authentication step")
	ErrStepDisabled         = errors.New("authentication step is disabled")
	ErrAccessDenied         = errors.New("authentication step cannot be accessed in current state")
	ErrStepAlreadyCompleted = fmt.Errorf("%w: step already completed", ErrAccessDenied)
	ErrStepInProgress       = errors.New("authentication step already in progress")
	ErrVerificationFailed   = errors.New("verification failed")
	ErrSessionExpired       = errors.New("authentication session expired")
	ErrSessionReset         = errors.New("authentication session was reset")
	ErrCollaborator         = errors.New("authentication backend unavailable")
)

// Storage errors
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSettingsNotFound = errors.New("authentication settings not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrProfileNotFound  = errors.New("onboarding profile not found")
)

// Validation errors
var (
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidUsername = errors.New("invalid username format")
	ErrWeakPassword    = errors.New("password does not meet requirements")
	ErrInvalidProfile  = errors.New("invalid onboarding data")
	ErrInvalidToken    = errors.New("invalid token")
)
