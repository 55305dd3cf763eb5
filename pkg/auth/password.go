package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
	"github.com/tendant/simple-idm-stepflow/pkg/flow"
)

// UserLookup finds users by username.
type UserLookup interface {
	// GetByUsername returns domain.ErrUserNotFound for unknown users.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// UserStore persists users.
type UserStore interface {
	UserLookup
	// Create returns domain.ErrUserExists when the username is taken.
	Create(ctx context.Context, user *domain.User) error
}

// PasswordVerifier checks passwords against stored Argon2id hashes.
type PasswordVerifier struct {
	users UserLookup
}

var _ flow.CredentialVerifier = (*PasswordVerifier)(nil)

// NewPasswordVerifier creates a new password verifier.
func NewPasswordVerifier(users UserLookup) *PasswordVerifier {
	return &PasswordVerifier{users: users}
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// Validate reports whether secret is the password of username. Unknown users
// cost the same hash computation as known ones.
func (v *PasswordVerifier) Validate(ctx context.Context, username, secret string) (bool, error) {
	user, err := v.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			dummyHashOnce.Do(func() {
				dummyHash, _ = HashPassword("stepflow-dummy-password")
			})
			VerifyPassword(secret, dummyHash)
			return false, nil
		}
		return false, fmt.Errorf("lookup user: %w", err)
	}
	return VerifyPassword(secret, user.PasswordHash), nil
}

// UserService provisions users.
type UserService struct {
	users  UserStore
	policy *PasswordPolicy
	emails EmailRules
}

// NewUserService creates a new user service. policy may be nil.
func NewUserService(users UserStore, policy *PasswordPolicy, emails EmailRules) *UserService {
	return &UserService{users: users, policy: policy, emails: emails}
}

// Create validates and stores a new user with a hashed password.
func (s *UserService) Create(ctx context.Context, username, email, password string) (*domain.User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := s.emails.Validate(email); err != nil {
		return nil, err
	}
	if s.policy != nil {
		if err := s.policy.ValidatePassword(password); err != nil {
			return nil, err
		}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	user := &domain.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        NormalizeEmail(email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
