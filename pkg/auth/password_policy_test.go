package auth

import (
	"errors"
	"testing"

	"github.com/tendant/simple-idm-stepflow/internal/config"
	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

func TestPasswordPolicy_ValidatePassword(t *testing.T) {
	strict := PasswordPolicy{MinLength: 10, RequireUppercase: true, RequireLowercase: true, RequireNumber: true, RequireSpecial: true}

	tests := []struct {
		name     string
		policy   PasswordPolicy
		password string
		wantErr  bool
	}{
		{"no requirements", PasswordPolicy{}, "a", false},
		{"min length met", PasswordPolicy{MinLength: 8}, "12345678", false},
		{"min length short", PasswordPolicy{MinLength: 8}, "1234567", true},
		{"min length counts characters", PasswordPolicy{MinLength: 4}, "äöü", true},
		{"uppercase missing", PasswordPolicy{RequireUppercase: true}, "password", true},
		{"lowercase missing", PasswordPolicy{RequireLowercase: true}, "PASSWORD", true},
		{"number missing", PasswordPolicy{RequireNumber: true}, "Password", true},
		{"special missing", PasswordPolicy{RequireSpecial: true}, "Password1", true},
		{"strict met", strict, "Str0ng!Pass", false},
		{"strict no special", strict, "Str0ngPass1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrWeakPassword) {
				t.Errorf("ValidatePassword(%q) error = %v, want wrapped %v", tt.password, err, domain.ErrWeakPassword)
			}
		})
	}
}

func TestNewPasswordPolicy(t *testing.T) {
	policy := NewPasswordPolicy(config.PasswordPolicyConfig{MinLength: 12, RequireNumber: true})

	if policy.MinLength != 12 {
		t.Errorf("MinLength = %d, want 12", policy.MinLength)
	}
	if !policy.RequireNumber || policy.RequireSpecial {
		t.Errorf("RequireNumber = %v, RequireSpecial = %v, want true, false", policy.RequireNumber, policy.RequireSpecial)
	}
}

func TestPasswordPolicy_Requirements(t *testing.T) {
	tests := []struct {
		policy PasswordPolicy
		want   string
	}{
		{PasswordPolicy{}, "No password requirements"},
		{PasswordPolicy{MinLength: 8}, "Password must contain at least 8 characters"},
		{
			PasswordPolicy{MinLength: 12, RequireUppercase: true, RequireLowercase: true, RequireNumber: true, RequireSpecial: true},
			"Password must contain at least 12 characters, one uppercase letter, one lowercase letter, one number, one special character",
		},
	}

	for _, tt := range tests {
		if got := tt.policy.Requirements(); got != tt.want {
			t.Errorf("Requirements() = %q, want %q", got, tt.want)
		}
	}
}
