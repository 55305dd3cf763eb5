package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

// SettingsRepository handles authentication settings persistence.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get retrieves a settings row by name.
func (r *SettingsRepository) Get(ctx context.Context, name string) (*domain.AuthSettings, error) {
	query := `
		SELECT setting_name, otp_enabled, onboarding_enabled, description, updated_at
		FROM auth_settings
		WHERE setting_name = $1
	`
	s := &domain.AuthSettings{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&s.Name, &s.OTPEnabled, &s.OnboardingEnabled, &s.Description, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Save inserts or replaces a settings row.
func (r *SettingsRepository) Save(ctx context.Context, s *domain.AuthSettings) error {
	query := `
		INSERT INTO auth_settings (setting_name, otp_enabled, onboarding_enabled, description, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (setting_name) DO UPDATE
		SET otp_enabled = EXCLUDED.otp_enabled,
		    onboarding_enabled = EXCLUDED.onboarding_enabled,
		    description = EXCLUDED.description,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		s.Name, s.OTPEnabled, s.OnboardingEnabled, s.Description, s.UpdatedAt,
	)
	return err
}
