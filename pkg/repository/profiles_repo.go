package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

// ProfilesRepository handles onboarding profile persistence.
type ProfilesRepository struct {
	db *sql.DB
}

// NewProfilesRepository creates a new profiles repository.
func NewProfilesRepository(db *sql.DB) *ProfilesRepository {
	return &ProfilesRepository{db: db}
}

// Save stores the profile, replacing any earlier profile of the same user.
func (r *ProfilesRepository) Save(ctx context.Context, p *domain.StoredProfile) error {
	query := `
		INSERT INTO onboarding_profiles (id, username, full_name, email, phone_number, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    email = EXCLUDED.email,
		    phone_number = EXCLUDED.phone_number,
		    completed_at = EXCLUDED.completed_at
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Username, p.FullName, p.Email, p.PhoneNumber, p.CompletedAt,
	)
	return err
}

// GetByUsername retrieves the profile of a user.
func (r *ProfilesRepository) GetByUsername(ctx context.Context, username string) (*domain.StoredProfile, error) {
	query := `
		SELECT id, username, full_name, email, phone_number, completed_at
		FROM onboarding_profiles
		WHERE username = $1
	`
	p := &domain.StoredProfile{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&p.ID, &p.Username, &p.FullName, &p.Email, &p.PhoneNumber, &p.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
