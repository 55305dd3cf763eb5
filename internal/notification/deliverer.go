package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-idm-stepflow/pkg/auth"
)

// LogDeliverer writes one-time codes to the log. Development only.
type LogDeliverer struct {
	logger *slog.Logger
}

var _ auth.Deliverer = (*LogDeliverer)(nil)

func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDeliverer{logger: logger}
}

func (d *LogDeliverer) Deliver(ctx context.Context, username, code string) error {
	d.logger.InfoContext(ctx, "one-time code issued", "username", username, "code", code)
	return nil
}

// EmailDeliverer emails one-time codes to the user's address.
type EmailDeliverer struct {
	email  *EmailService
	users  auth.UserLookup
	logger *slog.Logger
}

var _ auth.Deliverer = (*EmailDeliverer)(nil)

func NewEmailDeliverer(email *EmailService, users auth.UserLookup, logger *slog.Logger) *EmailDeliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailDeliverer{email: email, users: users, logger: logger}
}

func (d *EmailDeliverer) Deliver(ctx context.Context, username, code string) error {
	user, err := d.users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("lookup user for code delivery: %w", err)
	}
	if user.Email == "" {
		return fmt.Errorf("user %s has no email address", username)
	}
	if err := d.email.SendCodeEmail(user.Email, code); err != nil {
		d.logger.ErrorContext(ctx, "failed to send code email", "username", username, "error", err)
		return fmt.Errorf("send code email: %w", err)
	}
	return nil
}
