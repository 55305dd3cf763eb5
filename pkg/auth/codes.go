package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tendant/simple-idm-stepflow/pkg/flow"
)

const (
	codeSecretLen = 20
	codePeriod    = 30
)

// Deliverer sends a one-time code to a user.
type Deliverer interface {
	Deliver(ctx context.Context, username, code string) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, username, code string) error

func (f DelivererFunc) Deliver(ctx context.Context, username, code string) error {
	return f(ctx, username, code)
}

// CodeService issues single-use numeric codes. Each code is a TOTP value
// derived from a fresh random secret, so codes are independent of each other.
type CodeService struct {
	deliverer Deliverer
	digits    otp.Digits
	now       func() time.Time
}

var _ flow.CodeIssuer = (*CodeService)(nil)

// NewCodeService creates a code service that issues six-digit codes.
func NewCodeService(deliverer Deliverer) *CodeService {
	return &CodeService{
		deliverer: deliverer,
		digits:    otp.DigitsSix,
		now:       time.Now,
	}
}

// Generate returns a new code.
func (s *CodeService) Generate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	secret := make([]byte, codeSecretLen)
	if _, err := randomBytes(secret); err != nil {
		return "", fmt.Errorf("generate code secret: %w", err)
	}

	code, err := totp.GenerateCodeCustom(
		base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret),
		s.now(),
		totp.ValidateOpts{
			Period:    codePeriod,
			Digits:    s.digits,
			Algorithm: otp.AlgorithmSHA1,
		},
	)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return code, nil
}

// Deliver hands the code to the configured deliverer.
func (s *CodeService) Deliver(ctx context.Context, username, code string) error {
	if s.deliverer == nil {
		return errors.New("no code deliverer configured")
	}
	return s.deliverer.Deliver(ctx, username, code)
}

// Matches compares codes in constant time, ignoring surrounding whitespace.
func (s *CodeService) Matches(expected, provided string) bool {
	provided = strings.TrimSpace(provided)
	if expected == "" || len(provided) != s.digits.Length() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
