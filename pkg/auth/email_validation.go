package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

// Common disposable email domains to block
var disposableDomains = map[string]bool{
	"tempmail.com":      true,
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"throwaway.email":   true,
}

// Stricter than RFC 5322 for practical use
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

const maxEmailLength = 254 // RFC 5321

// EmailRules controls how strictly email addresses are checked.
type EmailRules struct {
	// Strict requires a dotted domain and a conservative character set.
	Strict          bool
	BlockDisposable bool
}

// Validate checks an email address. Errors wrap domain.ErrInvalidEmail.
func (r EmailRules) Validate(email string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email address is required", domain.ErrInvalidEmail)
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("%w: too long (max %d characters)", domain.ErrInvalidEmail, maxEmailLength)
	}

	addr, err := mail.ParseAddress(NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("%w: malformed address", domain.ErrInvalidEmail)
	}
	// Reject display-name forms such as "Ada <ada@example.com>".
	if addr.Name != "" || !strings.EqualFold(addr.Address, NormalizeEmail(email)) {
		return fmt.Errorf("%w: malformed address", domain.ErrInvalidEmail)
	}

	if r.Strict && !emailRegex.MatchString(addr.Address) {
		return fmt.Errorf("%w: malformed address", domain.ErrInvalidEmail)
	}
	if r.BlockDisposable && disposableDomains[emailDomain(addr.Address)] {
		return fmt.Errorf("%w: disposable email addresses are not allowed", domain.ErrInvalidEmail)
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func emailDomain(email string) string {
	_, host, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(host)
}
