package auth

import (
	"regexp"

	"github.com/tendant/simple-idm-stepflow/pkg/domain"
)

// Usernames are 3 to 30 ASCII letters, digits, underscores or hyphens,
// starting with a letter or digit.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{2,29}$`)

// ValidateUsername checks the username format.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return domain.ErrInvalidUsername
	}
	return nil
}
