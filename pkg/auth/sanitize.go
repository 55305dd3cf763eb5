package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// SanitizeName cleans a free-text profile field: it removes control
// characters, folds runs of whitespace into one space and converts the
// result to Unicode NFC so that visually equal names compare equal.
func SanitizeName(name string) string {
	name = removeControlChars(name)
	name = strings.Join(strings.Fields(name), " ")
	return norm.NFC.String(name)
}

// SanitizePhone keeps the digits and the separators allowed in phone numbers.
func SanitizePhone(phone string) string {
	return strings.TrimSpace(removeControlChars(phone))
}

// ValidateStringLength checks the length of value in characters.
func ValidateStringLength(field, value string, min, max int) error {
	length := utf8.RuneCountInString(value)

	if min > 0 && length < min {
		return fmt.Errorf("%s must be at least %d characters long", field, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s must be at most %d characters long", field, max)
	}
	return nil
}

func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}
