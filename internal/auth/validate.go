package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/zahash/mona/internal/mail"
)

const passwordSpecials = "!@#$%^&*()_-+={}[]|\\:;\"'<>,.?/~`"

// ValidateUsername allows 2 to 30 ASCII letters, digits and underscores.
func ValidateUsername(username string) error {
	if len(username) < 2 || len(username) > 30 {
		return fmt.Errorf("%w: username must be between 2-30 in length", ErrInvalidInput)
	}
	for _, r := range username {
		if r != '_' && (r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r))) {
			return fmt.Errorf("%w: username must only contain `A-Z` `a-z` `0-9` and `_`", ErrInvalidInput)
		}
	}
	return nil
}

func ValidatePassword(password string) error {
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	switch {
	case !lower:
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrInvalidInput)
	case !upper:
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrInvalidInput)
	case !digit:
		return fmt.Errorf("%w: password must contain at least one digit", ErrInvalidInput)
	case !special:
		return fmt.Errorf("%w: password must contain at least one special character", ErrInvalidInput)
	case len(password) < 8:
		return fmt.Errorf("%w: password must be at least 8 characters long", ErrInvalidInput)
	}
	return nil
}

// ValidateEmail normalises and checks a bare address.
func ValidateEmail(email string) (mail.Address, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return addr, nil
}
