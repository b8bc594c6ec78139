package profile

import (
	"errors"
	"strings"
)

const (
	minPhoneDigits    = 7
	maxPhoneDigits    = 15
	MinPasswordLength = 6
)

var (
	ErrNameRequired     = errors.New("name must not be empty")
	ErrInvalidPhone     = errors.New("phone must have between 7 and 15 digits")
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	ErrPasswordMismatch = errors.New("passwords do not match")
)

func ValidateNamePhone(name, phone string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	if !ValidPhone(phone) {
		return ErrInvalidPhone
	}
	return nil
}

// ValidPhone accepts 7 to 15 ASCII digits and nothing else.
func ValidPhone(phone string) bool {
	if len(phone) < minPhoneDigits || len(phone) > maxPhoneDigits {
		return false
	}
	for i := 0; i < len(phone); i++ {
		if phone[i] < '0' || phone[i] > '9' {
			return false
		}
	}
	return true
}

func ValidatePasswordChange(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	return nil
}

// IsValidation reports whether err was produced by local input checks.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrInvalidPhone) ||
		errors.Is(err, ErrPasswordTooShort) ||
		errors.Is(err, ErrPasswordMismatch)
}
