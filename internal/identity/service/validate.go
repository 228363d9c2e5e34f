package service

import (
	"errors"
	"regexp"
	"unicode"

	"helpdesk-auth/backend/internal/security"
)

// MinPasswordLength is the shortest password accepted at registration or change.
const MinPasswordLength = 10

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !emailPattern.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errors.New("password must be at least 10 characters")
	}
	if len(password) > security.MaxPasswordBytes {
		return security.ErrPasswordTooLong
	}
	var hasLetter, hasNumber bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasNumber = true
		}
	}
	if !hasLetter {
		return errors.New("password must contain at least one letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	return nil
}
