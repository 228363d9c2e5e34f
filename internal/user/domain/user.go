package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrDuplicateEmail is returned by the repository when the email is already taken.
var ErrDuplicateEmail = errors.New("email already registered")

// User is the identity record. Role and team are optional references whose
// meaning belongs to the authorization layer.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	RoleID       *string
	TeamID       *string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role is a named role reference joined into the resolved identity.
type Role struct {
	ID   string
	Name string
}

// Team is a named team reference joined into the resolved identity.
type Team struct {
	ID   string
	Name string
}

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
