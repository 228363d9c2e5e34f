package service

import (
	"errors"
	"fmt"
)

// Sentinel errors for the auth service; the HTTP handler maps them to status codes.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserNotFound       = errors.New("user not found")
)

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func inputErr(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}
