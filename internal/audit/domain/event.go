package domain

import "time"

// Actions recorded for authentication events.
const (
	ActionRegister        = "register"
	ActionLoginSuccess    = "login_success"
	ActionLoginFailure    = "login_failure"
	ActionLogout          = "logout"
	ActionPasswordChanged = "password_changed"
	ActionUserDeactivated = "user_deactivated"
)

// Event is one authentication event. UserID is empty when the caller could not be
// attributed (e.g. login with an unknown email).
type Event struct {
	ID        string
	UserID    string
	Action    string
	IPAddress string
	UserAgent string
	Metadata  string
	CreatedAt time.Time
}
