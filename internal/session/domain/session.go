package domain

import (
	"time"

	userdomain "helpdesk-auth/backend/internal/user/domain"
)

// Session is a durable proof of login. Token holds the plaintext opaque token and
// is populated only on the value returned from creation; storage keeps TokenHash.
type Session struct {
	ID        string
	UserID    string
	Token     string
	TokenHash string
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Metadata is optional client information recorded on a session.
type Metadata struct {
	IPAddress string
	UserAgent string
}

// IsExpiredAt reports whether the session is expired at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Identity is the resolved "who" of a request: the same shape whether it came from a
// bearer proof, the validation cache, or the store.
type Identity struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
	RoleName  string `json:"role_name,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	TeamName  string `json:"team_name,omitempty"`
	SessionID string `json:"session_id"`
}

// Resolved is the result of the full store lookup: a valid session joined with its
// active user and optional role and team.
type Resolved struct {
	Session Session
	User    userdomain.User
	Role    *userdomain.Role
	Team    *userdomain.Team
}

// Identity flattens the resolved rows into an Identity.
func (r *Resolved) Identity() Identity {
	id := Identity{
		UserID:    r.User.ID,
		Email:     r.User.Email,
		Name:      r.User.Name,
		SessionID: r.Session.ID,
	}
	if r.Role != nil {
		id.RoleID, id.RoleName = r.Role.ID, r.Role.Name
	}
	if r.Team != nil {
		id.TeamID, id.TeamName = r.Team.ID, r.Team.Name
	}
	return id
}

// SessionRef is the light lookup result: enough to confirm who, not to authorize.
type SessionRef struct {
	SessionID string
	UserID    string
	ExpiresAt time.Time
}
