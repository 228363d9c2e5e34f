package service

import "helpdesk-auth/backend/internal/session/domain"

// Tier names the layer that produced a result.
type Tier string

const (
	TierNone      Tier = "none"
	TierStateless Tier = "stateless"
	TierCache     Tier = "cache"
	TierStore     Tier = "store"
)

// Outcome is the tagged result of a validation. Only OutcomeValid authenticates; every
// other value is presented to callers as unauthenticated.
type Outcome int

const (
	OutcomeMissing Outcome = iota
	OutcomeValid
	OutcomeExpired
	OutcomeNotFound
	OutcomeMalformed
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeExpired:
		return "expired"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "missing"
	}
}

// Credentials are what a request presented. Either field may be empty.
type Credentials struct {
	// Bearer is the signed stateless proof.
	Bearer string
	// Token is the opaque session token.
	Token string
}

// Empty reports whether nothing was presented.
func (c Credentials) Empty() bool { return c.Bearer == "" && c.Token == "" }

// Result of Validate. Identity is set only when Outcome is OutcomeValid.
type Result struct {
	Outcome  Outcome
	Tier     Tier
	Identity domain.Identity
}

// OK reports whether the credentials authenticated.
func (r Result) OK() bool { return r.Outcome == OutcomeValid }

// RefResult of ValidateRef.
type RefResult struct {
	Outcome   Outcome
	Tier      Tier
	UserID    string
	SessionID string
}

// OK reports whether the token authenticated.
func (r RefResult) OK() bool { return r.Outcome == OutcomeValid }
