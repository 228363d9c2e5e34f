package handler

import (
	"net/http"
	"strings"
	"time"

	sessionservice "helpdesk-auth/backend/internal/session/service"
)

const (
	// SessionCookie carries the opaque session token.
	SessionCookie = "hd_session"
	// ProofCookie carries the signed bearer proof.
	ProofCookie = "hd_proof"
	// SessionHeader carries the opaque session token for non-browser clients.
	SessionHeader = "X-Session-Token"

	bearerPrefix = "bearer "
)

// CredentialsFromRequest reads the bearer proof from the Authorization header or proof
// cookie and the opaque token from the session header or cookie. Headers win.
func CredentialsFromRequest(r *http.Request) sessionservice.Credentials {
	creds := sessionservice.Credentials{
		Bearer: extractBearer(r.Header.Get("Authorization")),
		Token:  strings.TrimSpace(r.Header.Get(SessionHeader)),
	}
	if creds.Bearer == "" {
		if c, err := r.Cookie(ProofCookie); err == nil {
			creds.Bearer = c.Value
		}
	}
	if creds.Token == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			creds.Token = c.Value
		}
	}
	return creds
}

// extractBearer returns the token of a "Bearer <token>" header value, or "".
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// CookieConfig controls the attributes of issued cookies.
type CookieConfig struct {
	Secure bool
	Domain string
}

func (c CookieConfig) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	for _, name := range []string{SessionCookie, ProofCookie} {
		ck := c.cookie(name, "", time.Unix(0, 0))
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}
