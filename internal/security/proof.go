package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ProofClaims is the claim set carried by a bearer proof. It is a time-boxed copy of
// session and identity state taken at login; it is not consulted against the store.
type ProofClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
	RoleName  string `json:"role_name,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	TeamName  string `json:"team_name,omitempty"`
	SessionID string `json:"sid"`
}

// UserID returns the subject of the proof.
func (c *ProofClaims) UserID() string {
	return c.Subject
}

// ProofCodec signs and verifies bearer proofs with HS256 and a server-held secret.
// Decode performs no I/O. Safe for concurrent use.
type ProofCodec struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewProofCodec returns a codec for the given secret. issuer and audience are set on
// every proof and required on decode.
func NewProofCodec(secret []byte, issuer, audience string) (*ProofCodec, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrInvalidSecret
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("proof codec: issuer and audience are required")
	}
	return &ProofCodec{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}, nil
}

// WithClock returns a copy of the codec that reads time from now. Used by tests.
func (c *ProofCodec) WithClock(now func() time.Time) *ProofCodec {
	cp := *c
	cp.now = now
	return &cp
}

// Encode signs claims with expiry now+ttl. Registered claims other than the subject are
// overwritten. A ttl of zero or less yields a proof that is already expired.
func (c *ProofCodec) Encode(claims ProofClaims, ttl time.Duration) (string, time.Time, error) {
	if ttl < 0 {
		ttl = 0
	}
	now := c.now().UTC()
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   claims.Subject,
		Issuer:    c.issuer,
		Audience:  jwt.ClaimStrings{c.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Proof verification failures. Callers that only need a yes/no use Decode.
var (
	ErrProofExpired = errors.New("proof expired")
	ErrProofInvalid = errors.New("proof invalid")
)

// Verify checks signature, algorithm, issuer, audience and expiry. It returns
// ErrProofExpired for an otherwise well-formed proof past its expiry and ErrProofInvalid
// for everything else.
func (c *ProofCodec) Verify(proof string) (*ProofClaims, error) {
	if proof == "" {
		return nil, ErrProofInvalid
	}
	claims := &ProofClaims{}
	token, err := jwt.ParseWithClaims(proof, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrProofExpired
	}
	if err != nil || !token.Valid {
		return nil, ErrProofInvalid
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrProofInvalid
	}
	return claims, nil
}

// Decode is Verify collapsed to a boolean. Any failure, including an empty string,
// returns (nil, false).
func (c *ProofCodec) Decode(proof string) (*ProofClaims, bool) {
	claims, err := c.Verify(proof)
	if err != nil {
		return nil, false
	}
	return claims, true
}
