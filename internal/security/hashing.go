package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest secret bcrypt accepts without truncation.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for secrets longer than MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost (4–31). Cost 12 is the
// default used for interactive login.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a salted bcrypt digest of password. Two calls with the same
// input return different digests.
func (h *Hasher) Hash(password []byte) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against the stored digest. Returns nil on match and
// bcrypt.ErrMismatchedHashAndPassword (or a parse error for malformed digests) otherwise.
func (h *Hasher) Compare(digest string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(digest), password)
}

// Verify reports whether password matches digest. Malformed digests never match.
func (h *Hasher) Verify(password []byte, digest string) bool {
	return h.Compare(digest, password) == nil
}

// NeedsRehash reports whether digest was produced with a cost other than h.Cost.
func (h *Hasher) NeedsRehash(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost != h.Cost
}
