package security

import (
	"crypto/rand"
	"errors"
	"os"
	"strings"
)

// MinSecretBytes is the shortest signing secret accepted for bearer proofs.
const MinSecretBytes = 32

// ErrInvalidSecret is returned when a signing secret is missing or too short.
var ErrInvalidSecret = errors.New("invalid signing secret")

const secretFilePrefix = "file:"

// LoadSecret resolves a configured signing secret. A value of the form
// "file:/path" is read from disk (trailing whitespace trimmed); anything else is
// used verbatim. The result must be at least MinSecretBytes long.
func LoadSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidSecret
	}
	var secret []byte
	if path, ok := strings.CutPrefix(s, secretFilePrefix); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		secret = []byte(strings.TrimSpace(string(b)))
	} else {
		secret = []byte(s)
	}
	if len(secret) < MinSecretBytes {
		return nil, ErrInvalidSecret
	}
	return secret, nil
}

// EphemeralSecret returns a random secret valid only for the life of the
// process. Proofs signed with it stop verifying after a restart.
func EphemeralSecret() ([]byte, error) {
	b := make([]byte, MinSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
