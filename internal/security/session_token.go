package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SessionTokenBytes is the entropy of an opaque session token (256 bits).
const SessionTokenBytes = 32

// GenerateSessionToken returns a random opaque session token and its SHA-256 hash.
// The token goes to the client; only the hash is persisted or used as a cache key.
func GenerateSessionToken() (token, hash string, err error) {
	b := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(b)
	return token, HashSessionToken(token), nil
}

// HashSessionToken returns the hex-encoded SHA-256 of token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionTokenHashEqual performs constant-time comparison of the provided token's hash
// with the stored hash. Returns true only if they match.
func SessionTokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashSessionToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
