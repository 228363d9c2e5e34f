package security

import (
	"strings"
	"testing"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(4)
	password := []byte("secret123")
	digest, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if digest == "" {
		t.Fatal("Hash returned empty")
	}
	if !h.Verify(password, digest) {
		t.Fatal("Verify should accept the hashed password")
	}
	if err := h.Compare(digest, password); err != nil {
		t.Fatalf("Compare: %v", err)
	}
}

func TestHasher_VerifyWrongPassword(t *testing.T) {
	h := NewHasher(4)
	digest, _ := h.Hash([]byte("secret123"))
	for _, wrong := range []string{"wrong", "secret1234", "Secret123", ""} {
		if h.Verify([]byte(wrong), digest) {
			t.Errorf("Verify(%q) should fail", wrong)
		}
	}
}

func TestHasher_HashIsSalted(t *testing.T) {
	h := NewHasher(4)
	a, _ := h.Hash([]byte("same"))
	b, _ := h.Hash([]byte("same"))
	if a == b {
		t.Fatal("two hashes of the same password should differ")
	}
	if !h.Verify([]byte("same"), a) || !h.Verify([]byte("same"), b) {
		t.Fatal("both digests should verify")
	}
}

func TestHasher_VerifyMalformedDigest(t *testing.T) {
	h := NewHasher(4)
	for _, digest := range []string{"", "not-a-hash", "$2a$04$short", strings.Repeat("x", 60)} {
		if h.Verify([]byte("secret"), digest) {
			t.Errorf("Verify with malformed digest %q should be false", digest)
		}
	}
}

func TestHasher_TooLong(t *testing.T) {
	h := NewHasher(4)
	_, err := h.Hash([]byte(strings.Repeat("a", MaxPasswordBytes+1)))
	if err != ErrPasswordTooLong {
		t.Fatalf("Hash long password: want ErrPasswordTooLong, got %v", err)
	}
	if _, err := h.Hash([]byte(strings.Repeat("a", MaxPasswordBytes))); err != nil {
		t.Fatalf("Hash at limit: %v", err)
	}
}

func TestHasher_Cost(t *testing.T) {
	h := NewHasher(12)
	if h.Cost != 12 {
		t.Errorf("Cost want 12, got %d", h.Cost)
	}
	h0 := NewHasher(0)
	if h0.Cost < 4 {
		t.Errorf("zero cost should be clamped to at least MinCost, got %d", h0.Cost)
	}
	if NewHasher(99).Cost != 31 {
		t.Errorf("cost above max should clamp to 31")
	}
}

func TestHasher_NeedsRehash(t *testing.T) {
	low := NewHasher(4)
	digest, _ := low.Hash([]byte("pw"))
	if low.NeedsRehash(digest) {
		t.Error("digest at current cost should not need rehash")
	}
	if !NewHasher(5).NeedsRehash(digest) {
		t.Error("digest at lower cost should need rehash")
	}
	if !low.NeedsRehash("garbage") {
		t.Error("malformed digest should need rehash")
	}
}
