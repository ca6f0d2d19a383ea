package crypto

import (
	"bytes"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}

	zero := make([]byte, n)
	if bytes.Equal(a, zero) {
		t.Fatalf("RandBytes returned all zeros")
	}
}

func TestNewTokenSecret_Unique(t *testing.T) {
	t.Parallel()

	a, err := NewTokenSecret()
	if err != nil {
		t.Fatalf("NewTokenSecret: %v", err)
	}
	b, err := NewTokenSecret()
	if err != nil {
		t.Fatalf("NewTokenSecret(2): %v", err)
	}
	if a == "" || a == b {
		t.Fatalf("secrets not unique: %q vs %q", a, b)
	}
}

func TestHashTokenSecret_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	secret := []byte("pairing-secret")
	salt := []byte("NaCl-16-bytes?")

	h1 := HashTokenSecret(secret, salt)
	h2 := HashTokenSecret(secret, salt)

	if len(h1) == 0 || len(h2) == 0 {
		t.Fatalf("empty hash")
	}
	if !bytes.Equal(h1, h2) {
		t.Fatalf("hash not deterministic for same input")
	}

	h3 := HashTokenSecret(secret, []byte("another-salt----"))
	if bytes.Equal(h1, h3) {
		t.Fatalf("hash should differ when salt differs")
	}

	h4 := HashTokenSecret([]byte("pairing-secret!"), salt)
	if bytes.Equal(h1, h4) {
		t.Fatalf("hash should differ when secret differs")
	}
}

func TestVerifyTokenSecret(t *testing.T) {
	t.Parallel()

	secret := []byte("correct horse battery staple")
	salt := []byte("salty-salt-123456")

	hash := HashTokenSecret(secret, salt)

	if !VerifyTokenSecret(secret, salt, hash) {
		t.Fatalf("VerifyTokenSecret: expected true for correct secret")
	}
	if VerifyTokenSecret([]byte("wrong"), salt, hash) {
		t.Fatalf("VerifyTokenSecret: expected false for wrong secret")
	}
	if VerifyTokenSecret(secret, []byte("wrong-salt"), hash) {
		t.Fatalf("VerifyTokenSecret: expected false for wrong salt")
	}
	if VerifyTokenSecret([]byte{}, salt, hash) {
		t.Fatalf("VerifyTokenSecret: expected false for empty secret")
	}
}
