// Package crypto implements random material generation and pairing-token
// secret hashing.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// SaltLen is the salt size used for new token secrets.
const SaltLen = 16

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewTokenSecret mints an opaque URL-safe secret for a pairing token.
func NewTokenSecret() (string, error) {
	b, err := RandBytes(24)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashTokenSecret returns the Argon2id hash of secret using the provided salt.
func HashTokenSecret(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyTokenSecret verifies secret against the expected Argon2id hash and salt.
func VerifyTokenSecret(secret, salt, expected []byte) bool {
	got := HashTokenSecret(secret, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
