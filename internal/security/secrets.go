package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMalformedSecret is returned when an opaque secret does not have the lookup.secret form.
var ErrMalformedSecret = errors.New("malformed secret")

const (
	lookupBytes = 8
	secretBytes = 32
	saltBytes   = 16
)

// GenerateSecret returns a new opaque credential in the form "lookup.secret".
// The lookup half is a non-secret identifier safe to index by; the secret half
// is never persisted, only its salted hash. The raw value is returned exactly once.
func GenerateSecret() (raw, lookup string, err error) {
	lb := make([]byte, lookupBytes)
	if _, err := rand.Read(lb); err != nil {
		return "", "", err
	}
	sb := make([]byte, secretBytes)
	if _, err := rand.Read(sb); err != nil {
		return "", "", err
	}
	lookup = hex.EncodeToString(lb)
	secret := base64.RawURLEncoding.EncodeToString(sb)
	return lookup + "." + secret, lookup, nil
}

// SplitSecret splits a raw opaque credential into its lookup and secret halves.
func SplitSecret(raw string) (lookup, secret string, err error) {
	lookup, secret, ok := strings.Cut(raw, ".")
	if !ok || lookup == "" || secret == "" {
		return "", "", ErrMalformedSecret
	}
	return lookup, secret, nil
}

// NewSalt returns a random per-credential salt, hex-encoded.
func NewSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashSecret returns the salted SHA-256 hash of the secret, hex-encoded.
func HashSecret(salt, secret string) string {
	h := sha256.Sum256([]byte(salt + secret))
	return hex.EncodeToString(h[:])
}

// SecretHashEqual performs constant-time comparison of the provided secret's
// salted hash with the stored hash. Returns true only if they match.
func SecretHashEqual(salt, secret, storedHash string) bool {
	providedHash := HashSecret(salt, secret)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// HashToken returns an unsalted SHA-256 hash of a single-use token, hex-encoded.
// Deterministic so the stored hash can serve as a lookup key.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual performs constant-time comparison of the provided token's hash
// with the stored hash.
func TokenHashEqual(providedToken, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(providedToken)), []byte(storedHash)) == 1
}

// GenerateToken returns a new single-use opaque token (e.g. for approval links).
func GenerateToken() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
