// Package keys issues the two kinds of credential material in the system.
//
// API keys are one-way: 32 random bytes, shown to the caller once, stored
// only as a sha256 hash plus a short display prefix. Webhook secrets are
// deliberately different — they must stay retrievable server-side because
// every retry re-signs the payload with them — so they get their own
// constructor and never pass through the hashing path.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	keyPrefix    = "hk_live_"
	secretPrefix = "whsec_"

	// displayPrefixLen is how much of a plaintext key is kept for
	// identification in listings. 12 chars of a 72-char key is nowhere
	// near enough to brute-force the rest.
	displayPrefixLen = 12
)

// NewKey generates a plaintext API key from a cryptographically secure
// source, plus the hash and display prefix that actually get stored.
func NewKey() (plaintext, hash, prefix string, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	plaintext = keyPrefix + hex.EncodeToString(raw)
	return plaintext, HashKey(plaintext), plaintext[:displayPrefixLen] + "...", nil
}

// HashKey returns the sha256 hex digest of a plaintext key, the only form
// in which keys are persisted or looked up.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// NewWebhookSecret generates a high-entropy shared secret for HMAC
// signing. Unlike API keys the plaintext is persisted (the worker needs it
// on every attempt); it is still only ever shown to the caller at creation
// or rotation.
func NewWebhookSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return secretPrefix + hex.EncodeToString(raw), nil
}
