package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the HMAC-SHA256 of payload under secret and returns it as
// lowercase hex. The bytes passed here must be the exact bytes transmitted
// as the request body; signing a re-serialized copy risks a mismatch if
// serialization is not byte-stable.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over the received raw body and compares
// it to the presented one in constant time. Receivers must use this (or an
// equivalent hmac.Equal comparison), never ==.
func Verify(secret, payload []byte, signature string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
