package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignature is returned for any verification failure: missing header,
// unknown algorithm prefix, malformed hex or digest mismatch. Callers
// never learn which.
var ErrSignature = errors.New("signature verification failed")

// VerifySignature checks the provider HMAC over the unmodified raw
// request bytes. The algorithm is selected from the header prefix
// ("sha1=" or "sha256="), the digest is hex decoded, and the comparison
// is constant time.
func VerifySignature(secret string, body []byte, signatureHeader string) error {
	if secret == "" || signatureHeader == "" {
		return ErrSignature
	}

	var expected []byte
	var encoded string
	switch {
	case strings.HasPrefix(signatureHeader, "sha256="):
		encoded = strings.TrimPrefix(signatureHeader, "sha256=")
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected = mac.Sum(nil)
	case strings.HasPrefix(signatureHeader, "sha1="):
		encoded = strings.TrimPrefix(signatureHeader, "sha1=")
		mac := hmac.New(sha1.New, []byte(secret))
		mac.Write(body)
		expected = mac.Sum(nil)
	default:
		return ErrSignature
	}

	provided, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return ErrSignature
	}
	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return ErrSignature
	}
	return nil
}

// VerifyToken compares a subscription challenge token in constant time.
func VerifyToken(expected, provided string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
