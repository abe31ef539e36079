package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a short stable digest of s (first 8 bytes of SHA-256, hex).
// Used to log cache keys without leaking what they contain.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
