package keyrotor

import (
	"crypto/sha256"
	"encoding/hex"
)

const maskPrefixLen = 8

// MaskKey returns a loggable form of a credential: a short prefix followed
// by "...". Short values are fully hidden.
func MaskKey(key string) string {
	if len(key) <= maskPrefixLen+4 {
		return "****"
	}
	return key[:maskPrefixLen] + "..."
}

// Fingerprint returns a stable, non-reversible identifier for a key.
// Snapshots are keyed by fingerprint so raw credentials never leave the process.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
