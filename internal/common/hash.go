package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashPrefix is the algorithm prefix carried on every content hash.
const HashPrefix = "sha256:"

// ContentHash computes the canonical content hash of a document:
// "sha256:" + hex(SHA-256(document bytes)).
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// HashToken computes the storage form of an OAuth token. Tokens are never
// persisted in the clear; validation is a lookup on this digest.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IsContentHash reports whether s looks like a canonical content hash.
func IsContentHash(s string) bool {
	if !strings.HasPrefix(s, HashPrefix) {
		return false
	}
	hexPart := strings.TrimPrefix(s, HashPrefix)
	if len(hexPart) != 64 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
