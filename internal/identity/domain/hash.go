package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a raw identity token with the same strategy used when
// the token was issued. Raw tokens are never stored.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
