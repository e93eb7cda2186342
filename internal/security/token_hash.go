package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns the hex SHA-256 of an opaque token. Reset tokens are stored only in this form.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual compares the hash of providedToken with storedHash in constant time.
func TokenHashEqual(providedToken, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(providedToken)), []byte(storedHash)) == 1
}
