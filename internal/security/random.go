package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// NewOpaqueToken returns 32 bytes from crypto/rand, URL-safe base64 encoded.
// Used for session tokens, session store keys and password reset tokens.
func NewOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
