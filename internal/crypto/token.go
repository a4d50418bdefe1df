package crypto

import (
	"crypto/rand"
	"encoding/hex"
)

// NewSessionToken mints an opaque 32-byte token, hex-encoded to 64 chars.
func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
