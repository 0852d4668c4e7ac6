package auth

import (
	"crypto/rand"
	"encoding/base64"
)

const stateLength = 32

// generateState generates a random string for the OAuth state parameter
func generateState() string {
	b := make([]byte, stateLength)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)[:stateLength]
}
