package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authd-dev/authd/internal/assert"
)

const tokenIssuer = "authd"

// SessionClaims are carried by the signed session cookie
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Signer signs and validates session cookie tokens
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a signer. An empty secret is replaced by a random one,
// which invalidates sessions across restarts.
func NewSigner(secret string, ttl time.Duration) (*Signer, bool) {
	generated := false
	if secret == "" {
		secret = GenerateSecret()
		generated = true
	}
	return &Signer{secret: []byte(secret), ttl: ttl}, generated
}

// GenerateSecret returns 64 hex characters (32 bytes) of randomness
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	secret := hex.EncodeToString(b)
	assert.Length(secret, 64)
	return secret
}

// Sign creates a token for the given session ID
func (s *Signer) Sign(sessionID string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Parse validates a token and returns the session ID it carries
func (s *Signer) Parse(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithLeeway(30*time.Second))

	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return "", errors.New("invalid token")
	}

	return claims.SessionID, nil
}
