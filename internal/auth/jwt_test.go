package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_SignAndParse(t *testing.T) {
	signer, generated := NewSigner("test-secret", time.Hour)
	assert.False(t, generated)

	token, err := signer.Sign("01HSESSION")
	require.NoError(t, err)

	sessionID, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "01HSESSION", sessionID)
}

func TestSigner_Parse_Invalid(t *testing.T) {
	signer, _ := NewSigner("test-secret", time.Hour)
	other, _ := NewSigner("other-secret", time.Hour)
	expired, _ := NewSigner("test-secret", -time.Hour)

	foreign, err := other.Sign("01HSESSION")
	require.NoError(t, err)
	stale, err := expired.Sign("01HSESSION")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "wrong secret", token: foreign},
		{name: "expired", token: stale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Parse(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestNewSigner_GeneratesSecret(t *testing.T) {
	a, generated := NewSigner("", time.Hour)
	assert.True(t, generated)
	b, _ := NewSigner("", time.Hour)

	token, err := a.Sign("01HSESSION")
	require.NoError(t, err)

	_, err = b.Parse(token)
	assert.Error(t, err, "generated secrets must differ")
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	assert.NoError(t, VerifyPassword("correct horse", hash))
	assert.ErrorIs(t, VerifyPassword("battery staple", hash), ErrWrongPassword)

	_, err = HashPassword("")
	assert.ErrorIs(t, err, ErrEmptyPassword)

	// 24 three-byte runes fit the character limit but not bcrypt's byte limit
	_, err = HashPassword(strings.Repeat("€", 24))
	require.NoError(t, err)
	_, err = HashPassword(strings.Repeat("€", 25))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestGenerateState(t *testing.T) {
	a := generateState()
	b := generateState()
	assert.Len(t, a, stateLength)
	assert.NotEqual(t, a, b)
}
