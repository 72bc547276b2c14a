package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager(JWTConfig{Secret: "secret", Issuer: "copilot"})

	token, jti, err := m.GenerateAccessToken(42, "editor")
	require.NoError(t, err)
	assert.NotEmpty(t, jti)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "editor", claims.Role)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
	assert.Equal(t, jti, claims.ID)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager(JWTConfig{Secret: "secret", Issuer: "copilot"})

	otherSecret, _, err := NewJWTManager(JWTConfig{Secret: "other", Issuer: "copilot"}).GenerateAccessToken(1, "editor")
	require.NoError(t, err)
	_, err = m.ValidateToken(otherSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	otherIssuer, _, err := NewJWTManager(JWTConfig{Secret: "secret", Issuer: "someone-else"}).GenerateAccessToken(1, "editor")
	require.NoError(t, err)
	_, err = m.ValidateToken(otherIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, _, err := NewJWTManager(JWTConfig{Secret: "secret", Issuer: "copilot", Expiry: -time.Minute}).GenerateAccessToken(1, "editor")
	require.NoError(t, err)
	_, err = m.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	anonymous, _, err := m.GenerateAccessToken(0, "editor")
	require.NoError(t, err)
	_, err = m.ValidateToken(anonymous)
	assert.ErrorIs(t, err, ErrInvalidClaims)

	_, err = m.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
