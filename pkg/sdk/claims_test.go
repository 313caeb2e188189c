package sdk

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccessTokenClaims(t *testing.T) {
	expiry := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	token := signedAccessToken(t, expiry)

	claims, err := ParseAccessTokenClaims(token)
	require.NoError(t, err)
	assert.Equal(t, testUserID, claims.Subject)
	assert.True(t, expiry.Equal(claims.Expiry()))
	assert.NotZero(t, claims.IssuedAt)
}

func TestParseAccessTokenClaims_NoExpiry(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "someone"}).
		SignedString([]byte("k"))
	require.NoError(t, err)

	claims, err := ParseAccessTokenClaims(token)
	require.NoError(t, err)
	assert.True(t, claims.Expiry().IsZero())
}

func TestParseAccessTokenClaims_Malformed(t *testing.T) {
	_, err := ParseAccessTokenClaims("not-a-jwt")
	assert.Error(t, err)
}
