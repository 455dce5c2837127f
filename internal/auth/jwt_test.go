package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/chatcore/internal/store"
)

var secret = []byte("test-secret")

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(secret, "user-1", store.RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, store.RoleAdmin, claims.Role)
}

func TestValidateJWT_Rejects(t *testing.T) {
	expired, err := GenerateJWT(secret, "user-1", store.RoleUser, -time.Minute)
	require.NoError(t, err)

	otherSecret, err := GenerateJWT([]byte("other"), "user-1", store.RoleUser, time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: store.RoleUser}).SignedString(secret)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": otherSecret,
		"no subject":   noSubject,
		"alg none":     none,
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateJWT(secret, token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
