package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutricoach/scheduling-api/internal/model"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "nutricoach")
	identity := model.Identity{CallerID: uuid.New(), Role: model.RoleNutritionist}

	token, err := svc.GenerateAccessToken(identity, time.Hour)
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewJWTService("secret", "nutricoach")
	identity := model.Identity{CallerID: uuid.New(), Role: model.RolePatient}

	expired, err := svc.GenerateAccessToken(identity, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewJWTService("other", "nutricoach").GenerateAccessToken(identity, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewJWTService("secret", "someone-else").GenerateAccessToken(identity, time.Hour)
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "nutricoach",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "patient",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    "nutricoach",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"unknown role": badRole,
		"bad subject":  badSubject,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
