package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_IssueAndVerify(t *testing.T) {
	svc := NewJWTService("secret", "neuroconnect", time.Hour)

	tok, err := svc.Issue(42, "doctor")
	require.NoError(t, err)

	id, err := svc.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)
}

func TestJWTService_RejectsWrongSecret(t *testing.T) {
	tok, err := NewJWTService("a", "", time.Hour).Issue(1, "student")
	require.NoError(t, err)

	_, err = NewJWTService("b", "", time.Hour).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_RejectsExpired(t *testing.T) {
	svc := NewJWTService("secret", "", time.Minute)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := svc.Issue(1, "student")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_RejectsNonNumericSubject(t *testing.T) {
	claims := jwt.RegisteredClaims{Subject: "alice"}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTService("secret", "", 0).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Disabled(t *testing.T) {
	svc := NewJWTService("", "", time.Hour)
	_, err := svc.Issue(1, "")
	assert.ErrorIs(t, err, ErrAuthDisabled)
	_, err = svc.Verify("x.y.z")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestJWTService_EmptyToken(t *testing.T) {
	_, err := NewJWTService("secret", "", time.Hour).Verify("  ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
