package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(t *testing.T, now time.Time) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator("test-secret", "pubhub")
	require.NoError(t, err)
	a.now = func() time.Time { return now }
	return a
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator("  ", "pubhub")
	assert.Error(t, err)
}

func TestIssueAndAuthenticate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthenticator(t, now)

	token, err := a.IssueToken(AuthenticatedUser{ID: "u1", Email: "u1@example.com", Name: "Ada"}, time.Hour)
	require.NoError(t, err)

	user, err := a.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, &AuthenticatedUser{ID: "u1", Email: "u1@example.com", Name: "Ada"}, user)

	user, err = a.Authenticate("bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestAuthenticateFailures(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthenticator(t, now)

	valid, err := a.IssueToken(AuthenticatedUser{ID: "u1"}, time.Hour)
	require.NoError(t, err)

	expiredIssuer := newTestAuthenticator(t, now.Add(-2*time.Hour))
	expired, err := expiredIssuer.IssueToken(AuthenticatedUser{ID: "u1"}, time.Hour)
	require.NoError(t, err)

	otherSecret, err := NewAuthenticator("other-secret", "pubhub")
	require.NoError(t, err)
	forged, err := otherSecret.IssueToken(AuthenticatedUser{ID: "u1"}, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := NewAuthenticator("test-secret", "someone-else")
	require.NoError(t, err)
	wrongIssuer.now = a.now
	foreign, err := wrongIssuer.IssueToken(AuthenticatedUser{ID: "u1"}, time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "pubhub",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   ErrorCode
	}{
		{"empty header", "", CodeMissingToken},
		{"no scheme", valid, CodeMalformed},
		{"basic scheme", "Basic " + valid, CodeMalformed},
		{"bearer without token", "Bearer ", CodeMalformed},
		{"garbage token", "Bearer not.a.jwt", CodeInvalidToken},
		{"expired", "Bearer " + expired, CodeExpiredToken},
		{"wrong secret", "Bearer " + forged, CodeInvalidToken},
		{"wrong issuer", "Bearer " + foreign, CodeInvalidToken},
		{"no subject", "Bearer " + noSubject, CodeInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := a.Authenticate(tt.header)
			assert.Nil(t, user)
			authErr, ok := AsError(err)
			require.True(t, ok, "expected *auth.Error, got %v", err)
			assert.Equal(t, tt.want, authErr.Code)
		})
	}
}

func TestIssueTokenDefaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthenticator(t, now)

	_, err := a.IssueToken(AuthenticatedUser{}, time.Hour)
	assert.Error(t, err)

	token, err := a.IssueToken(AuthenticatedUser{ID: "u1"}, 0)
	require.NoError(t, err)

	a.now = func() time.Time { return now.Add(DefaultTokenTTL - time.Minute) }
	_, err = a.Verify(token)
	assert.NoError(t, err)

	a.now = func() time.Time { return now.Add(DefaultTokenTTL + time.Minute) }
	_, err = a.Verify(token)
	authErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeExpiredToken, authErr.Code)
}
