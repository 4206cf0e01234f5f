package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-0123456789"

func TestVerifier_RoundTrip(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "atum")
	require.NoError(t, err)
	verifier, err := NewVerifier(testSecret, "atum")
	require.NoError(t, err)

	token, err := issuer.Issue(Identity{UserID: "user-1", Email: "ada@example.com"}, time.Hour)
	require.NoError(t, err)

	identity, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "user-1", Email: "ada@example.com"}, identity)
}

func TestVerifier_Rejects(t *testing.T) {
	verifier, err := NewVerifier(testSecret, "atum")
	require.NoError(t, err)

	good, err := NewIssuer(testSecret, "atum")
	require.NoError(t, err)
	otherIssuer, err := NewIssuer(testSecret, "someone-else")
	require.NoError(t, err)
	otherSecret, err := NewIssuer("another-secret-9876543210", "atum")
	require.NoError(t, err)

	expired, err := good.Issue(Identity{UserID: "u"}, -time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := otherIssuer.Issue(Identity{UserID: "u"}, time.Hour)
	require.NoError(t, err)
	wrongSecret, err := otherSecret.Issue(Identity{UserID: "u"}, time.Hour)
	require.NoError(t, err)
	noSubject, err := good.Issue(Identity{}, time.Hour)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u",
		Issuer:    "atum",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		err   error
	}{
		{name: "empty", token: "", err: ErrNoToken},
		{name: "garbage", token: "not.a.jwt", err: ErrInvalidToken},
		{name: "expired", token: expired, err: ErrTokenExpired},
		{name: "wrong issuer", token: wrongIssuer, err: ErrInvalidToken},
		{name: "wrong secret", token: wrongSecret, err: ErrInvalidToken},
		{name: "none algorithm", token: noneAlg, err: ErrInvalidToken},
		{name: "no subject", token: noSubject, err: ErrMissingSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNewVerifier_ShortSecret(t *testing.T) {
	_, err := NewVerifier("short", "atum")
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}

func TestStateFromContext(t *testing.T) {
	state := StateFromContext(context.Background())
	assert.Nil(t, state.User)
	assert.False(t, state.IsLoading)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1"})
	state = StateFromContext(ctx)
	require.NotNil(t, state.User)
	assert.Equal(t, "u1", state.User.UserID)
}

func TestFriendlyAuthError(t *testing.T) {
	assert.Equal(t, "No account found with that email.", FriendlyAuthError("auth/user-not-found", "raw"))
	assert.Equal(t, "raw provider text", FriendlyAuthError("auth/something-new", "raw provider text"))
	assert.Contains(t, FriendlyAuthError("", "Failed to get document because the client is offline."), "offline")
	assert.Equal(t, "Authentication failed.", FriendlyAuthError("", ""))
}
