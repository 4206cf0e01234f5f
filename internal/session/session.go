// Package session verifies identity tokens issued by the auth provider and carries the
// resulting identity through request contexts.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken          = errors.New("no identity token")
	ErrInvalidToken     = errors.New("invalid identity token")
	ErrTokenExpired     = errors.New("identity token expired")
	ErrMissingSubject   = errors.New("identity token has no subject")
	ErrSecretTooShort   = errors.New("signing secret must be at least 16 characters")
	ErrUnexpectedMethod = errors.New("unexpected signing method")
)

const minSecretLength = 16

// Identity is the signed-in user as asserted by the auth provider.
type Identity struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
}

// State is what the rest of the application sees of the session.
// IsLoading is true only until the request's token has been examined.
type State struct {
	User      *Identity `json:"user"`
	IsLoading bool      `json:"isLoading"`
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 identity tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a Verifier for tokens signed with secret and issued by issuer.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if len(secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}
	return &Verifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses tokenStr and returns the identity it asserts.
func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, ErrNoToken
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("%w: %v", ErrUnexpectedMethod, token.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if c.Subject == "" {
		return Identity{}, ErrMissingSubject
	}

	return Identity{UserID: c.Subject, Email: c.Email}, nil
}

// Issuer mints identity tokens. Production tokens come from the auth provider;
// this is used by the toolbox and tests.
type Issuer struct {
	secret []byte
	issuer string
}

// NewIssuer creates an Issuer sharing the Verifier's secret and issuer.
func NewIssuer(secret, issuer string) (*Issuer, error) {
	if len(secret) < minSecretLength {
		return nil, ErrSecretTooShort
	}
	return &Issuer{secret: []byte(secret), issuer: issuer}, nil
}

// Issue signs a token for identity valid for ttl.
func (i *Issuer) Issue(identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign identity token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a context carrying identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok && identity.UserID != ""
}

// StateFromContext resolves the session state for a request whose token has already been examined.
func StateFromContext(ctx context.Context) State {
	if identity, ok := FromContext(ctx); ok {
		return State{User: &identity}
	}
	return State{}
}
