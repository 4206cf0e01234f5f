package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"atum-server/internal/log"
	"atum-server/internal/session"

	"github.com/gin-gonic/gin"
	"google.golang.org/api/idtoken"
)

var (
	ErrTokenValidationFailed = errors.New("token validation failed")
	ErrInvalidServiceAccount = errors.New("invalid service account in token")
)

// TokenValidator checks a Google-signed ID token against an audience.
type TokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// JobOIDCAuth admits job deliveries carrying an OIDC token minted for serviceAccount with the
// given audience. An empty serviceAccount disables the check for local development.
func JobOIDCAuth(audience, serviceAccount string, validate TokenValidator) gin.HandlerFunc {
	if validate == nil {
		validate = idtoken.Validate
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if serviceAccount == "" {
			log.Debug(ctx, "Skipping OIDC verification - no service account configured")
			c.Next()
			return
		}

		token := session.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			log.Error(ctx, "Missing bearer token for job request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		if err := verifyJobToken(ctx, validate, token, audience, serviceAccount); err != nil {
			log.Error(ctx, "OIDC token verification failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token verification failed"})
			return
		}
		c.Next()
	}
}

func verifyJobToken(ctx context.Context, validate TokenValidator, token, audience, serviceAccount string) error {
	payload, err := validate(ctx, token, audience)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenValidationFailed, err)
	}

	email, ok := payload.Claims["email"].(string)
	if !ok {
		return fmt.Errorf("%w: missing email claim", ErrTokenValidationFailed)
	}
	if email != serviceAccount {
		return fmt.Errorf("%w: got %s, expected %s", ErrInvalidServiceAccount, email, serviceAccount)
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return fmt.Errorf("%w: service account email not verified", ErrTokenValidationFailed)
	}

	log.Debug(ctx, "OIDC token verified",
		"service_account", email,
		"audience", payload.Audience,
		"expires_at", payload.Expires,
	)
	return nil
}
