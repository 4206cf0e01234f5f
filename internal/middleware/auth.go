package middleware

import (
	"context"
	"errors"
	"net/http"

	"atum-server/internal/log"
	"atum-server/internal/models"
	"atum-server/internal/services"
	"atum-server/internal/session"

	"github.com/gin-gonic/gin"
)

// Redirect targets for requests the session does not allow yet.
const (
	LoginPath      = "/login"
	OnboardingPath = "/onboarding"
)

// SessionCookie carries the identity token for clients that cannot set headers.
const SessionCookie = "atum_session"

// TokenVerifier validates identity tokens.
type TokenVerifier interface {
	Verify(token string) (session.Identity, error)
}

// ProfileReader looks up whether a user has a profile.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// Authenticate resolves the session of every request. A missing or invalid token leaves the
// request anonymous; it never fails the request.
func Authenticate(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := session.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token, _ = c.Cookie(SessionCookie)
		}
		if token == "" {
			c.Next()
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			log.Warn(c.Request.Context(), "Ignoring invalid identity token",
				"error", err,
				"path", c.Request.URL.Path,
			)
			c.Next()
			return
		}

		ctx := session.WithIdentity(c.Request.Context(), identity)
		ctx = log.WithUserID(ctx, identity.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", identity.UserID)
		c.Next()
	}
}

// RequireUser rejects anonymous requests, pointing the client at the login view.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := session.FromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "authentication required",
				"redirect": LoginPath,
			})
			return
		}
		c.Next()
	}
}

// RequireProfile rejects users who have not finished onboarding, pointing them at it.
// Must run after RequireUser.
func RequireProfile(profiles ProfileReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		identity, _ := session.FromContext(ctx)

		_, err := profiles.GetProfile(ctx, identity.UserID)
		switch {
		case errors.Is(err, services.ErrProfileNotFound):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "onboarding required",
				"redirect": OnboardingPath,
			})
			return
		case err != nil:
			log.Error(ctx, "Failed to check profile",
				"error", err,
				"operation", "require_profile",
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.Next()
	}
}
