package handlers

import (
	"errors"
	"net/http"

	"atum-server/internal/log"
	"atum-server/internal/middleware"
	"atum-server/internal/services"
	"atum-server/internal/session"

	"github.com/gin-gonic/gin"
)

// SessionHandler reports who is signed in and translates auth provider errors.
type SessionHandler struct {
	profiles middleware.ProfileReader
}

func NewSessionHandler(profiles middleware.ProfileReader) *SessionHandler {
	return &SessionHandler{profiles: profiles}
}

type authErrorRequest struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GetSession returns the session state. Signed-in users without a profile are flagged for onboarding.
func (h *SessionHandler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	state := session.StateFromContext(ctx)
	if state.User == nil {
		c.JSON(http.StatusOK, gin.H{"session": state, "needsOnboarding": false})
		return
	}

	_, err := h.profiles.GetProfile(ctx, state.User.UserID)
	switch {
	case errors.Is(err, services.ErrProfileNotFound):
		c.JSON(http.StatusOK, gin.H{"session": state, "needsOnboarding": true, "redirect": middleware.OnboardingPath})
	case err != nil:
		log.Error(ctx, "Failed to load profile for session",
			"error", err,
			"operation", "get_session",
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
	default:
		c.JSON(http.StatusOK, gin.H{"session": state, "needsOnboarding": false})
	}
}

// TranslateAuthError maps an auth provider failure to a message fit for the login form.
func (h *SessionHandler) TranslateAuthError(c *gin.Context) {
	var req authErrorRequest
	if !bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": session.FriendlyAuthError(req.Code, req.Message)})
}
