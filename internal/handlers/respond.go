package handlers

import (
	"errors"
	"net/http"

	"atum-server/internal/middleware"
	"atum-server/internal/models"
	"atum-server/internal/store"

	"github.com/gin-gonic/gin"
)

const genericErrorMessage = "Something went wrong. Please try again."

// actionResponse is the body of every successful store action.
type actionResponse struct {
	Data         interface{}          `json:"data,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
}

// statusFor maps a store or service error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrProfileRequired):
		return http.StatusForbidden
	case errors.Is(err, store.ErrAlreadyOnboarded):
		return http.StatusConflict
	case store.IsValidation(err), errors.Is(err, store.ErrSyncNotConfigured):
		return http.StatusBadRequest
	case store.IsNotFound(err):
		return http.StatusNotFound
	case store.IsForbidden(err):
		return http.StatusForbidden
	case errors.Is(err, store.ErrIntegrationDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err with its status. Unexpected failures never leak their text.
func respondError(c *gin.Context, err error, notification *models.Notification) {
	status := statusFor(err)
	body := gin.H{"error": genericErrorMessage}
	switch {
	case notification != nil:
		body["error"] = notification.Message
		body["notification"] = notification
	case status != http.StatusInternalServerError:
		body["error"] = err.Error()
	}

	switch status {
	case http.StatusUnauthorized:
		body["redirect"] = middleware.LoginPath
	case http.StatusForbidden:
		if errors.Is(err, store.ErrProfileRequired) {
			body["redirect"] = middleware.OnboardingPath
		}
	}
	c.JSON(status, body)
}

// respond writes the outcome of a store action. Partial failures succeed with warnings.
func respond(c *gin.Context, status int, data interface{}, res store.Result) {
	if res.Err != nil {
		respondError(c, res.Err, res.Notification)
		return
	}

	body := actionResponse{Data: data, Notification: res.Notification}
	if res.AuditErr != nil {
		body.Warnings = append(body.Warnings, "The activity log could not be updated.")
	}
	if res.PublishErr != nil {
		body.Warnings = append(body.Warnings, "The draft could not be posted to its platform.")
	}
	c.JSON(status, body)
}

// bind decodes the JSON body into dest, answering 400 on failure.
func bind(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}
