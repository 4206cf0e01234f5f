package handlers

import (
	"net/http"
	"time"

	"atum-server/internal/log"
	"atum-server/internal/models"
	"atum-server/internal/session"
	"atum-server/internal/store"

	"github.com/gin-gonic/gin"
)

// AppHandler serves the signed-in user's state and every action on it.
type AppHandler struct {
	registry *store.Registry
	jobs     JobQueue
	now      func() time.Time
}

// NewAppHandler creates an AppHandler backed by the per-user stores of registry. jobs may be
// nil, in which case commit syncs always run in the request.
func NewAppHandler(registry *store.Registry, jobs JobQueue, now func() time.Time) *AppHandler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &AppHandler{registry: registry, jobs: jobs, now: now}
}

func (h *AppHandler) storeFor(c *gin.Context) *store.Store {
	identity, _ := session.FromContext(c.Request.Context())
	return h.registry.For(identity.UserID)
}

// loaded returns the caller's store, fetching its state first if it never was.
func (h *AppHandler) loaded(c *gin.Context) *store.Store {
	s := h.storeFor(c)
	if !s.Status().IsInitialized {
		if err := s.FetchAll(c.Request.Context()); err != nil {
			log.Warn(c.Request.Context(), "Serving state after failed fetch", "error", err)
		}
	}
	return s
}

// GetState refreshes and returns the full state, its status and pending notifications.
func (h *AppHandler) GetState(c *gin.Context) {
	s := h.storeFor(c)
	if err := s.FetchAll(c.Request.Context()); err != nil {
		log.Warn(c.Request.Context(), "State fetch failed", "error", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"state":         s.Snapshot(),
		"status":        s.Status(),
		"notifications": s.Notifications().List(),
	})
}

// GetDashboard returns the derived dashboard numbers and insight.
func (h *AppHandler) GetDashboard(c *gin.Context) {
	s := h.loaded(c)
	c.JSON(http.StatusOK, gin.H{
		"stats":  s.Stats(h.now()),
		"status": s.Status(),
	})
}

// CompleteOnboarding creates the caller's profile.
func (h *AppHandler) CompleteOnboarding(c *gin.Context) {
	var input store.Onboarding
	if !bind(c, &input) {
		return
	}
	identity, _ := session.FromContext(c.Request.Context())
	input.Email = identity.Email

	profile, res := h.storeFor(c).CompleteOnboarding(c.Request.Context(), input)
	respond(c, http.StatusCreated, profile, res)
}

// UpdateProfile applies a partial profile update.
func (h *AppHandler) UpdateProfile(c *gin.Context) {
	var patch models.ProfilePatch
	if !bind(c, &patch) {
		return
	}
	profile, res := h.storeFor(c).UpdateProfile(c.Request.Context(), patch)
	respond(c, http.StatusOK, profile, res)
}

// DismissNotification removes one pending notification.
func (h *AppHandler) DismissNotification(c *gin.Context) {
	if !h.storeFor(c).DismissNotification(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
