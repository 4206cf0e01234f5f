package handlers

import (
	"net/http"

	"atum-server/internal/log"
	"atum-server/internal/models"
	"atum-server/internal/session"
	"atum-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type narrativeRequest struct {
	Source string `json:"source"`
	Vibe   string `json:"vibe"`
}

// AddActivity logs a manual activity.
func (h *AppHandler) AddActivity(c *gin.Context) {
	var input store.NewActivity
	if !bind(c, &input) {
		return
	}
	item, res := h.storeFor(c).AddActivity(c.Request.Context(), input)
	respond(c, http.StatusCreated, item, res)
}

// DeleteActivity removes one of the caller's activity items.
func (h *AppHandler) DeleteActivity(c *gin.Context) {
	res := h.storeFor(c).DeleteActivity(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, nil, res)
}

// AddIdea captures an idea.
func (h *AppHandler) AddIdea(c *gin.Context) {
	var input store.NewIdea
	if !bind(c, &input) {
		return
	}
	idea, res := h.storeFor(c).AddIdea(c.Request.Context(), input)
	respond(c, http.StatusCreated, idea, res)
}

// DeleteIdea removes one of the caller's ideas.
func (h *AppHandler) DeleteIdea(c *gin.Context) {
	res := h.storeFor(c).DeleteIdea(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, nil, res)
}

// AddDraft creates a content draft.
func (h *AppHandler) AddDraft(c *gin.Context) {
	var input store.NewDraft
	if !bind(c, &input) {
		return
	}
	draft, res := h.storeFor(c).AddDraft(c.Request.Context(), input)
	respond(c, http.StatusCreated, draft, res)
}

// UpdateDraft edits a draft. Moving it to Published logs the milestone.
func (h *AppHandler) UpdateDraft(c *gin.Context) {
	var patch models.DraftPatch
	if !bind(c, &patch) {
		return
	}
	draft, res := h.storeFor(c).UpdateDraft(c.Request.Context(), c.Param("id"), patch)
	respond(c, http.StatusOK, draft, res)
}

// SyncCommits pulls the latest commits of the caller's configured repository. With
// ?async=true the sync is queued as a job instead.
func (h *AppHandler) SyncCommits(c *gin.Context) {
	if c.Query("async") == "true" && h.jobs != nil {
		h.queueCommitSync(c)
		return
	}

	commits, res := h.storeFor(c).SyncCommits(c.Request.Context(), store.TriggerManual)
	if res.Err != nil {
		respondError(c, res.Err, res.Notification)
		return
	}
	c.JSON(http.StatusOK, actionResponse{
		Data:         gin.H{"synced": len(commits), "commits": commits},
		Notification: res.Notification,
	})
}

func (h *AppHandler) queueCommitSync(c *gin.Context) {
	ctx := c.Request.Context()
	identity, _ := session.FromContext(ctx)
	traceID := c.GetString("trace_id")

	payload := &models.CommitSyncJob{ID: uuid.New().String(), UserID: identity.UserID, TraceID: traceID}
	job, err := NewJob(models.JobTypeCommitSync, traceID, payload)
	if err == nil {
		job.ID = payload.ID
		err = h.jobs.EnqueueJob(ctx, job)
	}
	if err != nil {
		log.Error(ctx, "Failed to queue commit sync",
			"error", err,
			"operation", "queue_commit_sync",
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "job_id": job.ID})
}

// GenerateNarrative drafts a post from the caller's logged activity.
func (h *AppHandler) GenerateNarrative(c *gin.Context) {
	var req narrativeRequest
	if !bind(c, &req) {
		return
	}
	text, res := h.storeFor(c).GenerateNarrative(c.Request.Context(), req.Source, req.Vibe)
	respond(c, http.StatusOK, gin.H{"content": text}, res)
}
