package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"atum-server/internal/log"
	"atum-server/internal/models"
	"atum-server/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v73/github"
	"github.com/google/uuid"
)

// JobQueue accepts jobs for the job processor, either through Cloud Tasks or inline.
type JobQueue interface {
	EnqueueJob(ctx context.Context, job *models.Job) error
}

// GitHubHandler receives push webhooks and queues their commits for every tracking user.
type GitHubHandler struct {
	jobs          JobQueue
	validation    *services.ValidationService
	webhookSecret string
}

func NewGitHubHandler(jobs JobQueue, validation *services.ValidationService, webhookSecret string) *GitHubHandler {
	return &GitHubHandler{
		jobs:          jobs,
		validation:    validation,
		webhookSecret: webhookSecret,
	}
}

// NewJob wraps payload into a job of jobType.
func NewJob(jobType, traceID string, payload interface{}) (*models.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", jobType, err)
	}
	return &models.Job{
		ID:      uuid.New().String(),
		Type:    jobType,
		TraceID: traceID,
		Payload: raw,
	}, nil
}

func (h *GitHubHandler) HandleWebhook(c *gin.Context) {
	startTime := time.Now()
	traceID := c.GetString("trace_id")

	eventType := c.GetHeader("X-GitHub-Event")
	deliveryID := c.GetHeader("X-GitHub-Delivery")

	ctx := log.WithFields(c.Request.Context(), log.LogFields{
		"remote_addr":     c.ClientIP(),
		"github_event":    eventType,
		"github_delivery": deliveryID,
	})

	if eventType == "" || deliveryID == "" {
		log.Error(ctx, "Missing required headers")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required headers"})
		return
	}

	// go-github skips signature checks for an empty secret, so unsigned deliveries never get that far.
	if h.webhookSecret == "" {
		log.Error(ctx, "Webhook secret not configured, rejecting delivery")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid payload or signature"})
		return
	}

	payload, err := github.ValidatePayload(c.Request, []byte(h.webhookSecret))
	if err != nil {
		log.Error(ctx, "Invalid webhook payload or signature", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid payload or signature"})
		return
	}

	if err := h.validation.ValidateWebhookPayload(eventType, payload); err != nil {
		log.Error(ctx, "Invalid webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		log.Error(ctx, "Failed to parse webhook", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	push, ok := event.(*github.PushEvent)
	if !ok {
		log.Debug(ctx, "Acknowledged non-push event")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	commits := services.MapPushCommits(push)
	if len(commits) == 0 {
		log.Debug(ctx, "Push carried no commits", "ref", push.GetRef())
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	jobID := uuid.New().String()
	job, err := NewJob(models.JobTypePushEvent, traceID, &models.PushEventJob{
		ID:           jobID,
		RepoFullName: push.GetRepo().GetFullName(),
		Commits:      commits,
		TraceID:      traceID,
	})
	if err != nil {
		log.Error(ctx, "Failed to build push job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue webhook"})
		return
	}
	job.ID = jobID

	if err := h.jobs.EnqueueJob(ctx, job); err != nil {
		log.Error(ctx, "Failed to enqueue push job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue webhook"})
		return
	}

	processingTime := time.Since(startTime)
	log.Info(ctx, "Push webhook queued",
		"job_id", job.ID,
		"repo", push.GetRepo().GetFullName(),
		"commits", len(commits),
		"processing_time_ms", processingTime.Milliseconds(),
	)

	c.JSON(http.StatusOK, gin.H{
		"status":             "queued",
		"job_id":             job.ID,
		"processing_time_ms": processingTime.Milliseconds(),
	})
}
