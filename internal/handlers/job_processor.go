package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"atum-server/internal/log"
	"atum-server/internal/metrics"
	"atum-server/internal/models"
	"atum-server/internal/services"
	"atum-server/internal/store"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	jobRetryCountWarningThreshold = 5
)

// PushTargets finds the users tracking a repository and stores their commit activity.
type PushTargets interface {
	FindProfilesByRepo(ctx context.Context, repoFullName string) ([]*models.UserProfile, error)
	UpsertActivities(ctx context.Context, items []*models.ActivityItem) error
}

// JobProcessorConfig bounds job execution.
type JobProcessorConfig struct {
	Timeout     time.Duration
	MaxAttempts int32
}

// JobProcessor runs commit-sync and push jobs delivered by Cloud Tasks. With Cloud Tasks
// disabled it doubles as the queue and runs jobs inline.
type JobProcessor struct {
	registry *store.Registry
	targets  PushTargets
	config   JobProcessorConfig
}

func NewJobProcessor(registry *store.Registry, targets PushTargets, cfg JobProcessorConfig) *JobProcessor {
	return &JobProcessor{
		registry: registry,
		targets:  targets,
		config:   cfg,
	}
}

// permanentError marks a job failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// EnqueueJob runs the job immediately.
func (jp *JobProcessor) EnqueueJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	ctx = log.WithFields(ctx, log.LogFields{"job_id": job.ID, "job_type": job.Type})
	if err := jp.routeJob(ctx, job); err != nil {
		log.Error(ctx, "Inline job failed", "error", err)
		return err
	}
	return nil
}

func (jp *JobProcessor) ProcessJob(c *gin.Context) {
	startTime := time.Now()

	var job models.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		log.Error(c.Request.Context(), "Invalid job payload - JSON binding failed",
			"error", err,
			"content_type", c.ContentType(),
			"content_length", c.Request.ContentLength,
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job payload"})
		return
	}

	retryCount := 0
	if parsed, err := strconv.Atoi(c.GetHeader("X-Cloudtasks-Taskretrycount")); err == nil {
		retryCount = parsed
	}

	ctx := c.Request.Context()
	if jp.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, jp.config.Timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, log.TraceIDKey, job.TraceID)
	ctx = log.WithFields(ctx, log.LogFields{
		"job_id":               job.ID,
		"job_type":             job.Type,
		"retry_count":          retryCount,
		"task_execution_count": c.GetHeader("X-Cloudtasks-Taskexecutioncount"),
	})

	log.Debug(ctx, "Processing job")

	if jp.config.MaxAttempts > 0 && int32(retryCount) >= jp.config.MaxAttempts {
		log.Error(ctx, "Maximum retry attempts exceeded, failing task permanently",
			"max_retries_configured", jp.config.MaxAttempts,
		)
		c.JSON(http.StatusOK, gin.H{
			"status":      "max_retries_exceeded",
			"retry_count": retryCount,
			"max_retries": jp.config.MaxAttempts,
		})
		return
	}

	if retryCount > jobRetryCountWarningThreshold {
		log.Warn(ctx, "High retry count for job", "retry_threshold", jobRetryCountWarningThreshold)
	}

	if err := jp.routeJob(ctx, &job); err != nil {
		processingTime := time.Since(startTime)
		retryable := isJobRetryableError(err)
		log.Error(ctx, "Failed to process job",
			"error", err,
			"retryable", retryable,
			"processing_time_ms", processingTime.Milliseconds(),
		)

		code := http.StatusBadRequest
		if retryable {
			code = http.StatusInternalServerError
		}
		c.JSON(code, gin.H{
			"error":              "processing failed",
			"retryable":          retryable,
			"processing_time_ms": processingTime.Milliseconds(),
		})
		return
	}

	processingTime := time.Since(startTime)
	log.Info(ctx, "Job processed successfully",
		"processing_time_ms", processingTime.Milliseconds(),
	)

	c.JSON(http.StatusOK, gin.H{
		"status":             "processed",
		"processing_time_ms": processingTime.Milliseconds(),
	})
}

func (jp *JobProcessor) routeJob(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobTypeCommitSync:
		return jp.processCommitSync(ctx, job)
	case models.JobTypePushEvent:
		return jp.processPushEvent(ctx, job)
	default:
		return permanent(fmt.Errorf("%w: %s", models.ErrUnsupportedJobType, job.Type))
	}
}

func (jp *JobProcessor) processCommitSync(ctx context.Context, job *models.Job) error {
	var payload models.CommitSyncJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return permanent(fmt.Errorf("failed to decode commit sync job: %w", err))
	}
	if err := payload.Validate(); err != nil {
		return permanent(err)
	}

	ctx = log.WithUserID(ctx, payload.UserID)
	_, res := jp.registry.For(payload.UserID).SyncCommits(ctx, store.TriggerJob)
	if res.Err == nil {
		return nil
	}
	if errors.Is(res.Err, services.ErrCommitSyncFailed) && services.IsRetryableGitHubError(res.Err) {
		return res.Err
	}
	if errors.Is(res.Err, services.ErrCommitSyncFailed) {
		return permanent(res.Err)
	}
	if store.IsValidation(res.Err) || store.IsNotFound(res.Err) ||
		errors.Is(res.Err, store.ErrSyncNotConfigured) ||
		errors.Is(res.Err, store.ErrIntegrationDisabled) ||
		errors.Is(res.Err, store.ErrProfileRequired) {
		return permanent(res.Err)
	}
	return res.Err
}

// ownedCommits copies the shared push commits for one user.
func ownedCommits(userID string, commits []*models.ActivityItem) []*models.ActivityItem {
	owned := make([]*models.ActivityItem, 0, len(commits))
	for _, commit := range commits {
		item := *commit
		item.UserID = userID
		owned = append(owned, &item)
	}
	return owned
}

func (jp *JobProcessor) processPushEvent(ctx context.Context, job *models.Job) error {
	var payload models.PushEventJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return permanent(fmt.Errorf("failed to decode push job: %w", err))
	}
	if err := payload.Validate(); err != nil {
		return permanent(err)
	}

	ctx = log.WithFields(ctx, log.LogFields{"repo": payload.RepoFullName})

	profiles, err := jp.targets.FindProfilesByRepo(ctx, payload.RepoFullName)
	if err != nil {
		metrics.CommitSyncs.WithLabelValues(store.TriggerWebhook, metrics.OutcomeError).Inc()
		return fmt.Errorf("failed to find profiles for %s: %w", payload.RepoFullName, err)
	}
	if len(profiles) == 0 {
		metrics.CommitSyncs.WithLabelValues(store.TriggerWebhook, metrics.OutcomeNoop).Inc()
		log.Info(ctx, "No users track pushed repository")
		return nil
	}

	updated := make([]string, 0, len(profiles))
	for _, profile := range profiles {
		if err := jp.targets.UpsertActivities(ctx, ownedCommits(profile.ID, payload.Commits)); err != nil {
			metrics.CommitSyncs.WithLabelValues(store.TriggerWebhook, metrics.OutcomeError).Inc()
			// Upserts are keyed by commit, so the retry rewrites the users already done.
			jp.registry.Invalidate(ctx, updated...)
			return fmt.Errorf("failed to store push commits for user %s: %w", profile.ID, err)
		}
		updated = append(updated, profile.ID)
	}

	jp.registry.Invalidate(ctx, updated...)
	metrics.CommitSyncs.WithLabelValues(store.TriggerWebhook, metrics.OutcomeSuccess).Inc()
	log.Info(ctx, "Push commits stored",
		"users", len(updated),
		"commits", len(payload.Commits),
	)
	return nil
}

func isJobRetryableError(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return true
		case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition:
			return false
		}
	}

	// Check for network/connection errors (should be retried)
	errStr := err.Error()
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "dial") {
		return true
	}

	// Default to not retrying for unknown errors
	return false
}
