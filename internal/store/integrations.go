package store

import (
	"context"
	"fmt"
	"strings"

	"atum-server/internal/log"
	"atum-server/internal/metrics"
	"atum-server/internal/models"
	"atum-server/internal/services"
)

// Commit sync triggers.
const (
	TriggerManual  = "manual"
	TriggerJob     = "job"
	TriggerWebhook = "webhook"
)

// SyncCommits pulls the latest commits of the configured repository into the activity log.
// Items are keyed by commit, so syncing twice never duplicates. A failed fetch is reported to
// the caller but does not mark the whole state as failed.
func (s *Store) SyncCommits(ctx context.Context, trigger string) ([]*models.ActivityItem, Result) {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return nil, s.notifyFailure("Commit Sync Failed", err)
	}
	if s.deps.Commits == nil {
		return nil, s.notifyFailure("Commit Sync Failed", ErrIntegrationDisabled)
	}

	profile, err := s.profile(ctx)
	if err != nil {
		return nil, s.notifyFailure("Commit Sync Failed", err)
	}
	cfg := profile.GitHubConfig
	if strings.TrimSpace(cfg.Repo) == "" {
		return nil, s.notifyFailure("Commit Sync Failed", ErrSyncNotConfigured)
	}

	commits, err := s.deps.Commits.FetchCommits(ctx, s.userID, cfg)
	if err != nil {
		metrics.CommitSyncs.WithLabelValues(trigger, metrics.OutcomeError).Inc()
		log.Warn(ctx, "Commit sync failed",
			"error", err,
			"repo", cfg.Repo,
			"trigger", trigger,
			"user_id", s.userID,
		)
		return nil, s.notifyFailure("Commit Sync Failed", err)
	}
	if len(commits) == 0 {
		metrics.CommitSyncs.WithLabelValues(trigger, metrics.OutcomeNoop).Inc()
		return commits, s.info("No Commits", "No commits found in "+cfg.Repo+".")
	}

	var previous []*models.ActivityItem
	err = s.apply(ctx, "sync_commits", change{
		local: func(snap *Snapshot) {
			previous = snap.Activity
			snap.Activity = services.MergeActivity(snap.Activity, commits)
		},
		remote: func(ctx context.Context) error {
			return s.deps.Repo.UpsertActivities(ctx, commits)
		},
		revert: func(snap *Snapshot) { snap.Activity = previous },
	})
	if err != nil {
		metrics.CommitSyncs.WithLabelValues(trigger, metrics.OutcomeError).Inc()
		return nil, s.notifyFailure("Commit Sync Failed", err)
	}

	metrics.CommitSyncs.WithLabelValues(trigger, metrics.OutcomeSuccess).Inc()
	log.Info(ctx, "Commits synced",
		"repo", cfg.Repo,
		"count", len(commits),
		"trigger", trigger,
		"user_id", s.userID,
	)
	return commits, s.success("Commits Synced", fmt.Sprintf("%d commits from %s", len(commits), cfg.Repo))
}

// GenerateNarrative drafts a build-in-public update from the user's logged activity of the
// given source, in the requested tone.
func (s *Store) GenerateNarrative(ctx context.Context, source, vibe string) (string, Result) {
	if s.userID == "" {
		return "", s.notifyFailure("Generation Failed", ErrUnauthenticated)
	}
	if s.deps.Completion == nil {
		return "", s.notifyFailure("Generation Failed", ErrIntegrationDisabled)
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return "", s.notifyFailure("Generation Failed", err)
	}

	prompt, err := services.BuildNarrativePrompt(source, vibe, s.Snapshot().Activity)
	if err != nil {
		return "", s.notifyFailure("Generation Failed", err)
	}

	genCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	text, err := s.deps.Completion.Generate(genCtx, prompt)
	s.observe("generate_narrative", err)
	if err != nil {
		return "", s.notifyFailure("Generation Failed", err)
	}
	return text, Result{}
}
