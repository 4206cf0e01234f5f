package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"atum-server/internal/insight"
	"atum-server/internal/log"
	"atum-server/internal/models"
	"atum-server/internal/services"
)

// NewActivity is a manually logged activity.
type NewActivity struct {
	Type    models.ActivityType `json:"type"`
	Source  string              `json:"source"`
	Title   string              `json:"title"`
	Desc    string              `json:"desc"`
	Details string              `json:"details"`
	URL     string              `json:"url"`
}

// NewIdea is a captured idea.
type NewIdea struct {
	Title string   `json:"title"`
	Desc  string   `json:"desc"`
	Tags  []string `json:"tags"`
}

// NewDraft is a draft created manually or from a generated narrative.
type NewDraft struct {
	Title    string             `json:"title"`
	Type     string             `json:"type"`
	Platform string             `json:"platform"`
	Status   models.DraftStatus `json:"status"`
	Content  string             `json:"content"`
}

// Onboarding is the first profile of a user. Email comes from the identity, never the client.
type Onboarding struct {
	Email             string         `json:"-"`
	Username          string         `json:"username"`
	Bio               string         `json:"bio"`
	Role              string         `json:"role"`
	Phase             string         `json:"phase"`
	CurrentlyBuilding string         `json:"currentlyBuilding"`
	AvatarURL         string         `json:"avatarUrl"`
	Socials           models.Socials `json:"socials"`
	TechStack         []string       `json:"techStack"`
}

// begin serializes actions and makes sure the state has been fetched once. It fails when
// signed out. The returned func must always be called.
func (s *Store) begin(ctx context.Context) (func(), error) {
	if s.userID == "" {
		return func() {}, ErrUnauthenticated
	}
	s.actionMu.Lock()
	if err := s.ensureLoaded(ctx); err != nil {
		// Lookups fall back to the repository.
		log.Debug(ctx, "Running action on unloaded state", "error", err, "user_id", s.userID)
	}
	return s.actionMu.Unlock, nil
}

func (s *Store) success(title, message string) Result {
	return Result{Notification: s.notifications.Add(models.NotificationSuccess, title, message)}
}

func (s *Store) info(title, message string) Result {
	return Result{Notification: s.notifications.Add(models.NotificationInfo, title, message)}
}

// withAudit records an audit entry for a successful action, reporting its failure in AuditErr.
func (s *Store) withAudit(ctx context.Context, res Result, activityType models.ActivityType, title, desc string) Result {
	res.AuditErr = s.audit(ctx, activityType, title, desc)
	return res
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// Activity

// AddActivity logs a new activity item.
func (s *Store) AddActivity(ctx context.Context, input NewActivity) (*models.ActivityItem, Result) {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return nil, s.notifyFailure("Could Not Log Activity", err)
	}

	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = models.SourceManual
	}
	item := &models.ActivityItem{
		UserID:  s.userID,
		Type:    input.Type,
		Source:  source,
		Title:   strings.TrimSpace(input.Title),
		Desc:    input.Desc,
		Details: input.Details,
		URL:     input.URL,
		Time:    models.JustNow,
	}
	if err := item.Validate(); err != nil {
		return nil, s.notifyFailure("Could Not Log Activity", err)
	}

	pending := *item
	err = s.apply(ctx, "add_activity", change{
		local: func(snap *Snapshot) { snap.Activity = prepend(snap.Activity, &pending) },
		remote: func(ctx context.Context) error {
			return s.deps.Repo.CreateActivity(ctx, item)
		},
		settle: func(snap *Snapshot) { snap.Activity = replace(snap.Activity, &pending, item) },
		revert: func(snap *Snapshot) {
			snap.Activity, _, _ = remove(snap.Activity, func(a *models.ActivityItem) bool { return a == &pending })
		},
	})
	if err != nil {
		return nil, s.notifyFailure("Could Not Log Activity", err)
	}

	return item, s.success("Activity Logged", item.Title)
}

func (s *Store) ownedActivity(ctx context.Context, id string) (*models.ActivityItem, error) {
	s.mu.RLock()
	item := find(s.snapshot.Activity, func(a *models.ActivityItem) bool { return a.ID == id })
	s.mu.RUnlock()
	if item != nil {
		return item, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	item, err := s.deps.Repo.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.UserID != s.userID {
		return nil, services.ErrActivityNotFound
	}
	return item, nil
}

// DeleteActivity removes one of the user's activity items. Synced commits are refused.
func (s *Store) DeleteActivity(ctx context.Context, id string) Result {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return s.notifyFailure("Could Not Delete Activity", err)
	}

	item, err := s.ownedActivity(ctx, id)
	if err != nil {
		return s.notifyFailure("Could Not Delete Activity", err)
	}
	if item.IsCommit() {
		return s.notifyFailure("Could Not Delete Activity", ErrProtectedActivity)
	}

	var (
		removed *models.ActivityItem
		index   int
	)
	err = s.apply(ctx, "delete_activity", change{
		local: func(snap *Snapshot) {
			snap.Activity, removed, index = remove(snap.Activity, func(a *models.ActivityItem) bool { return a.ID == id })
		},
		remote: func(ctx context.Context) error {
			return s.deps.Repo.DeleteActivity(ctx, id)
		},
		revert: func(snap *Snapshot) {
			if removed != nil {
				snap.Activity = insertAt(snap.Activity, index, removed)
			}
		},
	})
	if err != nil {
		return s.notifyFailure("Could Not Delete Activity", err)
	}
	return s.success("Activity Deleted", item.Title)
}

// Ideas

// AddIdea captures an idea and records it in the activity log.
func (s *Store) AddIdea(ctx context.Context, input NewIdea) (*models.IdeaItem, Result) {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return nil, s.notifyFailure("Could Not Capture Idea", err)
	}

	idea := &models.IdeaItem{
		UserID: s.userID,
		Title:  strings.TrimSpace(input.Title),
		Desc:   input.Desc,
		Tags:   cleanTags(input.Tags),
		Date:   models.JustNow,
	}
	if err := idea.Validate(); err != nil {
		return nil, s.notifyFailure("Could Not Capture Idea", err)
	}

	pending := *idea
	err = s.apply(ctx, "add_idea", change{
		local: func(snap *Snapshot) { snap.Ideas = prepend(snap.Ideas, &pending) },
		remote: func(ctx context.Context) error {
			return s.deps.Repo.CreateIdea(ctx, idea)
		},
		settle: func(snap *Snapshot) { snap.Ideas = replace(snap.Ideas, &pending, idea) },
		revert: func(snap *Snapshot) {
			snap.Ideas, _, _ = remove(snap.Ideas, func(i *models.IdeaItem) bool { return i == &pending })
		},
	})
	if err != nil {
		return nil, s.notifyFailure("Could Not Capture Idea", err)
	}

	res := s.success("Idea Captured", idea.Title)
	return idea, s.withAudit(ctx, res, models.ActivityNote, "Idea Captured", idea.Title)
}

func (s *Store) ownedIdea(ctx context.Context, id string) (*models.IdeaItem, error) {
	s.mu.RLock()
	idea := find(s.snapshot.Ideas, func(i *models.IdeaItem) bool { return i.ID == id })
	s.mu.RUnlock()
	if idea != nil {
		return idea, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	idea, err := s.deps.Repo.GetIdea(ctx, id)
	if err != nil {
		return nil, err
	}
	if idea.UserID != s.userID {
		return nil, services.ErrIdeaNotFound
	}
	return idea, nil
}

// DeleteIdea removes one of the user's ideas.
func (s *Store) DeleteIdea(ctx context.Context, id string) Result {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return s.notifyFailure("Could Not Delete Idea", err)
	}

	if _, err := s.ownedIdea(ctx, id); err != nil {
		return s.notifyFailure("Could Not Delete Idea", err)
	}

	var (
		removed *models.IdeaItem
		index   int
	)
	err = s.apply(ctx, "delete_idea", change{
		local: func(snap *Snapshot) {
			snap.Ideas, removed, index = remove(snap.Ideas, func(i *models.IdeaItem) bool { return i.ID == id })
		},
		remote: func(ctx context.Context) error {
			return s.deps.Repo.DeleteIdea(ctx, id)
		},
		revert: func(snap *Snapshot) {
			if removed != nil {
				snap.Ideas = insertAt(snap.Ideas, index, removed)
			}
		},
	})
	if err != nil {
		return s.notifyFailure("Could Not Delete Idea", err)
	}
	return Result{}
}

// Drafts

// AddDraft creates a draft and records it in the activity log. Drafts cannot start out
// published; publishing goes through UpdateDraft so it always leaves a milestone.
func (s *Store) AddDraft(ctx context.Context, input NewDraft) (*models.DraftItem, Result) {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return nil, s.notifyFailure("Could Not Create Draft", err)
	}

	draft := &models.DraftItem{
		UserID:   s.userID,
		Title:    strings.TrimSpace(input.Title),
		Type:     input.Type,
		Platform: input.Platform,
		Status:   input.Status,
		Content:  input.Content,
	}
	if err := draft.Validate(); err != nil {
		return nil, s.notifyFailure("Could Not Create Draft", err)
	}
	if draft.Status == models.DraftStatusPublished {
		err := fmt.Errorf("%w: new drafts cannot start as Published", models.ErrInvalidDraftStatus)
		return nil, s.notifyFailure("Could Not Create Draft", err)
	}

	pending := *draft
	err = s.apply(ctx, "add_draft", change{
		local: func(snap *Snapshot) { snap.Drafts = prepend(snap.Drafts, &pending) },
		remote: func(ctx context.Context) error {
			return s.deps.Repo.CreateDraft(ctx, draft)
		},
		settle: func(snap *Snapshot) { snap.Drafts = replace(snap.Drafts, &pending, draft) },
		revert: func(snap *Snapshot) {
			snap.Drafts, _, _ = remove(snap.Drafts, func(d *models.DraftItem) bool { return d == &pending })
		},
	})
	if err != nil {
		return nil, s.notifyFailure("Could Not Create Draft", err)
	}

	res := s.success("Draft Created", draft.Title)
	desc := draft.Title
	if draft.Platform != "" {
		desc = fmt.Sprintf("%s for %s", draft.Title, draft.Platform)
	}
	return draft, s.withAudit(ctx, res, models.ActivityTask, "Draft Created", desc)
}

func (s *Store) ownedDraft(ctx context.Context, id string) (*models.DraftItem, error) {
	s.mu.RLock()
	draft := find(s.snapshot.Drafts, func(d *models.DraftItem) bool { return d.ID == id })
	s.mu.RUnlock()
	if draft != nil {
		return draft, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	draft, err := s.deps.Repo.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.UserID != s.userID {
		return nil, services.ErrDraftNotFound
	}
	return draft, nil
}

// milestoneFor is the activity recorded when a draft goes live.
func milestoneFor(userID string, draft *models.DraftItem) *models.ActivityItem {
	platform := draft.Platform
	if platform == "" {
		platform = "an unnamed platform"
	}
	return &models.ActivityItem{
		UserID: userID,
		Type:   models.ActivityMilestone,
		Source: models.SourceSystem,
		Title:  "Published: " + draft.Title,
		Desc:   fmt.Sprintf("%q went live on %s.", draft.Title, platform),
		Time:   models.JustNow,
	}
}

// UpdateDraft merges a partial update into a draft. Moving a draft into Published records a
// milestone in the same write and posts Slack drafts to the publishing channel.
func (s *Store) UpdateDraft(ctx context.Context, id string, patch models.DraftPatch) (*models.DraftItem, Result) {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return nil, s.notifyFailure("Could Not Update Draft", err)
	}

	if err := patch.Validate(); err != nil {
		return nil, s.notifyFailure("Could Not Update Draft", err)
	}
	current, err := s.ownedDraft(ctx, id)
	if err != nil {
		return nil, s.notifyFailure("Could Not Update Draft", err)
	}

	next := *current
	patch.Apply(&next)
	next.UpdatedAt = s.deps.Now()
	publishing := current.Status != models.DraftStatusPublished && next.Status == models.DraftStatusPublished

	var milestone *models.ActivityItem
	remote := func(ctx context.Context) error {
		return s.deps.Repo.UpdateDraft(ctx, id, patch)
	}
	if publishing {
		milestone = milestoneFor(s.userID, &next)
		remote = func(ctx context.Context) error {
			return s.deps.Repo.PublishDraft(ctx, id, patch, milestone)
		}
	}

	var previous *models.DraftItem
	err = s.apply(ctx, "update_draft", change{
		local: func(snap *Snapshot) {
			previous = find(snap.Drafts, func(d *models.DraftItem) bool { return d.ID == id })
			if previous != nil {
				snap.Drafts = replace(snap.Drafts, previous, &next)
			}
		},
		remote: remote,
		settle: func(snap *Snapshot) {
			if milestone != nil {
				snap.Activity = prepend(snap.Activity, milestone)
			}
		},
		revert: func(snap *Snapshot) {
			if previous != nil {
				snap.Drafts = replace(snap.Drafts, &next, previous)
			}
		},
	})
	if err != nil {
		return nil, s.notifyFailure("Could Not Update Draft", err)
	}

	if !publishing {
		return &next, s.success("Draft Updated", next.Title)
	}

	res := s.success("Draft Published", next.Title)
	if s.deps.Publisher != nil && s.deps.Publisher.Handles(&next) {
		res.PublishErr = s.publish(ctx, &next)
	}
	return &next, res
}

func (s *Store) publish(ctx context.Context, draft *models.DraftItem) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.deps.Publisher.Publish(ctx, draft); err != nil {
		s.notifications.Add(models.NotificationAlert, "Slack Post Failed",
			"The draft is published but could not be posted to Slack.")
		return err
	}
	return nil
}

// Profile

// UpdateProfile merges a partial update into the user's profile.
func (s *Store) UpdateProfile(ctx context.Context, patch models.ProfilePatch) (*models.UserProfile, Result) {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return nil, s.notifyFailure("Could Not Update Profile", err)
	}

	if err := patch.Validate(); err != nil {
		return nil, s.notifyFailure("Could Not Update Profile", err)
	}
	current, err := s.profile(ctx)
	if err != nil {
		return nil, s.notifyFailure("Could Not Update Profile", err)
	}

	next := *current
	patch.Apply(&next)
	next.UpdatedAt = s.deps.Now()

	err = s.apply(ctx, "update_profile", change{
		local: func(snap *Snapshot) { snap.Profile = &next },
		remote: func(ctx context.Context) error {
			return s.deps.Repo.UpdateProfile(ctx, s.userID, patch)
		},
		revert: func(snap *Snapshot) { snap.Profile = current },
	})
	if err != nil {
		return nil, s.notifyFailure("Could Not Update Profile", err)
	}

	res := s.success("Profile Updated", "Your changes have been saved.")
	return &next, s.withAudit(ctx, res, models.ActivityNote, "Profile Updated", "Updated profile details.")
}

// CompleteOnboarding creates the user's profile. It fails if one already exists.
func (s *Store) CompleteOnboarding(ctx context.Context, input Onboarding) (*models.UserProfile, Result) {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return nil, s.notifyFailure("Could Not Complete Onboarding", err)
	}

	if _, err := s.profile(ctx); err == nil {
		return nil, s.notifyFailure("Could Not Complete Onboarding", ErrAlreadyOnboarded)
	} else if !errors.Is(err, ErrProfileRequired) {
		return nil, s.notifyFailure("Could Not Complete Onboarding", err)
	}

	techStack := cleanTags(input.TechStack)
	profile := &models.UserProfile{
		ID:                s.userID,
		Email:             input.Email,
		Username:          strings.TrimSpace(input.Username),
		Bio:               input.Bio,
		Role:              input.Role,
		Phase:             input.Phase,
		CurrentlyBuilding: input.CurrentlyBuilding,
		AvatarURL:         input.AvatarURL,
		Socials:           input.Socials,
		TechStack:         techStack,
		Following:         []string{},
		Followers:         []string{},
		Friends:           []string{},
		Stats:             models.ProfileStats{Reach: "0"},
	}
	if err := profile.Validate(); err != nil {
		return nil, s.notifyFailure("Could Not Complete Onboarding", err)
	}

	err = s.apply(ctx, "complete_onboarding", change{
		local: func(snap *Snapshot) { snap.Profile = profile },
		remote: func(ctx context.Context) error {
			return s.deps.Repo.SaveProfile(ctx, profile)
		},
		revert: func(snap *Snapshot) { snap.Profile = nil },
	})
	if err != nil {
		return nil, s.notifyFailure("Could Not Complete Onboarding", err)
	}

	return profile, s.success("Welcome to Atum", "Your profile is ready, @"+profile.Username+".")
}

// Stats derives the dashboard numbers from the current state.
func (s *Store) Stats(now time.Time) insight.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return insight.Compute(s.snapshot.Profile, s.snapshot.Activity, s.snapshot.Drafts, now)
}

// DismissNotification removes a notification. Reports whether it was present.
func (s *Store) DismissNotification(id string) bool {
	return s.notifications.Dismiss(id)
}
