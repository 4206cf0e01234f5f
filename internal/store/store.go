// Package store holds the per-user application state: fetched collections, load status and
// notifications, together with every action that mutates them.
//
// Writes follow one policy: the local state is patched optimistically, then the remote write is
// issued; if it fails the error is surfaced and local state is reconciled with a full refetch.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"atum-server/internal/log"
	"atum-server/internal/metrics"
	"atum-server/internal/models"
	"atum-server/internal/services"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnauthenticated     = errors.New("not signed in")
	ErrProfileRequired     = errors.New("profile has not been created yet")
	ErrAlreadyOnboarded    = errors.New("profile already exists")
	ErrProtectedActivity   = errors.New("synced commits cannot be deleted")
	ErrNotTribeMember      = errors.New("only tribe members can post")
	ErrSyncNotConfigured   = errors.New("no repository configured for commit sync")
	ErrIntegrationDisabled = errors.New("integration is not configured")
)

// Repository is the remote document store.
type Repository interface {
	ListActivity(ctx context.Context, userID string) ([]*models.ActivityItem, error)
	GetActivity(ctx context.Context, id string) (*models.ActivityItem, error)
	CreateActivity(ctx context.Context, item *models.ActivityItem) error
	DeleteActivity(ctx context.Context, id string) error
	UpsertActivities(ctx context.Context, items []*models.ActivityItem) error

	ListIdeas(ctx context.Context, userID string) ([]*models.IdeaItem, error)
	GetIdea(ctx context.Context, id string) (*models.IdeaItem, error)
	CreateIdea(ctx context.Context, idea *models.IdeaItem) error
	DeleteIdea(ctx context.Context, id string) error

	ListDrafts(ctx context.Context, userID string) ([]*models.DraftItem, error)
	GetDraft(ctx context.Context, id string) (*models.DraftItem, error)
	CreateDraft(ctx context.Context, draft *models.DraftItem) error
	UpdateDraft(ctx context.Context, id string, patch models.DraftPatch) error
	PublishDraft(ctx context.Context, id string, patch models.DraftPatch, milestone *models.ActivityItem) error

	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, profile *models.UserProfile) error
	UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error
	Follow(ctx context.Context, followerID, targetID string) error
	Unfollow(ctx context.Context, followerID, targetID string) error

	ListTribes(ctx context.Context) ([]*models.Tribe, error)
	GetTribe(ctx context.Context, tribeID string) (*models.Tribe, error)
	CreateTribe(ctx context.Context, tribe *models.Tribe) error
	AddTribeMember(ctx context.Context, tribeID, userID string) error
	RemoveTribeMember(ctx context.Context, tribeID, userID string) error
	ListTribePosts(ctx context.Context, tribeID string) ([]*models.TribePost, error)
	CreateTribePost(ctx context.Context, post *models.TribePost) error
	LikeTribePost(ctx context.Context, postID, userID string) error

	ListFriendRequests(ctx context.Context, userID string) ([]*models.FriendRequest, error)
	SendFriendRequest(ctx context.Context, request *models.FriendRequest) error
	AcceptFriendRequest(ctx context.Context, requestID, userID string) error
	RejectFriendRequest(ctx context.Context, requestID, userID string) error
}

// CommitSource fetches recent commits for a repository configuration.
type CommitSource interface {
	FetchCommits(ctx context.Context, userID string, cfg models.GitHubConfig) ([]*models.ActivityItem, error)
}

// Completer turns a prompt into generated text.
type Completer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Publisher posts published drafts to an external platform.
type Publisher interface {
	Handles(draft *models.DraftItem) bool
	Publish(ctx context.Context, draft *models.DraftItem) (string, error)
}

// Cache stores fetched collections between requests.
type Cache interface {
	Get(ctx context.Context, userID string, dest interface{}) bool
	Set(ctx context.Context, userID string, value interface{})
	Invalidate(ctx context.Context, userIDs ...string)
}

// Deps are the collaborators shared by every Store. Only Repo is required.
type Deps struct {
	Repo                 Repository
	Commits              CommitSource
	Completion           Completer
	Publisher            Publisher
	Cache                Cache
	OutboundTimeout      time.Duration
	NotificationDuration time.Duration
	Now                  func() time.Time
}

// Snapshot is the fetched state of one user.
type Snapshot struct {
	Activity       []*models.ActivityItem  `json:"activity"`
	Ideas          []*models.IdeaItem      `json:"ideas"`
	Drafts         []*models.DraftItem     `json:"drafts"`
	Profile        *models.UserProfile     `json:"profile"`
	Tribes         []*models.Tribe         `json:"tribes"`
	ActiveTribeID  string                  `json:"activeTribeId,omitempty"`
	TribePosts     []*models.TribePost     `json:"tribePosts"`
	FriendRequests []*models.FriendRequest `json:"friendRequests"`
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Activity:       []*models.ActivityItem{},
		Ideas:          []*models.IdeaItem{},
		Drafts:         []*models.DraftItem{},
		Tribes:         []*models.Tribe{},
		TribePosts:     []*models.TribePost{},
		FriendRequests: []*models.FriendRequest{},
	}
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Activity = append([]*models.ActivityItem{}, s.Activity...)
	out.Ideas = append([]*models.IdeaItem{}, s.Ideas...)
	out.Drafts = append([]*models.DraftItem{}, s.Drafts...)
	out.Tribes = append([]*models.Tribe{}, s.Tribes...)
	out.TribePosts = append([]*models.TribePost{}, s.TribePosts...)
	out.FriendRequests = append([]*models.FriendRequest{}, s.FriendRequests...)
	return out
}

// Status is the load state of a Store.
type Status struct {
	IsLoading     bool   `json:"isLoading"`
	IsInitialized bool   `json:"isInitialized"`
	Error         string `json:"error,omitempty"`
}

// Result is the outcome of an action. Err is the primary write; AuditErr is the audit-trail
// entry written after it, which never rolls the primary write back; PublishErr is an external
// publication that followed a successful write.
type Result struct {
	Err          error                `json:"-"`
	AuditErr     error                `json:"-"`
	PublishErr   error                `json:"-"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// OK reports whether the primary write succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// cachedCollections is what the snapshot cache holds. The profile is always read fresh since it
// carries the commit-sync token.
type cachedCollections struct {
	Activity       []*models.ActivityItem  `json:"activity"`
	Ideas          []*models.IdeaItem      `json:"ideas"`
	Drafts         []*models.DraftItem     `json:"drafts"`
	Tribes         []*models.Tribe         `json:"tribes"`
	FriendRequests []*models.FriendRequest `json:"friendRequests"`
}

// Store is the application state of one signed-in user.
type Store struct {
	userID string
	deps   Deps

	// actionMu serializes actions so double submissions cannot interleave.
	actionMu sync.Mutex
	fetches  singleflight.Group

	mu            sync.RWMutex
	snapshot      Snapshot
	status        Status
	notifications *Notifications
}

// New creates a Store for userID. An empty userID is the signed-out state.
func New(userID string, deps Deps) *Store {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		userID:        userID,
		deps:          deps,
		snapshot:      emptySnapshot(),
		notifications: NewNotifications(deps.NotificationDuration, deps.Now),
	}
}

// UserID returns the owner of the store, empty when signed out.
func (s *Store) UserID() string {
	return s.userID
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.clone()
}

// Status returns the current load state.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Notifications returns the store's notification queue.
func (s *Store) Notifications() *Notifications {
	return s.notifications
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.deps.OutboundTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.deps.OutboundTimeout)
}

func (s *Store) observe(action string, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.StoreActions.WithLabelValues(action, outcome).Inc()
}

func (s *Store) invalidate(ctx context.Context, userIDs ...string) {
	if s.deps.Cache != nil {
		s.deps.Cache.Invalidate(ctx, userIDs...)
	}
}

// FetchAll replaces the local state with one concurrent read per collection. Signed out, it
// clears the state without any remote call. Concurrent calls share one fetch.
func (s *Store) FetchAll(ctx context.Context) error {
	if s.userID == "" {
		s.mu.Lock()
		s.snapshot = emptySnapshot()
		s.status = Status{IsInitialized: true}
		s.mu.Unlock()
		return nil
	}

	_, err, _ := s.fetches.Do("fetch", func() (interface{}, error) {
		return nil, s.fetch(ctx)
	})
	return err
}

func (s *Store) fetch(ctx context.Context) error {
	s.mu.Lock()
	s.status.IsLoading = true
	s.mu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		profile  *models.UserProfile
		cached   cachedCollections
		cacheHit bool
	)
	if s.deps.Cache != nil {
		cacheHit = s.deps.Cache.Get(ctx, s.userID, &cached)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.deps.Repo.GetProfile(gctx, s.userID)
		if errors.Is(err, services.ErrProfileNotFound) {
			return nil
		}
		profile = p
		return err
	})
	if !cacheHit {
		g.Go(func() (err error) {
			cached.Activity, err = s.deps.Repo.ListActivity(gctx, s.userID)
			return err
		})
		g.Go(func() (err error) {
			cached.Ideas, err = s.deps.Repo.ListIdeas(gctx, s.userID)
			return err
		})
		g.Go(func() (err error) {
			cached.Drafts, err = s.deps.Repo.ListDrafts(gctx, s.userID)
			return err
		})
		g.Go(func() (err error) {
			cached.Tribes, err = s.deps.Repo.ListTribes(gctx)
			return err
		})
		g.Go(func() (err error) {
			cached.FriendRequests, err = s.deps.Repo.ListFriendRequests(gctx, s.userID)
			return err
		})
	}

	err := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.IsLoading = false
	s.status.IsInitialized = true
	if err != nil {
		s.status.Error = err.Error()
		log.Error(ctx, "Failed to fetch state",
			"error", err,
			"user_id", s.userID,
			"operation", "fetch_all",
		)
		s.observe("fetch_all", err)
		return err
	}

	next := emptySnapshot()
	next.Profile = profile
	next.Activity = orEmpty(cached.Activity)
	next.Ideas = orEmpty(cached.Ideas)
	next.Drafts = orEmpty(cached.Drafts)
	next.Tribes = orEmpty(cached.Tribes)
	next.FriendRequests = orEmpty(cached.FriendRequests)
	next.ActiveTribeID = s.snapshot.ActiveTribeID
	next.TribePosts = s.snapshot.TribePosts
	s.snapshot = next
	s.status.Error = ""

	if !cacheHit && s.deps.Cache != nil {
		s.deps.Cache.Set(ctx, s.userID, cached)
	}
	s.observe("fetch_all", nil)
	return nil
}

func orEmpty[T any](items []*T) []*T {
	if items == nil {
		return []*T{}
	}
	return items
}

// ensureLoaded fetches once if the store has never been initialized.
func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.Status().IsInitialized {
		return nil
	}
	return s.FetchAll(ctx)
}

// reconcile refetches after a failed write so local state matches the remote store again.
func (s *Store) reconcile(ctx context.Context, action string, cause error) {
	log.Warn(ctx, "Remote write failed, reconciling local state",
		"error", cause,
		"action", action,
		"user_id", s.userID,
	)

	// The request context may be the reason the write failed.
	refetchCtx, cancel := s.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	s.invalidate(refetchCtx, s.userID)
	if err := s.FetchAll(refetchCtx); err != nil {
		log.Error(ctx, "Failed to reconcile after write failure",
			"error", err,
			"action", action,
			"operation", "reconcile",
		)
	}
}

// change is one optimistic write. Local patches the state before the write; revert undoes it
// when the write fails; settle runs after a successful write. All three run under the state lock.
type change struct {
	local  func(*Snapshot)
	remote func(context.Context) error
	settle func(*Snapshot)
	revert func(*Snapshot)
}

// apply runs the local patch, then the remote write. On failure the patch is reverted and the
// state reconciled with a refetch.
func (s *Store) apply(ctx context.Context, action string, c change) error {
	s.mutate(c.local)

	writeCtx, cancel := s.withTimeout(ctx)
	err := c.remote(writeCtx)
	cancel()

	s.observe(action, err)
	if err != nil {
		s.mutate(c.revert)
		s.reconcile(ctx, action, err)
		return err
	}

	s.mutate(c.settle)
	s.invalidate(ctx, s.userID)
	return nil
}

func (s *Store) mutate(fn func(*Snapshot)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	fn(&s.snapshot)
	s.mu.Unlock()
}

// audit appends a system activity entry recording a side effect of another action.
func (s *Store) audit(ctx context.Context, activityType models.ActivityType, title, desc string) error {
	entry := &models.ActivityItem{
		UserID: s.userID,
		Type:   activityType,
		Source: models.SourceSystem,
		Title:  title,
		Desc:   desc,
		Time:   models.JustNow,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.deps.Repo.CreateActivity(ctx, entry); err != nil {
		log.Warn(ctx, "Failed to write audit activity",
			"error", err,
			"title", title,
			"user_id", s.userID,
		)
		return err
	}

	s.mutate(func(snap *Snapshot) {
		snap.Activity = prepend(snap.Activity, entry)
	})
	return nil
}

// profile returns the signed-in user's profile, reading it if the state has not been fetched.
func (s *Store) profile(ctx context.Context) (*models.UserProfile, error) {
	s.mu.RLock()
	profile := s.snapshot.Profile
	s.mu.RUnlock()
	if profile != nil {
		return profile, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	profile, err := s.deps.Repo.GetProfile(ctx, s.userID)
	if err != nil {
		if errors.Is(err, services.ErrProfileNotFound) {
			return nil, ErrProfileRequired
		}
		return nil, err
	}

	s.mu.Lock()
	s.snapshot.Profile = profile
	s.mu.Unlock()
	return profile, nil
}

// notifyFailure queues an error notification for a failed action and returns the Result.
func (s *Store) notifyFailure(title string, err error) Result {
	return Result{Err: err, Notification: s.notifications.Add(models.NotificationError, title, userMessage(err))}
}

// userMessage is the text shown to users for err. Unexpected failures get a generic message.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "Sign in to continue."
	case errors.Is(err, ErrProfileRequired):
		return "Finish onboarding first."
	case IsValidation(err), IsNotFound(err), IsForbidden(err),
		errors.Is(err, ErrSyncNotConfigured), errors.Is(err, ErrAlreadyOnboarded),
		errors.Is(err, ErrIntegrationDisabled):
		return err.Error()
	}
	return "Something went wrong. Please try again."
}

// IsForbidden reports whether err refuses an action the user is not allowed to take.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrProtectedActivity) ||
		errors.Is(err, ErrNotTribeMember) ||
		errors.Is(err, services.ErrNotRequestRecipient)
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		models.ErrTitleRequired,
		models.ErrUsernameRequired,
		models.ErrInvalidActivityType,
		models.ErrInvalidDraftStatus,
		models.ErrTribeNameRequired,
		models.ErrPostContentRequired,
		models.ErrTargetUserRequired,
		models.ErrSelfRelation,
		models.ErrRepoRequired,
		models.ErrInvalidRepoFormat,
		models.ErrEmptyPatch,
		models.ErrNarrativeSourceMissing,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err means the addressed record does not exist for this user.
func IsNotFound(err error) bool {
	for _, target := range []error{
		services.ErrActivityNotFound,
		services.ErrIdeaNotFound,
		services.ErrDraftNotFound,
		services.ErrTribeNotFound,
		services.ErrTribePostNotFound,
		services.ErrFriendRequestNotFound,
		services.ErrProfileNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
