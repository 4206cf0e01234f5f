package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"atum-server/internal/models"
	"atum-server/internal/services"
)

// MemoryRepository is an in-memory document store with the same semantics and sentinel errors
// as services.FirestoreService. Failures can be injected per method with FailOn.
type MemoryRepository struct {
	mu sync.Mutex

	activity       map[string]*models.ActivityItem
	ideas          map[string]*models.IdeaItem
	drafts         map[string]*models.DraftItem
	profiles       map[string]*models.UserProfile
	tribes         map[string]*models.Tribe
	posts          map[string]*models.TribePost
	friendRequests map[string]*models.FriendRequest

	failures map[string]error
	calls    map[string]int
	seq      int
	clock    time.Time
}

// NewMemoryRepository creates an empty repository. Its clock starts at a fixed instant and
// advances one second per write, so creation order is always reflected in createdAt.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		activity:       make(map[string]*models.ActivityItem),
		ideas:          make(map[string]*models.IdeaItem),
		drafts:         make(map[string]*models.DraftItem),
		profiles:       make(map[string]*models.UserProfile),
		tribes:         make(map[string]*models.Tribe),
		posts:          make(map[string]*models.TribePost),
		friendRequests: make(map[string]*models.FriendRequest),
		failures:       make(map[string]error),
		calls:          make(map[string]int),
		clock:          time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

// FailOn makes every later call of method return err. A nil err clears the failure.
func (m *MemoryRepository) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Calls returns how many times method has been called.
func (m *MemoryRepository) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// enter records a call and returns the injected failure, if any. Callers hold m.mu.
func (m *MemoryRepository) enter(method string) error {
	m.calls[method]++
	return m.failures[method]
}

func (m *MemoryRepository) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *MemoryRepository) now() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func cloneStrings(list []string) []string {
	if list == nil {
		return nil
	}
	return append([]string{}, list...)
}

func newestFirst[T any](items []*T, createdAt func(*T) time.Time) []*T {
	sort.SliceStable(items, func(i, j int) bool {
		return createdAt(items[i]).After(createdAt(items[j]))
	})
	return items
}

// Activity

func (m *MemoryRepository) ListActivity(ctx context.Context, userID string) ([]*models.ActivityItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListActivity"); err != nil {
		return nil, err
	}

	items := []*models.ActivityItem{}
	for _, item := range m.activity {
		if item.UserID == userID {
			cp := *item
			cp.Time = models.DisplayTime(cp.CreatedAt)
			items = append(items, &cp)
		}
	}
	return newestFirst(items, func(a *models.ActivityItem) time.Time { return a.CreatedAt }), nil
}

func (m *MemoryRepository) GetActivity(ctx context.Context, id string) (*models.ActivityItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetActivity"); err != nil {
		return nil, err
	}

	item, ok := m.activity[id]
	if !ok {
		return nil, services.ErrActivityNotFound
	}
	cp := *item
	cp.Time = models.DisplayTime(cp.CreatedAt)
	return &cp, nil
}

func (m *MemoryRepository) CreateActivity(ctx context.Context, item *models.ActivityItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateActivity"); err != nil {
		return err
	}

	item.ID = m.nextID("activity")
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.now()
	}
	item.Time = models.DisplayTime(item.CreatedAt)
	cp := *item
	m.activity[item.ID] = &cp
	return nil
}

func (m *MemoryRepository) DeleteActivity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteActivity"); err != nil {
		return err
	}

	if _, ok := m.activity[id]; !ok {
		return services.ErrActivityNotFound
	}
	delete(m.activity, id)
	return nil
}

// UpsertActivities stores commits under the owner-scoped key the Firestore accessor uses.
func (m *MemoryRepository) UpsertActivities(ctx context.Context, items []*models.ActivityItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpsertActivities"); err != nil {
		return err
	}

	for _, item := range items {
		cp := *item
		m.activity[item.UserID+"_"+item.ID] = &cp
	}
	return nil
}

// Ideas

func (m *MemoryRepository) ListIdeas(ctx context.Context, userID string) ([]*models.IdeaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListIdeas"); err != nil {
		return nil, err
	}

	ideas := []*models.IdeaItem{}
	for _, idea := range m.ideas {
		if idea.UserID == userID {
			cp := *idea
			cp.Tags = cloneStrings(idea.Tags)
			cp.Date = models.DisplayTime(cp.CreatedAt)
			ideas = append(ideas, &cp)
		}
	}
	return newestFirst(ideas, func(i *models.IdeaItem) time.Time { return i.CreatedAt }), nil
}

func (m *MemoryRepository) GetIdea(ctx context.Context, id string) (*models.IdeaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetIdea"); err != nil {
		return nil, err
	}

	idea, ok := m.ideas[id]
	if !ok {
		return nil, services.ErrIdeaNotFound
	}
	cp := *idea
	cp.Tags = cloneStrings(idea.Tags)
	cp.Date = models.DisplayTime(cp.CreatedAt)
	return &cp, nil
}

func (m *MemoryRepository) CreateIdea(ctx context.Context, idea *models.IdeaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateIdea"); err != nil {
		return err
	}

	idea.ID = m.nextID("idea")
	if idea.CreatedAt.IsZero() {
		idea.CreatedAt = m.now()
	}
	if idea.Tags == nil {
		idea.Tags = []string{}
	}
	idea.Date = models.DisplayTime(idea.CreatedAt)
	cp := *idea
	cp.Tags = cloneStrings(idea.Tags)
	m.ideas[idea.ID] = &cp
	return nil
}

func (m *MemoryRepository) DeleteIdea(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteIdea"); err != nil {
		return err
	}

	if _, ok := m.ideas[id]; !ok {
		return services.ErrIdeaNotFound
	}
	delete(m.ideas, id)
	return nil
}

// Drafts

func (m *MemoryRepository) ListDrafts(ctx context.Context, userID string) ([]*models.DraftItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListDrafts"); err != nil {
		return nil, err
	}

	drafts := []*models.DraftItem{}
	for _, draft := range m.drafts {
		if draft.UserID == userID {
			cp := *draft
			drafts = append(drafts, &cp)
		}
	}
	return newestFirst(drafts, func(d *models.DraftItem) time.Time { return d.CreatedAt }), nil
}

func (m *MemoryRepository) GetDraft(ctx context.Context, id string) (*models.DraftItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetDraft"); err != nil {
		return nil, err
	}

	draft, ok := m.drafts[id]
	if !ok {
		return nil, services.ErrDraftNotFound
	}
	cp := *draft
	return &cp, nil
}

func (m *MemoryRepository) CreateDraft(ctx context.Context, draft *models.DraftItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateDraft"); err != nil {
		return err
	}

	draft.ID = m.nextID("draft")
	now := m.now()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now
	cp := *draft
	m.drafts[draft.ID] = &cp
	return nil
}

func (m *MemoryRepository) UpdateDraft(ctx context.Context, id string, patch models.DraftPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateDraft"); err != nil {
		return err
	}

	draft, ok := m.drafts[id]
	if !ok {
		return services.ErrDraftNotFound
	}
	patch.Apply(draft)
	draft.UpdatedAt = m.now()
	return nil
}

// PublishDraft updates the draft and adds the milestone atomically: either both happen or neither.
func (m *MemoryRepository) PublishDraft(
	ctx context.Context, id string, patch models.DraftPatch, milestone *models.ActivityItem,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PublishDraft"); err != nil {
		return err
	}

	draft, ok := m.drafts[id]
	if !ok {
		return services.ErrDraftNotFound
	}
	patch.Apply(draft)
	draft.UpdatedAt = m.now()

	milestone.ID = m.nextID("activity")
	if milestone.CreatedAt.IsZero() {
		milestone.CreatedAt = m.now()
	}
	milestone.Time = models.DisplayTime(milestone.CreatedAt)
	cp := *milestone
	m.activity[milestone.ID] = &cp
	return nil
}

// Profiles

func cloneProfile(p *models.UserProfile) *models.UserProfile {
	cp := *p
	cp.TechStack = cloneStrings(p.TechStack)
	cp.Following = cloneStrings(p.Following)
	cp.Followers = cloneStrings(p.Followers)
	cp.Friends = cloneStrings(p.Friends)
	return &cp
}

// PutProfile stores a profile directly, bypassing failure injection. Used to seed tests.
func (m *MemoryRepository) PutProfile(profile *models.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = m.now()
	}
	m.profiles[profile.ID] = cloneProfile(profile)
}

// Profile returns the stored profile of userID, or nil.
func (m *MemoryRepository) Profile(userID string) *models.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[userID]; ok {
		return cloneProfile(p)
	}
	return nil
}

func (m *MemoryRepository) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetProfile"); err != nil {
		return nil, err
	}

	profile, ok := m.profiles[userID]
	if !ok {
		return nil, services.ErrProfileNotFound
	}
	return cloneProfile(profile), nil
}

func (m *MemoryRepository) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SaveProfile"); err != nil {
		return err
	}

	now := m.now()
	profile.UpdatedAt = now
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	m.profiles[profile.ID] = cloneProfile(profile)
	return nil
}

func (m *MemoryRepository) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateProfile"); err != nil {
		return err
	}

	profile, ok := m.profiles[userID]
	if !ok {
		return services.ErrProfileNotFound
	}
	patch.Apply(profile)
	profile.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) FindProfilesByRepo(ctx context.Context, repoFullName string) ([]*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindProfilesByRepo"); err != nil {
		return nil, err
	}

	profiles := []*models.UserProfile{}
	for _, profile := range m.profiles {
		if profile.GitHubConfig.Repo == repoFullName {
			profiles = append(profiles, cloneProfile(profile))
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

func addUnique(list []string, value string) []string {
	if models.Contains(list, value) {
		return list
	}
	return append(list, value)
}

func removeValue(list []string, value string) []string {
	out := []string{}
	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

func (m *MemoryRepository) Follow(ctx context.Context, followerID, targetID string) error {
	return m.updateFollow("Follow", followerID, targetID, true)
}

func (m *MemoryRepository) Unfollow(ctx context.Context, followerID, targetID string) error {
	return m.updateFollow("Unfollow", followerID, targetID, false)
}

func (m *MemoryRepository) updateFollow(method, followerID, targetID string, follow bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(method); err != nil {
		return err
	}

	follower, ok := m.profiles[followerID]
	if !ok {
		return services.ErrProfileNotFound
	}
	target, ok := m.profiles[targetID]
	if !ok {
		return services.ErrProfileNotFound
	}
	if follow {
		follower.Following = addUnique(follower.Following, targetID)
		target.Followers = addUnique(target.Followers, followerID)
	} else {
		follower.Following = removeValue(follower.Following, targetID)
		target.Followers = removeValue(target.Followers, followerID)
	}
	return nil
}

// Tribes

func cloneTribe(t *models.Tribe) *models.Tribe {
	cp := *t
	cp.Members = cloneStrings(t.Members)
	return &cp
}

func (m *MemoryRepository) ListTribes(ctx context.Context) ([]*models.Tribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListTribes"); err != nil {
		return nil, err
	}

	tribes := []*models.Tribe{}
	for _, tribe := range m.tribes {
		tribes = append(tribes, cloneTribe(tribe))
	}
	return newestFirst(tribes, func(t *models.Tribe) time.Time { return t.CreatedAt }), nil
}

func (m *MemoryRepository) GetTribe(ctx context.Context, tribeID string) (*models.Tribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetTribe"); err != nil {
		return nil, err
	}

	tribe, ok := m.tribes[tribeID]
	if !ok {
		return nil, services.ErrTribeNotFound
	}
	return cloneTribe(tribe), nil
}

func (m *MemoryRepository) CreateTribe(ctx context.Context, tribe *models.Tribe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateTribe"); err != nil {
		return err
	}

	tribe.ID = m.nextID("tribe")
	if tribe.CreatedAt.IsZero() {
		tribe.CreatedAt = m.now()
	}
	m.tribes[tribe.ID] = cloneTribe(tribe)
	return nil
}

func (m *MemoryRepository) AddTribeMember(ctx context.Context, tribeID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddTribeMember"); err != nil {
		return err
	}

	tribe, ok := m.tribes[tribeID]
	if !ok {
		return services.ErrTribeNotFound
	}
	tribe.Members = addUnique(tribe.Members, userID)
	return nil
}

func (m *MemoryRepository) RemoveTribeMember(ctx context.Context, tribeID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RemoveTribeMember"); err != nil {
		return err
	}

	tribe, ok := m.tribes[tribeID]
	if !ok {
		return services.ErrTribeNotFound
	}
	tribe.Members = removeValue(tribe.Members, userID)
	return nil
}

func (m *MemoryRepository) ListTribePosts(ctx context.Context, tribeID string) ([]*models.TribePost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListTribePosts"); err != nil {
		return nil, err
	}

	posts := []*models.TribePost{}
	for _, post := range m.posts {
		if post.TribeID == tribeID {
			cp := *post
			cp.Likes = cloneStrings(post.Likes)
			posts = append(posts, &cp)
		}
	}
	return newestFirst(posts, func(p *models.TribePost) time.Time { return p.CreatedAt }), nil
}

func (m *MemoryRepository) CreateTribePost(ctx context.Context, post *models.TribePost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateTribePost"); err != nil {
		return err
	}

	post.ID = m.nextID("post")
	if post.CreatedAt.IsZero() {
		post.CreatedAt = m.now()
	}
	if post.Likes == nil {
		post.Likes = []string{}
	}
	cp := *post
	cp.Likes = cloneStrings(post.Likes)
	m.posts[post.ID] = &cp
	return nil
}

func (m *MemoryRepository) LikeTribePost(ctx context.Context, postID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LikeTribePost"); err != nil {
		return err
	}

	post, ok := m.posts[postID]
	if !ok {
		return services.ErrTribePostNotFound
	}
	post.Likes = addUnique(post.Likes, userID)
	return nil
}

// Friend requests

func (m *MemoryRepository) ListFriendRequests(ctx context.Context, userID string) ([]*models.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListFriendRequests"); err != nil {
		return nil, err
	}

	requests := []*models.FriendRequest{}
	for _, request := range m.friendRequests {
		if request.ToID == userID && request.Status == models.FriendRequestPending {
			cp := *request
			requests = append(requests, &cp)
		}
	}
	return newestFirst(requests, func(r *models.FriendRequest) time.Time { return r.CreatedAt }), nil
}

// FriendRequests returns every stored request regardless of status.
func (m *MemoryRepository) FriendRequests() []*models.FriendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	requests := []*models.FriendRequest{}
	for _, request := range m.friendRequests {
		cp := *request
		requests = append(requests, &cp)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })
	return requests
}

func (m *MemoryRepository) SendFriendRequest(ctx context.Context, request *models.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SendFriendRequest"); err != nil {
		return err
	}

	request.ID = models.FriendRequestID(request.FromID, request.ToID)
	request.Status = models.FriendRequestPending
	for _, id := range []string{request.ID, models.FriendRequestID(request.ToID, request.FromID)} {
		if existing, ok := m.friendRequests[id]; ok && existing.Status == models.FriendRequestPending {
			return services.ErrFriendRequestExists
		}
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = m.now()
	}
	cp := *request
	m.friendRequests[request.ID] = &cp
	return nil
}

func (m *MemoryRepository) AcceptFriendRequest(ctx context.Context, requestID, userID string) error {
	return m.resolveFriendRequest("AcceptFriendRequest", requestID, userID, models.FriendRequestAccepted)
}

func (m *MemoryRepository) RejectFriendRequest(ctx context.Context, requestID, userID string) error {
	return m.resolveFriendRequest("RejectFriendRequest", requestID, userID, models.FriendRequestRejected)
}

func (m *MemoryRepository) resolveFriendRequest(
	method, requestID, userID string, outcome models.FriendRequestStatus,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(method); err != nil {
		return err
	}

	request, ok := m.friendRequests[requestID]
	if !ok {
		return services.ErrFriendRequestNotFound
	}
	if request.ToID != userID {
		return services.ErrNotRequestRecipient
	}
	if request.Status != models.FriendRequestPending {
		return services.ErrRequestNotPending
	}

	if outcome == models.FriendRequestAccepted {
		from, ok := m.profiles[request.FromID]
		if !ok {
			return services.ErrProfileNotFound
		}
		to, ok := m.profiles[request.ToID]
		if !ok {
			return services.ErrProfileNotFound
		}
		from.Friends = addUnique(from.Friends, request.ToID)
		to.Friends = addUnique(to.Friends, request.FromID)
	}
	request.Status = outcome
	return nil
}
