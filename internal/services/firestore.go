package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"atum-server/internal/log"
	"atum-server/internal/models"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection names.
const (
	CollectionProfiles       = "profiles"
	CollectionActivity       = "activity"
	CollectionIdeas          = "ideas"
	CollectionDrafts         = "drafts"
	CollectionTribes         = "tribes"
	CollectionTribePosts     = "tribe_posts"
	CollectionFriendRequests = "friend_requests"
)

// Collections lists every collection the accessor owns.
var Collections = []string{
	CollectionProfiles,
	CollectionActivity,
	CollectionIdeas,
	CollectionDrafts,
	CollectionTribes,
	CollectionTribePosts,
	CollectionFriendRequests,
}

// Sentinel errors for not found and conflict cases.
var (
	ErrProfileNotFound       = errors.New("profile not found")
	ErrActivityNotFound      = errors.New("activity not found")
	ErrIdeaNotFound          = errors.New("idea not found")
	ErrDraftNotFound         = errors.New("draft not found")
	ErrTribeNotFound         = errors.New("tribe not found")
	ErrTribePostNotFound     = errors.New("tribe post not found")
	ErrFriendRequestNotFound = errors.New("friend request not found")
	ErrFriendRequestExists   = errors.New("friend request already pending")
	ErrNotRequestRecipient   = errors.New("friend request is addressed to another user")
	ErrRequestNotPending     = errors.New("friend request is no longer pending")
)

// FirestoreService provides document store operations for every collection.
type FirestoreService struct {
	client *firestore.Client
	now    func() time.Time
}

// NewFirestoreService creates a new FirestoreService with the provided client.
func NewFirestoreService(client *firestore.Client) *FirestoreService {
	return &FirestoreService{client: client, now: func() time.Time { return time.Now().UTC() }}
}

// Client returns the underlying Firestore client.
func (fs *FirestoreService) Client() *firestore.Client {
	return fs.client
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// collect drains a query into typed records, skipping documents that fail to decode.
func collect[T any](ctx context.Context, iter *firestore.DocumentIterator, operation string) ([]*T, error) {
	defer iter.Stop()

	records := []*T{}
	for {
		doc, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, err
		}

		var record T
		if err := doc.DataTo(&record); err != nil {
			log.Error(ctx, "Failed to unmarshal document",
				"error", err,
				"doc_id", doc.Ref.ID,
				"operation", operation,
			)
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}

// Activity operations.

// ListActivity returns a user's activity log, newest first.
func (fs *FirestoreService) ListActivity(ctx context.Context, userID string) ([]*models.ActivityItem, error) {
	iter := fs.client.Collection(CollectionActivity).Where("userId", "==", userID).Documents(ctx)
	items, err := collect[models.ActivityItem](ctx, iter, "unmarshal_activity")
	if err != nil {
		log.Error(ctx, "Failed to query activity",
			"error", err,
			"user_id", userID,
			"operation", "list_activity",
		)
		return nil, fmt.Errorf("failed to list activity for user %s: %w", userID, err)
	}

	// Sort in memory to avoid a composite index
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	for _, item := range items {
		item.Time = models.DisplayTime(item.CreatedAt)
	}
	return items, nil
}

// CreateActivity stores a new activity item, assigning its ID and creation time.
func (fs *FirestoreService) CreateActivity(ctx context.Context, item *models.ActivityItem) error {
	docRef := fs.client.Collection(CollectionActivity).NewDoc()
	item.ID = docRef.ID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = fs.now()
	}

	if _, err := docRef.Set(ctx, item); err != nil {
		log.Error(ctx, "Failed to create activity",
			"error", err,
			"user_id", item.UserID,
			"activity_type", item.Type,
			"operation", "create_activity",
		)
		return fmt.Errorf("failed to create activity for user %s: %w", item.UserID, err)
	}
	item.Time = models.DisplayTime(item.CreatedAt)
	return nil
}

// GetActivity retrieves an activity item by ID.
func (fs *FirestoreService) GetActivity(ctx context.Context, id string) (*models.ActivityItem, error) {
	doc, err := fs.client.Collection(CollectionActivity).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrActivityNotFound
		}
		log.Error(ctx, "Failed to get activity",
			"error", err,
			"activity_id", id,
			"operation", "get_activity",
		)
		return nil, fmt.Errorf("failed to get activity %s: %w", id, err)
	}

	var item models.ActivityItem
	if err := doc.DataTo(&item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity %s: %w", id, err)
	}
	item.Time = models.DisplayTime(item.CreatedAt)
	return &item, nil
}

// DeleteActivity removes an activity item.
func (fs *FirestoreService) DeleteActivity(ctx context.Context, id string) error {
	if _, err := fs.client.Collection(CollectionActivity).Doc(id).Delete(ctx, firestore.Exists); err != nil {
		if isNotFound(err) {
			return ErrActivityNotFound
		}
		log.Error(ctx, "Failed to delete activity",
			"error", err,
			"activity_id", id,
			"operation", "delete_activity",
		)
		return fmt.Errorf("failed to delete activity %s: %w", id, err)
	}
	return nil
}

// commitDocID scopes synced commit documents to their owner, since two users can track the same repository.
func commitDocID(item *models.ActivityItem) string {
	return item.UserID + "_" + item.ID
}

// UpsertActivities writes synced commit activity in one batch. Document IDs derive from the
// commit SHA, so repeated syncs overwrite instead of duplicating.
func (fs *FirestoreService) UpsertActivities(ctx context.Context, items []*models.ActivityItem) error {
	if len(items) == 0 {
		return nil
	}

	batch := fs.client.Batch()
	for _, item := range items {
		batch.Set(fs.client.Collection(CollectionActivity).Doc(commitDocID(item)), item)
	}

	if _, err := batch.Commit(ctx); err != nil {
		log.Error(ctx, "Failed to upsert commit activity",
			"error", err,
			"user_id", items[0].UserID,
			"count", len(items),
			"operation", "upsert_activities",
		)
		return fmt.Errorf("failed to upsert %d activities: %w", len(items), err)
	}
	return nil
}

// Idea operations.

// ListIdeas returns a user's ideas, newest first.
func (fs *FirestoreService) ListIdeas(ctx context.Context, userID string) ([]*models.IdeaItem, error) {
	iter := fs.client.Collection(CollectionIdeas).Where("userId", "==", userID).Documents(ctx)
	ideas, err := collect[models.IdeaItem](ctx, iter, "unmarshal_idea")
	if err != nil {
		log.Error(ctx, "Failed to query ideas",
			"error", err,
			"user_id", userID,
			"operation", "list_ideas",
		)
		return nil, fmt.Errorf("failed to list ideas for user %s: %w", userID, err)
	}

	sort.SliceStable(ideas, func(i, j int) bool {
		return ideas[i].CreatedAt.After(ideas[j].CreatedAt)
	})
	for _, idea := range ideas {
		idea.Date = models.DisplayTime(idea.CreatedAt)
	}
	return ideas, nil
}

// CreateIdea stores a new idea.
func (fs *FirestoreService) CreateIdea(ctx context.Context, idea *models.IdeaItem) error {
	docRef := fs.client.Collection(CollectionIdeas).NewDoc()
	idea.ID = docRef.ID
	if idea.CreatedAt.IsZero() {
		idea.CreatedAt = fs.now()
	}
	if idea.Tags == nil {
		idea.Tags = []string{}
	}

	if _, err := docRef.Set(ctx, idea); err != nil {
		log.Error(ctx, "Failed to create idea",
			"error", err,
			"user_id", idea.UserID,
			"operation", "create_idea",
		)
		return fmt.Errorf("failed to create idea for user %s: %w", idea.UserID, err)
	}
	idea.Date = models.DisplayTime(idea.CreatedAt)
	return nil
}

// GetIdea retrieves an idea by ID.
func (fs *FirestoreService) GetIdea(ctx context.Context, id string) (*models.IdeaItem, error) {
	doc, err := fs.client.Collection(CollectionIdeas).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrIdeaNotFound
		}
		log.Error(ctx, "Failed to get idea",
			"error", err,
			"idea_id", id,
			"operation", "get_idea",
		)
		return nil, fmt.Errorf("failed to get idea %s: %w", id, err)
	}

	var idea models.IdeaItem
	if err := doc.DataTo(&idea); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idea %s: %w", id, err)
	}
	idea.Date = models.DisplayTime(idea.CreatedAt)
	return &idea, nil
}

// DeleteIdea removes an idea.
func (fs *FirestoreService) DeleteIdea(ctx context.Context, id string) error {
	if _, err := fs.client.Collection(CollectionIdeas).Doc(id).Delete(ctx, firestore.Exists); err != nil {
		if isNotFound(err) {
			return ErrIdeaNotFound
		}
		log.Error(ctx, "Failed to delete idea",
			"error", err,
			"idea_id", id,
			"operation", "delete_idea",
		)
		return fmt.Errorf("failed to delete idea %s: %w", id, err)
	}
	return nil
}

// Draft operations.

// ListDrafts returns a user's drafts, newest first.
func (fs *FirestoreService) ListDrafts(ctx context.Context, userID string) ([]*models.DraftItem, error) {
	iter := fs.client.Collection(CollectionDrafts).Where("userId", "==", userID).Documents(ctx)
	drafts, err := collect[models.DraftItem](ctx, iter, "unmarshal_draft")
	if err != nil {
		log.Error(ctx, "Failed to query drafts",
			"error", err,
			"user_id", userID,
			"operation", "list_drafts",
		)
		return nil, fmt.Errorf("failed to list drafts for user %s: %w", userID, err)
	}

	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].CreatedAt.After(drafts[j].CreatedAt)
	})
	return drafts, nil
}

// GetDraft retrieves a draft by ID.
func (fs *FirestoreService) GetDraft(ctx context.Context, id string) (*models.DraftItem, error) {
	doc, err := fs.client.Collection(CollectionDrafts).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrDraftNotFound
		}
		log.Error(ctx, "Failed to get draft",
			"error", err,
			"draft_id", id,
			"operation", "get_draft",
		)
		return nil, fmt.Errorf("failed to get draft %s: %w", id, err)
	}

	var draft models.DraftItem
	if err := doc.DataTo(&draft); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft %s: %w", id, err)
	}
	return &draft, nil
}

// CreateDraft stores a new draft.
func (fs *FirestoreService) CreateDraft(ctx context.Context, draft *models.DraftItem) error {
	docRef := fs.client.Collection(CollectionDrafts).NewDoc()
	draft.ID = docRef.ID
	now := fs.now()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	if _, err := docRef.Set(ctx, draft); err != nil {
		log.Error(ctx, "Failed to create draft",
			"error", err,
			"user_id", draft.UserID,
			"platform", draft.Platform,
			"operation", "create_draft",
		)
		return fmt.Errorf("failed to create draft for user %s: %w", draft.UserID, err)
	}
	return nil
}

func updatesFrom(fields map[string]interface{}) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields)+1)
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	return updates
}

// UpdateDraft merges a partial update into a draft.
func (fs *FirestoreService) UpdateDraft(ctx context.Context, id string, patch models.DraftPatch) error {
	updates := append(updatesFrom(patch.Fields()), firestore.Update{Path: "updatedAt", Value: fs.now()})

	if _, err := fs.client.Collection(CollectionDrafts).Doc(id).Update(ctx, updates); err != nil {
		if isNotFound(err) {
			return ErrDraftNotFound
		}
		log.Error(ctx, "Failed to update draft",
			"error", err,
			"draft_id", id,
			"operation", "update_draft",
		)
		return fmt.Errorf("failed to update draft %s: %w", id, err)
	}
	return nil
}

// PublishDraft applies a patch that moves a draft to Published and records the milestone
// activity in the same transaction, so the log never misses or duplicates a publication.
func (fs *FirestoreService) PublishDraft(
	ctx context.Context, id string, patch models.DraftPatch, milestone *models.ActivityItem,
) error {
	draftRef := fs.client.Collection(CollectionDrafts).Doc(id)
	activityRef := fs.client.Collection(CollectionActivity).NewDoc()
	milestone.ID = activityRef.ID
	if milestone.CreatedAt.IsZero() {
		milestone.CreatedAt = fs.now()
	}

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(draftRef); err != nil {
			if isNotFound(err) {
				return ErrDraftNotFound
			}
			return fmt.Errorf("failed to read draft: %w", err)
		}

		updates := append(updatesFrom(patch.Fields()), firestore.Update{Path: "updatedAt", Value: fs.now()})
		if err := tx.Update(draftRef, updates); err != nil {
			return fmt.Errorf("failed to update draft: %w", err)
		}
		if err := tx.Create(activityRef, milestone); err != nil {
			return fmt.Errorf("failed to create milestone activity: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return err
		}
		log.Error(ctx, "Failed to publish draft",
			"error", err,
			"draft_id", id,
			"operation", "publish_draft",
		)
		return fmt.Errorf("failed to publish draft %s: %w", id, err)
	}

	milestone.Time = models.DisplayTime(milestone.CreatedAt)
	return nil
}

// Profile operations.

// GetProfile retrieves a user's profile. Returns ErrProfileNotFound before onboarding.
func (fs *FirestoreService) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	doc, err := fs.client.Collection(CollectionProfiles).Doc(userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrProfileNotFound
		}
		log.Error(ctx, "Failed to get profile",
			"error", err,
			"user_id", userID,
			"operation", "get_profile",
		)
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}

	var profile models.UserProfile
	if err := doc.DataTo(&profile); err != nil {
		log.Error(ctx, "Failed to unmarshal profile data",
			"error", err,
			"user_id", userID,
			"operation", "unmarshal_profile_data",
		)
		return nil, fmt.Errorf("failed to unmarshal profile data for %s: %w", userID, err)
	}
	return &profile, nil
}

// SaveProfile creates or replaces a profile document.
func (fs *FirestoreService) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	now := fs.now()
	profile.UpdatedAt = now
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}

	if _, err := fs.client.Collection(CollectionProfiles).Doc(profile.ID).Set(ctx, profile); err != nil {
		log.Error(ctx, "Failed to save profile",
			"error", err,
			"user_id", profile.ID,
			"username", profile.Username,
			"operation", "save_profile",
		)
		return fmt.Errorf("failed to save profile %s: %w", profile.ID, err)
	}
	return nil
}

// UpdateProfile merges a partial update into a profile.
func (fs *FirestoreService) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error {
	updates := append(updatesFrom(patch.Fields()), firestore.Update{Path: "updatedAt", Value: fs.now()})

	if _, err := fs.client.Collection(CollectionProfiles).Doc(userID).Update(ctx, updates); err != nil {
		if isNotFound(err) {
			return ErrProfileNotFound
		}
		log.Error(ctx, "Failed to update profile",
			"error", err,
			"user_id", userID,
			"operation", "update_profile",
		)
		return fmt.Errorf("failed to update profile %s: %w", userID, err)
	}
	return nil
}

// FindProfilesByRepo returns every profile syncing commits from repoFullName.
func (fs *FirestoreService) FindProfilesByRepo(ctx context.Context, repoFullName string) ([]*models.UserProfile, error) {
	iter := fs.client.Collection(CollectionProfiles).Where("githubConfig.repo", "==", repoFullName).Documents(ctx)
	profiles, err := collect[models.UserProfile](ctx, iter, "unmarshal_profile_data")
	if err != nil {
		log.Error(ctx, "Failed to query profiles by repository",
			"error", err,
			"repo", repoFullName,
			"operation", "find_profiles_by_repo",
		)
		return nil, fmt.Errorf("failed to find profiles for repo %s: %w", repoFullName, err)
	}
	return profiles, nil
}

// Follow adds targetID to the follower's following list and the follower to the target's
// followers list in one transaction.
func (fs *FirestoreService) Follow(ctx context.Context, followerID, targetID string) error {
	return fs.updateFollow(ctx, followerID, targetID, true)
}

// Unfollow reverses Follow.
func (fs *FirestoreService) Unfollow(ctx context.Context, followerID, targetID string) error {
	return fs.updateFollow(ctx, followerID, targetID, false)
}

func (fs *FirestoreService) updateFollow(ctx context.Context, followerID, targetID string, follow bool) error {
	operation := "follow_user"
	var following, followers interface{} = firestore.ArrayUnion(targetID), firestore.ArrayUnion(followerID)
	if !follow {
		operation = "unfollow_user"
		following, followers = firestore.ArrayRemove(targetID), firestore.ArrayRemove(followerID)
	}

	followerRef := fs.client.Collection(CollectionProfiles).Doc(followerID)
	targetRef := fs.client.Collection(CollectionProfiles).Doc(targetID)

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, ref := range []*firestore.DocumentRef{followerRef, targetRef} {
			if _, err := tx.Get(ref); err != nil {
				if isNotFound(err) {
					return ErrProfileNotFound
				}
				return fmt.Errorf("failed to read profile %s: %w", ref.ID, err)
			}
		}

		if err := tx.Update(followerRef, []firestore.Update{{Path: "following", Value: following}}); err != nil {
			return fmt.Errorf("failed to update following: %w", err)
		}
		if err := tx.Update(targetRef, []firestore.Update{{Path: "followers", Value: followers}}); err != nil {
			return fmt.Errorf("failed to update followers: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return err
		}
		log.Error(ctx, "Failed to update follow relation",
			"error", err,
			"follower_id", followerID,
			"target_id", targetID,
			"operation", operation,
		)
		return fmt.Errorf("failed to update follow %s -> %s: %w", followerID, targetID, err)
	}
	return nil
}

// Tribe operations.

// ListTribes returns every tribe, newest first.
func (fs *FirestoreService) ListTribes(ctx context.Context) ([]*models.Tribe, error) {
	iter := fs.client.Collection(CollectionTribes).Documents(ctx)
	tribes, err := collect[models.Tribe](ctx, iter, "unmarshal_tribe")
	if err != nil {
		log.Error(ctx, "Failed to list tribes",
			"error", err,
			"operation", "list_tribes",
		)
		return nil, fmt.Errorf("failed to list tribes: %w", err)
	}

	sort.SliceStable(tribes, func(i, j int) bool {
		return tribes[i].CreatedAt.After(tribes[j].CreatedAt)
	})
	return tribes, nil
}

// CreateTribe stores a new tribe. The founder must already be in Members.
func (fs *FirestoreService) CreateTribe(ctx context.Context, tribe *models.Tribe) error {
	docRef := fs.client.Collection(CollectionTribes).NewDoc()
	tribe.ID = docRef.ID
	if tribe.CreatedAt.IsZero() {
		tribe.CreatedAt = fs.now()
	}

	if _, err := docRef.Set(ctx, tribe); err != nil {
		log.Error(ctx, "Failed to create tribe",
			"error", err,
			"created_by", tribe.CreatedBy,
			"name", tribe.Name,
			"operation", "create_tribe",
		)
		return fmt.Errorf("failed to create tribe %q: %w", tribe.Name, err)
	}
	return nil
}

// AddTribeMember adds userID to a tribe's members.
func (fs *FirestoreService) AddTribeMember(ctx context.Context, tribeID, userID string) error {
	return fs.updateMembers(ctx, tribeID, userID, firestore.ArrayUnion(userID), "join_tribe")
}

// RemoveTribeMember removes userID from a tribe's members.
func (fs *FirestoreService) RemoveTribeMember(ctx context.Context, tribeID, userID string) error {
	return fs.updateMembers(ctx, tribeID, userID, firestore.ArrayRemove(userID), "leave_tribe")
}

func (fs *FirestoreService) updateMembers(ctx context.Context, tribeID, userID string, value interface{}, operation string) error {
	_, err := fs.client.Collection(CollectionTribes).Doc(tribeID).Update(ctx, []firestore.Update{
		{Path: "members", Value: value},
	})
	if err != nil {
		if isNotFound(err) {
			return ErrTribeNotFound
		}
		log.Error(ctx, "Failed to update tribe members",
			"error", err,
			"tribe_id", tribeID,
			"user_id", userID,
			"operation", operation,
		)
		return fmt.Errorf("failed to update members of tribe %s: %w", tribeID, err)
	}
	return nil
}

// GetTribe retrieves a tribe by ID.
func (fs *FirestoreService) GetTribe(ctx context.Context, tribeID string) (*models.Tribe, error) {
	doc, err := fs.client.Collection(CollectionTribes).Doc(tribeID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTribeNotFound
		}
		log.Error(ctx, "Failed to get tribe",
			"error", err,
			"tribe_id", tribeID,
			"operation", "get_tribe",
		)
		return nil, fmt.Errorf("failed to get tribe %s: %w", tribeID, err)
	}

	var tribe models.Tribe
	if err := doc.DataTo(&tribe); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tribe %s: %w", tribeID, err)
	}
	return &tribe, nil
}

// ListTribePosts returns a tribe's feed, newest first.
func (fs *FirestoreService) ListTribePosts(ctx context.Context, tribeID string) ([]*models.TribePost, error) {
	iter := fs.client.Collection(CollectionTribePosts).Where("tribeId", "==", tribeID).Documents(ctx)
	posts, err := collect[models.TribePost](ctx, iter, "unmarshal_tribe_post")
	if err != nil {
		log.Error(ctx, "Failed to list tribe posts",
			"error", err,
			"tribe_id", tribeID,
			"operation", "list_tribe_posts",
		)
		return nil, fmt.Errorf("failed to list posts for tribe %s: %w", tribeID, err)
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts, nil
}

// CreateTribePost stores a new post.
func (fs *FirestoreService) CreateTribePost(ctx context.Context, post *models.TribePost) error {
	docRef := fs.client.Collection(CollectionTribePosts).NewDoc()
	post.ID = docRef.ID
	if post.CreatedAt.IsZero() {
		post.CreatedAt = fs.now()
	}
	if post.Likes == nil {
		post.Likes = []string{}
	}

	if _, err := docRef.Set(ctx, post); err != nil {
		log.Error(ctx, "Failed to create tribe post",
			"error", err,
			"tribe_id", post.TribeID,
			"author_id", post.AuthorID,
			"operation", "create_tribe_post",
		)
		return fmt.Errorf("failed to create post in tribe %s: %w", post.TribeID, err)
	}
	return nil
}

// LikeTribePost records userID's like on a post. Liking twice is a no-op.
func (fs *FirestoreService) LikeTribePost(ctx context.Context, postID, userID string) error {
	_, err := fs.client.Collection(CollectionTribePosts).Doc(postID).Update(ctx, []firestore.Update{
		{Path: "likes", Value: firestore.ArrayUnion(userID)},
	})
	if err != nil {
		if isNotFound(err) {
			return ErrTribePostNotFound
		}
		log.Error(ctx, "Failed to like tribe post",
			"error", err,
			"post_id", postID,
			"user_id", userID,
			"operation", "like_tribe_post",
		)
		return fmt.Errorf("failed to like post %s: %w", postID, err)
	}
	return nil
}

// Friend request operations.

// ListFriendRequests returns the pending requests addressed to userID.
func (fs *FirestoreService) ListFriendRequests(ctx context.Context, userID string) ([]*models.FriendRequest, error) {
	iter := fs.client.Collection(CollectionFriendRequests).
		Where("toId", "==", userID).
		Where("status", "==", string(models.FriendRequestPending)).
		Documents(ctx)
	requests, err := collect[models.FriendRequest](ctx, iter, "unmarshal_friend_request")
	if err != nil {
		log.Error(ctx, "Failed to list friend requests",
			"error", err,
			"user_id", userID,
			"operation", "list_friend_requests",
		)
		return nil, fmt.Errorf("failed to list friend requests for user %s: %w", userID, err)
	}

	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})
	return requests, nil
}

// SendFriendRequest creates a pending request under its deterministic ID. Returns
// ErrFriendRequestExists when one is already pending between the two users in either
// direction; a previously rejected request is reopened.
func (fs *FirestoreService) SendFriendRequest(ctx context.Context, request *models.FriendRequest) error {
	request.ID = models.FriendRequestID(request.FromID, request.ToID)
	request.Status = models.FriendRequestPending
	if request.CreatedAt.IsZero() {
		request.CreatedAt = fs.now()
	}
	requests := fs.client.Collection(CollectionFriendRequests)
	ref := requests.Doc(request.ID)
	reverse := requests.Doc(models.FriendRequestID(request.ToID, request.FromID))

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, r := range []*firestore.DocumentRef{ref, reverse} {
			pending, err := pendingRequest(tx, r)
			if err != nil {
				return err
			}
			if pending {
				return ErrFriendRequestExists
			}
		}
		return tx.Set(ref, request)
	})
	if err != nil {
		if errors.Is(err, ErrFriendRequestExists) {
			return err
		}
		log.Error(ctx, "Failed to send friend request",
			"error", err,
			"from_id", request.FromID,
			"to_id", request.ToID,
			"operation", "send_friend_request",
		)
		return fmt.Errorf("failed to send friend request %s: %w", request.ID, err)
	}
	return nil
}

func pendingRequest(tx *firestore.Transaction, ref *firestore.DocumentRef) (bool, error) {
	doc, err := tx.Get(ref)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read friend request: %w", err)
	}
	var existing models.FriendRequest
	if err := doc.DataTo(&existing); err != nil {
		return false, fmt.Errorf("failed to unmarshal friend request: %w", err)
	}
	return existing.Status == models.FriendRequestPending, nil
}

// AcceptFriendRequest marks the request accepted and adds each party to the other's friends
// list in one transaction. Only the recipient can accept.
func (fs *FirestoreService) AcceptFriendRequest(ctx context.Context, requestID, userID string) error {
	return fs.resolveFriendRequest(ctx, requestID, userID, models.FriendRequestAccepted, "accept_friend_request")
}

// RejectFriendRequest marks the request rejected. Only the recipient can reject.
func (fs *FirestoreService) RejectFriendRequest(ctx context.Context, requestID, userID string) error {
	return fs.resolveFriendRequest(ctx, requestID, userID, models.FriendRequestRejected, "reject_friend_request")
}

func (fs *FirestoreService) resolveFriendRequest(
	ctx context.Context, requestID, userID string, outcome models.FriendRequestStatus, operation string,
) error {
	ref := fs.client.Collection(CollectionFriendRequests).Doc(requestID)

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return ErrFriendRequestNotFound
			}
			return fmt.Errorf("failed to read friend request: %w", err)
		}

		var request models.FriendRequest
		if err := doc.DataTo(&request); err != nil {
			return fmt.Errorf("failed to unmarshal friend request: %w", err)
		}
		if request.ToID != userID {
			return ErrNotRequestRecipient
		}
		if request.Status != models.FriendRequestPending {
			return ErrRequestNotPending
		}

		if outcome == models.FriendRequestAccepted {
			fromRef := fs.client.Collection(CollectionProfiles).Doc(request.FromID)
			toRef := fs.client.Collection(CollectionProfiles).Doc(request.ToID)
			if err := tx.Update(fromRef, []firestore.Update{{Path: "friends", Value: firestore.ArrayUnion(request.ToID)}}); err != nil {
				return fmt.Errorf("failed to update sender friends: %w", err)
			}
			if err := tx.Update(toRef, []firestore.Update{{Path: "friends", Value: firestore.ArrayUnion(request.FromID)}}); err != nil {
				return fmt.Errorf("failed to update recipient friends: %w", err)
			}
		}

		return tx.Update(ref, []firestore.Update{{Path: "status", Value: string(outcome)}})
	})
	if err != nil {
		if errors.Is(err, ErrFriendRequestNotFound) || errors.Is(err, ErrNotRequestRecipient) ||
			errors.Is(err, ErrRequestNotPending) {
			return err
		}
		log.Error(ctx, "Failed to resolve friend request",
			"error", err,
			"request_id", requestID,
			"user_id", userID,
			"outcome", outcome,
			"operation", operation,
		)
		return fmt.Errorf("failed to resolve friend request %s: %w", requestID, err)
	}
	return nil
}

// Admin operations.

// DeleteCollection removes every document in a collection in batches. Used by the toolbox.
func (fs *FirestoreService) DeleteCollection(ctx context.Context, collection string) (int, error) {
	const batchSize = 400
	deleted := 0

	for {
		iter := fs.client.Collection(collection).Limit(batchSize).Documents(ctx)
		docs, err := iter.GetAll()
		if err != nil {
			return deleted, fmt.Errorf("failed to list %s: %w", collection, err)
		}
		if len(docs) == 0 {
			return deleted, nil
		}

		batch := fs.client.Batch()
		for _, doc := range docs {
			batch.Delete(doc.Ref)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return deleted, fmt.Errorf("failed to delete batch from %s: %w", collection, err)
		}
		deleted += len(docs)
	}
}

// DumpCollection returns every document of a collection as raw data, keyed by "_id" for the
// document ID.
func (fs *FirestoreService) DumpCollection(ctx context.Context, collection string) ([]map[string]interface{}, error) {
	documents := []map[string]interface{}{}

	iter := fs.client.Collection(collection).Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
		}

		data := doc.Data()
		data["_id"] = doc.Ref.ID
		documents = append(documents, data)
	}
	return documents, nil
}
