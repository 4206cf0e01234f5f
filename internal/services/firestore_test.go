package services_test

import (
	"context"
	"testing"

	"atum-server/internal/models"
	"atum-server/internal/services"
	testutil "atum-server/internal/testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFirestoreService(t *testing.T) *services.FirestoreService {
	t.Helper()
	emulator := testutil.StartFirestore(t)
	return services.NewFirestoreService(emulator.Client)
}

func saveProfile(t *testing.T, fs *services.FirestoreService, id, repo string) {
	t.Helper()
	require.NoError(t, fs.SaveProfile(context.Background(), &models.UserProfile{
		ID:           id,
		Username:     id,
		GitHubConfig: models.GitHubConfig{Repo: repo},
		Following:    []string{},
		Followers:    []string{},
		Friends:      []string{},
	}))
}

func TestFirestore_ActivityLifecycle(t *testing.T) {
	fs := newFirestoreService(t)
	ctx := context.Background()

	item := &models.ActivityItem{UserID: "alice", Type: models.ActivityTask, Source: models.SourceManual, Title: "Wrote docs"}
	require.NoError(t, fs.CreateActivity(ctx, item))
	require.NotEmpty(t, item.ID)

	got, err := fs.GetActivity(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Wrote docs", got.Title)

	require.NoError(t, fs.DeleteActivity(ctx, item.ID))
	_, err = fs.GetActivity(ctx, item.ID)
	assert.ErrorIs(t, err, services.ErrActivityNotFound)
	assert.ErrorIs(t, fs.DeleteActivity(ctx, item.ID), services.ErrActivityNotFound)
}

func TestFirestore_UpsertActivitiesIsIdempotent(t *testing.T) {
	fs := newFirestoreService(t)
	ctx := context.Background()

	commits := []*models.ActivityItem{
		{ID: "gh-aaa", UserID: "alice", Type: models.ActivityCommit, Source: models.SourceGitHub, Title: "one"},
		{ID: "gh-bbb", UserID: "alice", Type: models.ActivityCommit, Source: models.SourceGitHub, Title: "two"},
	}
	require.NoError(t, fs.UpsertActivities(ctx, commits))
	require.NoError(t, fs.UpsertActivities(ctx, commits))

	// The same commit tracked by another user is a separate document.
	shared := *commits[0]
	shared.UserID = "bob"
	require.NoError(t, fs.UpsertActivities(ctx, []*models.ActivityItem{&shared}))

	items, err := fs.ListActivity(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = fs.ListActivity(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestFirestore_PublishDraftRecordsMilestone(t *testing.T) {
	fs := newFirestoreService(t)
	ctx := context.Background()

	draft := &models.DraftItem{UserID: "alice", Title: "Launch", Platform: "X", Status: models.DraftStatusDraft}
	require.NoError(t, fs.CreateDraft(ctx, draft))

	published := models.DraftStatusPublished
	milestone := &models.ActivityItem{UserID: "alice", Type: models.ActivityMilestone, Source: models.SourceSystem, Title: "Published: Launch"}
	require.NoError(t, fs.PublishDraft(ctx, draft.ID, models.DraftPatch{Status: &published}, milestone))

	got, err := fs.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusPublished, got.Status)

	items, err := fs.ListActivity(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, milestone.ID, items[0].ID)

	err = fs.PublishDraft(ctx, "missing", models.DraftPatch{Status: &published}, &models.ActivityItem{UserID: "alice"})
	assert.ErrorIs(t, err, services.ErrDraftNotFound)
}

func TestFirestore_FriendRequests(t *testing.T) {
	fs := newFirestoreService(t)
	ctx := context.Background()
	saveProfile(t, fs, "alice", "")
	saveProfile(t, fs, "bob", "")

	request := &models.FriendRequest{FromID: "alice", FromName: "alice", ToID: "bob"}
	require.NoError(t, fs.SendFriendRequest(ctx, request))
	assert.ErrorIs(t, fs.SendFriendRequest(ctx, &models.FriendRequest{FromID: "alice", ToID: "bob"}), services.ErrFriendRequestExists)
	assert.ErrorIs(t, fs.SendFriendRequest(ctx, &models.FriendRequest{FromID: "bob", ToID: "alice"}), services.ErrFriendRequestExists)

	incoming, err := fs.ListFriendRequests(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, incoming)

	pending, err := fs.ListFriendRequests(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	assert.ErrorIs(t, fs.AcceptFriendRequest(ctx, request.ID, "alice"), services.ErrNotRequestRecipient)
	require.NoError(t, fs.AcceptFriendRequest(ctx, request.ID, "bob"))
	assert.ErrorIs(t, fs.RejectFriendRequest(ctx, request.ID, "bob"), services.ErrRequestNotPending)

	alice, err := fs.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, alice.Friends, "bob")
	bob, err := fs.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Contains(t, bob.Friends, "alice")
}

func TestFirestore_FindProfilesByRepoAndAdmin(t *testing.T) {
	fs := newFirestoreService(t)
	ctx := context.Background()
	saveProfile(t, fs, "alice", "alice/atum")
	saveProfile(t, fs, "dana", "alice/atum")
	saveProfile(t, fs, "bob", "bob/other")

	profiles, err := fs.FindProfilesByRepo(ctx, "alice/atum")
	require.NoError(t, err)
	assert.Len(t, profiles, 2)

	dumped, err := fs.DumpCollection(ctx, services.CollectionProfiles)
	require.NoError(t, err)
	require.Len(t, dumped, 3)
	assert.NotEmpty(t, dumped[0]["_id"])

	deleted, err := fs.DeleteCollection(ctx, services.CollectionProfiles)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	_, err = fs.GetProfile(ctx, "alice")
	assert.ErrorIs(t, err, services.ErrProfileNotFound)
}
