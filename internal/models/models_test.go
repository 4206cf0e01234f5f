package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestActivityItem_Validate(t *testing.T) {
	tests := []struct {
		name string
		item ActivityItem
		err  error
	}{
		{name: "valid note", item: ActivityItem{Type: ActivityNote, Title: "T"}},
		{name: "missing title", item: ActivityItem{Type: ActivityNote, Title: "  "}, err: ErrTitleRequired},
		{name: "unknown type", item: ActivityItem{Type: "meeting", Title: "T"}, err: ErrInvalidActivityType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestActivityItem_IsCommit(t *testing.T) {
	assert.True(t, (&ActivityItem{Type: ActivityCommit, Source: SourceGitHub}).IsCommit())
	assert.False(t, (&ActivityItem{Type: ActivityCommit, Source: SourceManual}).IsCommit())
	assert.False(t, (&ActivityItem{Type: ActivityNote, Source: SourceGitHub}).IsCommit())
}

func TestDraftItem_ValidateDefaultsStatus(t *testing.T) {
	d := &DraftItem{Title: "Launch thread"}
	require.NoError(t, d.Validate())
	assert.Equal(t, DraftStatusDraft, d.Status)

	d = &DraftItem{Title: "Launch thread", Status: "Archived"}
	assert.ErrorIs(t, d.Validate(), ErrInvalidDraftStatus)
}

func TestDraftStatus_Pending(t *testing.T) {
	assert.True(t, DraftStatusDraft.Pending())
	assert.True(t, DraftStatusScripted.Pending())
	assert.False(t, DraftStatusReady.Pending())
	assert.False(t, DraftStatusPublished.Pending())
}

func TestDraftPatch(t *testing.T) {
	published := DraftStatusPublished
	patch := DraftPatch{Status: &published, Content: strPtr("hello")}
	require.NoError(t, patch.Validate())
	assert.Equal(t, map[string]interface{}{"status": "Published", "content": "hello"}, patch.Fields())

	d := &DraftItem{Title: "A", Status: DraftStatusDraft}
	patch.Apply(d)
	assert.Equal(t, DraftStatusPublished, d.Status)
	assert.Equal(t, "hello", d.Content)
	assert.Equal(t, "A", d.Title)

	assert.ErrorIs(t, DraftPatch{}.Validate(), ErrEmptyPatch)
	assert.ErrorIs(t, DraftPatch{Title: strPtr("")}.Validate(), ErrTitleRequired)
}

func TestProfilePatch_KeepsStoredTokenWhenEmpty(t *testing.T) {
	profile := &UserProfile{ID: "u1", Username: "ada", GitHubConfig: GitHubConfig{Repo: "old/repo", Token: "secret"}}
	patch := ProfilePatch{GitHubConfig: &GitHubConfig{Repo: "ada/atum"}}

	require.NoError(t, patch.Validate())
	fields := patch.Fields()
	assert.Equal(t, "ada/atum", fields["githubConfig.repo"])
	assert.NotContains(t, fields, "githubConfig.token")

	patch.Apply(profile)
	assert.Equal(t, "ada/atum", profile.GitHubConfig.Repo)
	assert.Equal(t, "secret", profile.GitHubConfig.Token)
}

func TestProfilePatch_RejectsBadRepo(t *testing.T) {
	patch := ProfilePatch{GitHubConfig: &GitHubConfig{Repo: "not-a-repo"}}
	assert.ErrorIs(t, patch.Validate(), ErrInvalidRepoFormat)
}

func TestUserProfile_PublicHidesToken(t *testing.T) {
	profile := &UserProfile{ID: "u1", Username: "ada", GitHubConfig: GitHubConfig{Repo: "ada/atum", Token: "secret"}}

	public := profile.Public()

	assert.Empty(t, public.GitHubConfig.Token)
	assert.True(t, public.GitHubConfig.HasToken)
	assert.Equal(t, "secret", profile.GitHubConfig.Token)
	assert.Nil(t, (*UserProfile)(nil).Public())
}

func TestNotification_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	n := &Notification{Duration: 5 * time.Second, CreatedAt: now}
	assert.False(t, n.Expired(now.Add(4*time.Second)))
	assert.True(t, n.Expired(now.Add(5*time.Second)))

	persistent := &Notification{CreatedAt: now}
	assert.False(t, persistent.Expired(now.Add(time.Hour)))
}

func TestDisplayTime(t *testing.T) {
	assert.Equal(t, JustNow, DisplayTime(time.Time{}))
	assert.Equal(t, "2026-03-04", DisplayTime(time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)))
}

func TestPushEventJob_Validate(t *testing.T) {
	job := &PushEventJob{ID: "j1", RepoFullName: "ada/atum", TraceID: "t1"}
	assert.ErrorIs(t, job.Validate(), ErrNoCommitsInPush)

	job.Commits = []*ActivityItem{{ID: "gh-abc"}}
	assert.NoError(t, job.Validate())
}
