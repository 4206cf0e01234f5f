package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"atum-server/internal/config"
	"atum-server/internal/models"

	"github.com/google/go-github/v73/github"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCommitsURL = "https://github.test/api/v3/repos/octo/atum/commits"

func commitFixture() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"sha":      "bbb222",
			"html_url": "https://github.test/octo/atum/commit/bbb222",
			"commit": map[string]interface{}{
				"message": "Add insight panel\n\nWires the dashboard to the insight helpers.",
				"author":  map[string]interface{}{"name": "Ada", "date": "2026-05-19T10:00:00Z"},
			},
		},
		{
			"sha":      "aaa111",
			"html_url": "https://github.test/octo/atum/commit/aaa111",
			"commit": map[string]interface{}{
				"message": "Initial commit",
				"author":  map[string]interface{}{"name": "Ada", "date": "2026-05-18T09:00:00Z"},
			},
		},
	}
}

func newTestCommitSync(t *testing.T) *CommitSyncService {
	t.Helper()

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	cfg := &config.Config{
		GitHub:          config.GitHubConfig{APIURL: "https://github.test/api/v3/"},
		OutboundTimeout: 5 * time.Second,
	}
	svc, err := NewCommitSyncService(cfg, httpClient)
	require.NoError(t, err)
	return svc
}

func TestCommitSyncService_FetchCommits(t *testing.T) {
	svc := newTestCommitSync(t)

	var authHeader string
	httpmock.RegisterResponderWithQuery(http.MethodGet, testCommitsURL, "per_page=10",
		func(req *http.Request) (*http.Response, error) {
			authHeader = req.Header.Get("Authorization")
			return httpmock.NewJsonResponse(http.StatusOK, commitFixture())
		})

	items, err := svc.FetchCommits(context.Background(), "user-1", models.GitHubConfig{Repo: "octo/atum", Token: "secret"})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Bearer secret", authHeader)

	first := items[0]
	assert.Equal(t, "gh-bbb222", first.ID)
	assert.Equal(t, "user-1", first.UserID)
	assert.Equal(t, models.ActivityCommit, first.Type)
	assert.Equal(t, models.SourceGitHub, first.Source)
	assert.Equal(t, "Add insight panel", first.Title)
	assert.Equal(t, "Ada", first.Desc)
	assert.Contains(t, first.Details, "Wires the dashboard")
	assert.Equal(t, "https://github.test/octo/atum/commit/bbb222", first.URL)
	assert.Equal(t, "2026-05-19", first.Time)
	assert.True(t, first.IsCommit())
}

func TestCommitSyncService_FetchCommits_Anonymous(t *testing.T) {
	svc := newTestCommitSync(t)

	httpmock.RegisterResponder(http.MethodGet, testCommitsURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Empty(t, req.Header.Get("Authorization"))
			return httpmock.NewJsonResponse(http.StatusOK, commitFixture())
		})

	items, err := svc.FetchCommits(context.Background(), "user-1", models.GitHubConfig{Repo: "octo/atum"})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCommitSyncService_FetchCommits_Errors(t *testing.T) {
	svc := newTestCommitSync(t)
	httpmock.RegisterResponder(http.MethodGet, testCommitsURL,
		httpmock.NewStringResponder(http.StatusNotFound, `{"message":"Not Found"}`))

	_, err := svc.FetchCommits(context.Background(), "user-1", models.GitHubConfig{Repo: "octo/atum"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommitSyncFailed)
	assert.False(t, IsRetryableGitHubError(err))

	_, err = svc.FetchCommits(context.Background(), "user-1", models.GitHubConfig{Repo: "not-a-repo"})
	assert.ErrorIs(t, err, models.ErrInvalidRepoFormat)

	_, err = svc.FetchCommits(context.Background(), "user-1", models.GitHubConfig{})
	assert.ErrorIs(t, err, models.ErrRepoRequired)
}

func TestCommitSyncService_ServerErrorIsRetryable(t *testing.T) {
	svc := newTestCommitSync(t)
	httpmock.RegisterResponder(http.MethodGet, testCommitsURL,
		httpmock.NewStringResponder(http.StatusBadGateway, `{"message":"upstream"}`))

	_, err := svc.FetchCommits(context.Background(), "user-1", models.GitHubConfig{Repo: "octo/atum"})
	require.Error(t, err)
	assert.True(t, IsRetryableGitHubError(err))
}

func TestMergeActivity_Idempotent(t *testing.T) {
	manual := &models.ActivityItem{ID: "manual-1", Type: models.ActivityNote, Title: "note"}
	incoming := []*models.ActivityItem{
		{ID: "gh-bbb", Type: models.ActivityCommit, Title: "second"},
		{ID: "gh-aaa", Type: models.ActivityCommit, Title: "first"},
	}

	once := MergeActivity([]*models.ActivityItem{manual}, incoming)
	twice := MergeActivity(once, incoming)

	require.Len(t, once, 3)
	assert.Equal(t, once, twice)
	assert.Equal(t, []string{"gh-bbb", "gh-aaa", "manual-1"}, activityIDs(twice))
}

func TestMergeActivity_IncomingWinsOnEqualIDs(t *testing.T) {
	stale := &models.ActivityItem{ID: "gh-aaa", Title: "old title"}
	fresh := &models.ActivityItem{ID: "gh-aaa", Title: "amended title"}

	merged := MergeActivity([]*models.ActivityItem{stale}, []*models.ActivityItem{fresh})

	require.Len(t, merged, 1)
	assert.Equal(t, "amended title", merged[0].Title)
}

func TestMapPushCommits(t *testing.T) {
	ts := github.Timestamp{Time: time.Date(2026, 5, 20, 8, 30, 0, 0, time.UTC)}
	event := &github.PushEvent{
		Commits: []*github.HeadCommit{
			{
				ID:        github.Ptr("ccc333"),
				Message:   github.Ptr("Fix streak calc\n\nDistinct days only."),
				URL:       github.Ptr("https://github.test/octo/atum/commit/ccc333"),
				Timestamp: &ts,
				Author:    &github.CommitAuthor{Name: github.Ptr("Grace")},
			},
			{Message: github.Ptr("no id")},
		},
	}

	items := MapPushCommits(event)

	require.Len(t, items, 1)
	assert.Equal(t, "gh-ccc333", items[0].ID)
	assert.Equal(t, "Fix streak calc", items[0].Title)
	assert.Equal(t, "Grace", items[0].Desc)
	assert.Equal(t, "2026-05-20", items[0].Time)
	assert.Empty(t, items[0].UserID)
}

func TestIsRetryableGitHubError(t *testing.T) {
	assert.False(t, IsRetryableGitHubError(nil))
	assert.True(t, IsRetryableGitHubError(context.DeadlineExceeded))
	assert.True(t, IsRetryableGitHubError(&github.RateLimitError{Message: "slow down"}))
	assert.True(t, IsRetryableGitHubError(errors.New("dial tcp: connection refused")))
	assert.False(t, IsRetryableGitHubError(models.ErrInvalidRepoFormat))
}

func activityIDs(items []*models.ActivityItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
