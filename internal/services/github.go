package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"atum-server/internal/config"
	"atum-server/internal/log"
	"atum-server/internal/models"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v73/github"
)

const (
	commitsPerSync     = 10
	commitActivityIDPx = "gh-"
)

// ErrCommitSyncFailed wraps every commit API failure.
var ErrCommitSyncFailed = errors.New("commit sync failed")

// CommitSyncService fetches recent commits of a user's configured repository.
type CommitSyncService struct {
	httpClient *http.Client
	appClient  *github.Client
	baseURL    string
	timeout    time.Duration
}

// NewCommitSyncService creates a CommitSyncService. When GitHub App credentials are configured,
// users without a personal token sync through the App installation.
func NewCommitSyncService(cfg *config.Config, httpClient *http.Client) (*CommitSyncService, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	s := &CommitSyncService{
		httpClient: httpClient,
		baseURL:    cfg.GitHub.APIURL,
		timeout:    cfg.OutboundTimeout,
	}

	if cfg.GitHub.AppAuthEnabled() {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		itr, err := ghinstallation.New(base, cfg.GitHub.AppID, cfg.GitHub.InstallationID, []byte(cfg.GitHub.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
		}
		if s.baseURL != "" {
			itr.BaseURL = strings.TrimSuffix(s.baseURL, "/")
		}

		appClient, err := s.newClient(&http.Client{Transport: itr}, "")
		if err != nil {
			return nil, err
		}
		s.appClient = appClient
	}

	return s, nil
}

func (s *CommitSyncService) newClient(httpClient *http.Client, token string) (*github.Client, error) {
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if s.baseURL == "" {
		return client, nil
	}

	base := strings.TrimSuffix(s.baseURL, "/") + "/"
	client, err := client.WithEnterpriseURLs(base, base)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %s: %w", s.baseURL, err)
	}
	// WithEnterpriseURLs appends /api/v3/ to bare hosts; keep the configured URL verbatim.
	client.BaseURL, _ = client.BaseURL.Parse(base)
	return client, nil
}

// clientFor picks the token client, the App installation client, or an anonymous client.
func (s *CommitSyncService) clientFor(cfg models.GitHubConfig) (*github.Client, error) {
	if cfg.Token != "" {
		return s.newClient(s.httpClient, cfg.Token)
	}
	if s.appClient != nil {
		return s.appClient, nil
	}
	return s.newClient(s.httpClient, "")
}

// FetchCommits lists the last commits of the configured repository mapped to activity items
// owned by userID.
func (s *CommitSyncService) FetchCommits(
	ctx context.Context, userID string, cfg models.GitHubConfig,
) ([]*models.ActivityItem, error) {
	owner, repo, err := cfg.OwnerAndName()
	if err != nil {
		return nil, err
	}

	client, err := s.clientFor(cfg)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	commits, _, err := client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: commitsPerSync},
	})
	if err != nil {
		log.Error(ctx, "Failed to fetch commits",
			"error", err,
			"repo", cfg.Repo,
			"authenticated", cfg.Token != "",
			"operation", "fetch_commits",
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrCommitSyncFailed, cfg.Repo, err)
	}

	items := make([]*models.ActivityItem, 0, len(commits))
	for _, commit := range commits {
		if commit.GetSHA() == "" {
			continue
		}
		items = append(items, MapCommit(userID, commit))
	}

	log.Debug(ctx, "Fetched commits",
		"repo", cfg.Repo,
		"count", len(items),
	)

	return items, nil
}

// CommitActivityID is the deduplication key of a synced commit.
func CommitActivityID(sha string) string {
	return commitActivityIDPx + sha
}

func firstLine(message string) string {
	line, _, _ := strings.Cut(message, "\n")
	return strings.TrimSpace(line)
}

func commitActivity(userID, sha, message, author, url string, date time.Time) *models.ActivityItem {
	title := firstLine(message)
	if title == "" {
		title = sha
	}
	return &models.ActivityItem{
		ID:        CommitActivityID(sha),
		UserID:    userID,
		Type:      models.ActivityCommit,
		Source:    models.SourceGitHub,
		Title:     title,
		Desc:      author,
		Details:   message,
		URL:       url,
		Time:      models.DisplayTime(date),
		CreatedAt: date.UTC(),
	}
}

// MapCommit converts a commit from the commits API to an activity item.
func MapCommit(userID string, commit *github.RepositoryCommit) *models.ActivityItem {
	c := commit.GetCommit()
	return commitActivity(
		userID,
		commit.GetSHA(),
		c.GetMessage(),
		c.GetAuthor().GetName(),
		commit.GetHTMLURL(),
		c.GetAuthor().GetDate().Time,
	)
}

// MapPushCommits converts the commits of a push event. The returned items carry no owner;
// the webhook fan-out assigns one copy per tracking user.
func MapPushCommits(event *github.PushEvent) []*models.ActivityItem {
	items := make([]*models.ActivityItem, 0, len(event.Commits))
	for _, commit := range event.Commits {
		if commit.GetID() == "" {
			continue
		}
		items = append(items, commitActivity(
			"",
			commit.GetID(),
			commit.GetMessage(),
			commit.GetAuthor().GetName(),
			commit.GetURL(),
			commit.GetTimestamp().Time,
		))
	}
	return items
}

// MergeActivity puts incoming items before existing ones and drops duplicates by ID. When
// both sides hold the same ID the incoming copy wins, so merging the same sync twice is a no-op.
func MergeActivity(existing, incoming []*models.ActivityItem) []*models.ActivityItem {
	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]*models.ActivityItem, 0, len(existing)+len(incoming))

	for _, list := range [][]*models.ActivityItem{incoming, existing} {
		for _, item := range list {
			if item.ID != "" && seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			merged = append(merged, item)
		}
	}
	return merged
}

// IsRetryableGitHubError reports whether a commit API failure is worth retrying.
func IsRetryableGitHubError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode >= http.StatusInternalServerError
	}

	// Transport failures never produced a response.
	return !errors.Is(err, models.ErrRepoRequired) && !errors.Is(err, models.ErrInvalidRepoFormat)
}
