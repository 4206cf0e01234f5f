package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"atum-server/internal/middleware"
	"atum-server/internal/models"
	"atum-server/internal/services"
	"atum-server/internal/session"
	"atum-server/internal/store"
	testutil "atum-server/internal/testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSigningSecret = "handlers-test-secret-0123456789"
	testIssuer        = "atum-test"
	testJobSecret     = "job-secret"
	testWebhookSecret = "webhook-secret"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type stubCommits struct {
	shas []string
	err  error
}

func (s *stubCommits) FetchCommits(ctx context.Context, userID string, cfg models.GitHubConfig) ([]*models.ActivityItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	items := make([]*models.ActivityItem, 0, len(s.shas))
	for _, sha := range s.shas {
		items = append(items, &models.ActivityItem{
			ID:        services.CommitActivityID(sha),
			UserID:    userID,
			Type:      models.ActivityCommit,
			Source:    models.SourceGitHub,
			Title:     "commit " + sha,
			Time:      models.DisplayTime(testNow),
			CreatedAt: testNow,
		})
	}
	return items, nil
}

type stubCompleter struct{}

func (stubCompleter) Generate(ctx context.Context, prompt string) (string, error) {
	return "Shipped the sync engine.", nil
}

type testServer struct {
	engine   *gin.Engine
	router   Router
	repo     *testutil.MemoryRepository
	registry *store.Registry
	commits  *stubCommits
	issuer   *session.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithQueue(t, nil)
}

// newTestServerWithQueue routes enqueued jobs to queue, or runs them inline when it is nil.
func newTestServerWithQueue(t *testing.T, queue JobQueue) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := testutil.NewMemoryRepository()
	repo.PutProfile(&models.UserProfile{
		ID:           "alice",
		Username:     "alice",
		GitHubConfig: models.GitHubConfig{Repo: "alice/atum"},
		Following:    []string{},
		Followers:    []string{},
		Friends:      []string{},
	})
	repo.PutProfile(&models.UserProfile{
		ID:        "bob",
		Username:  "bob",
		Following: []string{},
		Followers: []string{},
		Friends:   []string{},
	})

	commits := &stubCommits{shas: []string{"aaa111"}}
	registry := store.NewRegistry(store.Deps{
		Repo:                 repo,
		Commits:              commits,
		Completion:           stubCompleter{},
		OutboundTimeout:      time.Second,
		NotificationDuration: 5 * time.Second,
		Now:                  func() time.Time { return testNow },
	})

	verifier, err := session.NewVerifier(testSigningSecret, testIssuer)
	require.NoError(t, err)
	issuer, err := session.NewIssuer(testSigningSecret, testIssuer)
	require.NoError(t, err)

	jobs := NewJobProcessor(registry, repo, JobProcessorConfig{Timeout: 5 * time.Second, MaxAttempts: 3})
	if queue == nil {
		queue = jobs
	}
	router := Router{
		App:      NewAppHandler(registry, queue, func() time.Time { return testNow }),
		Session:  NewSessionHandler(repo),
		GitHub:   NewGitHubHandler(queue, services.NewValidationService(), testWebhookSecret),
		Jobs:     jobs,
		Verifier: verifier,
		Profiles: repo,
		JobAuth:  middleware.JobSecretAuth(testJobSecret),
	}

	return &testServer{
		engine:   router.Engine(),
		router:   router,
		repo:     repo,
		registry: registry,
		commits:  commits,
		issuer:   issuer,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		token, err := ts.issuer.Issue(session.Identity{UserID: userID, Email: userID + "@example.com"}, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRoutes_AccessControl(t *testing.T) {
	ts := newTestServer(t)

	t.Run("anonymous callers are sent to login", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/state", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, middleware.LoginPath, decode(t, w)["redirect"])
	})

	t.Run("users without a profile are sent to onboarding", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/state", "", "carol")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, middleware.OnboardingPath, decode(t, w)["redirect"])
	})

	t.Run("health is public", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/health", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("trace id is echoed back", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Cloud-Trace-Context", "abc123/456;o=1")
		w := httptest.NewRecorder()
		ts.engine.ServeHTTP(w, req)
		assert.Equal(t, "abc123", w.Header().Get("X-Trace-ID"))
	})
}

func TestSession(t *testing.T) {
	ts := newTestServer(t)

	t.Run("signed out", func(t *testing.T) {
		body := decode(t, ts.do(t, http.MethodGet, "/api/session", "", ""))
		assert.Equal(t, false, body["needsOnboarding"])
		sess := body["session"].(map[string]interface{})
		assert.Nil(t, sess["user"])
		assert.Equal(t, false, sess["isLoading"])
	})

	t.Run("signed in without profile", func(t *testing.T) {
		body := decode(t, ts.do(t, http.MethodGet, "/api/session", "", "carol"))
		assert.Equal(t, true, body["needsOnboarding"])
	})

	t.Run("signed in with profile", func(t *testing.T) {
		body := decode(t, ts.do(t, http.MethodGet, "/api/session", "", "alice"))
		assert.Equal(t, false, body["needsOnboarding"])
		user := body["session"].(map[string]interface{})["user"].(map[string]interface{})
		assert.Equal(t, "alice", user["uid"])
	})

	t.Run("auth errors are made friendly", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/session/auth-error", `{"code":"auth/wrong-password"}`, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Incorrect password. Try again.", decode(t, w)["message"])
	})
}

func TestOnboarding(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/onboarding", `{"username":"carol","role":"Founder"}`, "carol")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	profile := ts.repo.Profile("carol")
	require.NotNil(t, profile)
	assert.Equal(t, "carol@example.com", profile.Email)

	w = ts.do(t, http.MethodPost, "/api/onboarding", `{"username":"carol"}`, "carol")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/api/state", "", "carol")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestActivityEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/activity", `{"type":"task","title":"Wrote the docs"}`, "alice")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	item := body["data"].(map[string]interface{})
	assert.Equal(t, "Manual", item["source"])
	assert.Equal(t, "success", body["notification"].(map[string]interface{})["type"])

	w = ts.do(t, http.MethodPost, "/api/activity", `{"type":"task","title":"  "}`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ErrTitleRequired.Error(), decode(t, w)["error"])

	w = ts.do(t, http.MethodPost, "/api/activity", `not json`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/activity/"+item["id"].(string), "", "bob")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/activity/"+item["id"].(string), "", "alice")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSyncCommitsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/integrations/github/sync", "", "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["synced"])

	w = ts.do(t, http.MethodDelete, "/api/activity/gh-aaa111", "", "alice")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/integrations/github/sync", "", "bob")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/integrations/github/sync?async=true", "", "alice")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestDraftPublishing(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/drafts", `{"title":"Launch","platform":"X","status":"Draft"}`, "alice")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["data"].(map[string]interface{})["id"].(string)

	w = ts.do(t, http.MethodPatch, "/api/drafts/"+id, `{"status":"Published"}`, "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/state", "", "alice")
	state := decode(t, w)["state"].(map[string]interface{})
	milestones := 0
	for _, raw := range state["activity"].([]interface{}) {
		if raw.(map[string]interface{})["type"] == string(models.ActivityMilestone) {
			milestones++
		}
	}
	assert.Equal(t, 1, milestones)

	w = ts.do(t, http.MethodPatch, "/api/drafts/"+id, `{}`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFriendRequestEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/friends/requests", `{"toId":"bob"}`, "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/friends/requests", `{"toId":"bob"}`, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "info", decode(t, w)["notification"].(map[string]interface{})["type"])

	w = ts.do(t, http.MethodPost, "/api/friends/requests", `{"toId":"alice"}`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	requestID := models.FriendRequestID("alice", "bob")
	w = ts.do(t, http.MethodPost, "/api/friends/requests/"+requestID+"/accept", "", "bob")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Contains(t, ts.repo.Profile("alice").Friends, "bob")
	assert.Contains(t, ts.repo.Profile("bob").Friends, "alice")

	w = ts.do(t, http.MethodPost, "/api/friends/requests/missing/reject", "", "bob")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTribeEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/tribes", `{"name":"Indie Hackers"}`, "alice")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tribeID := decode(t, w)["data"].(map[string]interface{})["id"].(string)

	w = ts.do(t, http.MethodPost, "/api/tribes/"+tribeID+"/posts", `{"content":"hello"}`, "bob")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/tribes/"+tribeID+"/join", "", "bob")
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/api/tribes/"+tribeID+"/posts", `{"content":"hello"}`, "bob")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	postID := decode(t, w)["data"].(map[string]interface{})["id"].(string)

	w = ts.do(t, http.MethodPost, "/api/tribes/"+tribeID+"/posts/"+postID+"/like", "", "alice")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/tribes/"+tribeID+"/posts", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	posts := decode(t, w)["data"].([]interface{})
	require.Len(t, posts, 1)
	assert.Equal(t, "bob", posts[0].(map[string]interface{})["authorName"])
}

func TestFollowEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/users/bob/follow", "", "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, ts.repo.Profile("bob").Followers, "alice")

	w = ts.do(t, http.MethodDelete, "/api/users/bob/follow", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, ts.repo.Profile("bob").Followers, "alice")
}

func TestDashboardAndNarrative(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/dashboard", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]interface{})
	assert.Equal(t, "idle", stats["insight"].(map[string]interface{})["key"])

	ts.do(t, http.MethodPost, "/api/integrations/github/sync", "", "alice")
	w = ts.do(t, http.MethodPost, "/api/narrative", `{"source":"Recent Commits","vibe":"Hype"}`, "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Shipped the sync engine.", decode(t, w)["data"].(map[string]interface{})["content"])
}

func TestDismissNotification(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/ideas", `{"title":"Dark mode"}`, "alice")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["notification"].(map[string]interface{})["id"].(string)

	w = ts.do(t, http.MethodDelete, "/api/notifications/"+id, "", "alice")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/notifications/"+id, "", "alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
