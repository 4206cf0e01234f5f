package services

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"atum-server/internal/config"
	"atum-server/internal/models"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCompletionURL = "https://completion.test/v1/chat/completions"

func newTestCompletion(t *testing.T, apiKey string) *CompletionService {
	t.Helper()

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	return NewCompletionService(config.CompletionConfig{
		APIKey:      apiKey,
		URL:         testCompletionURL,
		Model:       "test-model",
		Temperature: 0.7,
	}, httpClient, 5*time.Second)
}

func TestCompletionService_Generate(t *testing.T) {
	svc := newTestCompletion(t, "key-123")

	var captured completionRequest
	httpmock.RegisterResponder(http.MethodPost, testCompletionURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer key-123", req.Header.Get("Authorization"))
			if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
				return nil, err
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"choices": []map[string]interface{}{
					{"message": map[string]interface{}{"role": "assistant", "content": "Shipped it. #BuildInPublic"}},
				},
			})
		})

	text, err := svc.Generate(context.Background(), "write something")
	require.NoError(t, err)

	assert.Equal(t, "Shipped it. #BuildInPublic", text)
	assert.Equal(t, "test-model", captured.Model)
	assert.InDelta(t, 0.7, captured.Temperature, 0.0001)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Equal(t, "write something", captured.Messages[1].Content)
}

func TestCompletionService_PlaceholderWithoutKey(t *testing.T) {
	svc := newTestCompletion(t, "")

	text, err := svc.Generate(context.Background(), "anything")
	require.NoError(t, err)

	assert.Equal(t, PlaceholderNarrative, text)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestCompletionService_Errors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		err       error
	}{
		{
			name: "api error",
			responder: httpmock.NewJsonResponderOrPanic(http.StatusUnauthorized, map[string]interface{}{
				"error": map[string]interface{}{"message": "bad key", "type": "invalid_request_error"},
			}),
			err: ErrCompletionFailed,
		},
		{
			name:      "no choices",
			responder: httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{"choices": []interface{}{}}),
			err:       ErrEmptyCompletion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestCompletion(t, "key")
			httpmock.RegisterResponder(http.MethodPost, testCompletionURL, tt.responder)

			_, err := svc.Generate(context.Background(), "prompt")
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestBuildNarrativePrompt(t *testing.T) {
	activity := []*models.ActivityItem{
		{Type: models.ActivityCommit, Title: "Add insight panel", Desc: "Ada"},
		{Type: models.ActivityNote, Title: "Call with designer"},
		{Type: models.ActivityCommit, Title: "Fix streak"},
	}

	prompt, err := BuildNarrativePrompt(SourceRecentCommits, "Hype", activity)
	require.NoError(t, err)
	assert.Contains(t, prompt, "hype")
	assert.Contains(t, prompt, "- Add insight panel: Ada")
	assert.Contains(t, prompt, "- Fix streak")
	assert.NotContains(t, prompt, "designer")

	prompt, err = BuildNarrativePrompt(SourceCompletedTasks, "", activity)
	require.NoError(t, err)
	assert.Contains(t, prompt, "technical")
	assert.Contains(t, prompt, "getting started")

	_, err = BuildNarrativePrompt("Tweets", "Hype", activity)
	assert.ErrorIs(t, err, models.ErrNarrativeSourceMissing)
}
