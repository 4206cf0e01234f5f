package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"atum-server/internal/config"
	"atum-server/internal/log"
	"atum-server/internal/models"
)

// Narrative sources and the activity type each one draws from.
const (
	SourceRecentCommits  = "Recent Commits"
	SourceCompletedTasks = "Completed Tasks"
	SourceMeetingNotes   = "Meeting Notes"
)

var narrativeSourceTypes = map[string]models.ActivityType{
	SourceRecentCommits:  models.ActivityCommit,
	SourceCompletedTasks: models.ActivityTask,
	SourceMeetingNotes:   models.ActivityNote,
}

const (
	defaultVibe          = "Technical"
	maxPromptItems       = 10
	completionSystemRole = "You write short build-in-public social media updates for indie developers."
)

// PlaceholderNarrative is returned when no completion API key is configured.
const PlaceholderNarrative = "🚀 Just shipped a major update to the core engine!\n\n" +
	"Optimized the rendering pipeline by 40% using a new virtual DOM strategy. " +
	"This was a tricky refactor but totally worth it for the performance gains.\n\n" +
	"#BuildInPublic #React #Performance"

var (
	ErrCompletionFailed = errors.New("completion request failed")
	ErrEmptyCompletion  = errors.New("completion returned no choices")
)

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string              `json:"model"`
	Messages    []completionMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// CompletionService calls a hosted chat-completion endpoint.
type CompletionService struct {
	cfg        config.CompletionConfig
	httpClient *http.Client
}

// NewCompletionService creates a CompletionService. The client's timeout bounds every request.
func NewCompletionService(cfg config.CompletionConfig, httpClient *http.Client, timeout time.Duration) *CompletionService {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout > 0 {
		client := *httpClient
		client.Timeout = timeout
		httpClient = &client
	}
	return &CompletionService{cfg: cfg, httpClient: httpClient}
}

// Enabled reports whether an API key is configured.
func (s *CompletionService) Enabled() bool {
	return s.cfg.APIKey != ""
}

// Generate returns the completion text for prompt. Without an API key it returns
// PlaceholderNarrative instead of failing.
func (s *CompletionService) Generate(ctx context.Context, prompt string) (string, error) {
	if !s.Enabled() {
		log.Debug(ctx, "Completion API key not configured, returning placeholder")
		return PlaceholderNarrative, nil
	}

	body, err := json.Marshal(completionRequest{
		Model: s.cfg.Model,
		Messages: []completionMessage{
			{Role: "system", Content: completionSystemRole},
			{Role: "user", Content: prompt},
		},
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Error(ctx, "Completion request failed",
			"error", err,
			"model", s.cfg.Model,
			"operation", "generate_completion",
		)
		return "", fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed completionResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)

	if resp.StatusCode != http.StatusOK {
		detail := ""
		if decodeErr == nil && parsed.Error != nil {
			detail = parsed.Error.Message
		}
		log.Error(ctx, "Completion API returned an error",
			"status", resp.StatusCode,
			"detail", detail,
			"model", s.cfg.Model,
			"operation", "generate_completion",
		)
		return "", fmt.Errorf("%w: status %d %s", ErrCompletionFailed, resp.StatusCode, detail)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", decodeErr)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	return parsed.Choices[0].Message.Content, nil
}

// BuildNarrativePrompt assembles the prompt for a narrative from the activity matching source.
func BuildNarrativePrompt(source, vibe string, activity []*models.ActivityItem) (string, error) {
	activityType, ok := narrativeSourceTypes[source]
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrNarrativeSourceMissing, source)
	}
	if strings.TrimSpace(vibe) == "" {
		vibe = defaultVibe
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s build-in-public update based on my %s.\n", strings.ToLower(vibe), strings.ToLower(source))
	b.WriteString("Keep it under 280 characters per paragraph and end with relevant hashtags.\n\n")

	count := 0
	for _, item := range activity {
		if item.Type != activityType {
			continue
		}
		fmt.Fprintf(&b, "- %s", item.Title)
		if item.Desc != "" {
			fmt.Fprintf(&b, ": %s", item.Desc)
		}
		b.WriteString("\n")
		count++
		if count == maxPromptItems {
			break
		}
	}
	if count == 0 {
		b.WriteString("- (nothing logged yet, write about getting started)\n")
	}

	return b.String(), nil
}
