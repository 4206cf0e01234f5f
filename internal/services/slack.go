package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"atum-server/internal/log"
	"atum-server/internal/models"
	"atum-server/internal/ui"

	"github.com/slack-go/slack"
)

// ErrNothingToPublish is returned for drafts with neither content nor title.
var ErrNothingToPublish = errors.New("draft has no content to publish")

// SlackPublisher posts published drafts to a Slack channel.
type SlackPublisher struct {
	client  *slack.Client
	channel string
}

// NewSlackPublisher creates a SlackPublisher posting to channel.
func NewSlackPublisher(client *slack.Client, channel string) *SlackPublisher {
	return &SlackPublisher{client: client, channel: channel}
}

// Handles reports whether the draft targets this publisher's platform.
func (p *SlackPublisher) Handles(draft *models.DraftItem) bool {
	return strings.EqualFold(draft.Platform, models.PlatformSlack)
}

// Publish posts the draft and returns the message timestamp.
func (p *SlackPublisher) Publish(ctx context.Context, draft *models.DraftItem) (string, error) {
	text := strings.TrimSpace(draft.Content)
	if text == "" {
		text = strings.TrimSpace(draft.Title)
	}
	if text == "" {
		return "", ErrNothingToPublish
	}

	_, timestamp, err := p.client.PostMessageContext(ctx, p.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(ui.DraftMessage(draft)...),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		log.Error(ctx, "Failed to publish draft to Slack",
			"error", err,
			"channel", p.channel,
			"draft_id", draft.ID,
			"operation", "publish_draft_slack",
		)
		return "", fmt.Errorf("failed to publish draft %s to channel %s: %w", draft.ID, p.channel, err)
	}

	log.Info(ctx, "Draft published to Slack",
		"channel", p.channel,
		"draft_id", draft.ID,
		"message_ts", timestamp,
	)
	return timestamp, nil
}
