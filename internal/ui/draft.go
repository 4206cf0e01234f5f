// Package ui contains Slack Block Kit builders.
package ui

import (
	"strings"

	"atum-server/internal/models"

	"github.com/slack-go/slack"
)

// Slack caps header text at 150 characters and section text at 3000.
const (
	maxHeaderLength  = 150
	maxSectionLength = 3000
)

// DraftMessage builds the blocks posted when a draft is published.
func DraftMessage(draft *models.DraftItem) []slack.Block {
	blocks := []slack.Block{}

	if title := strings.TrimSpace(draft.Title); title != "" {
		blocks = append(blocks, slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, truncate(title, maxHeaderLength), true, false),
		))
	}

	if content := strings.TrimSpace(draft.Content); content != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, truncate(content, maxSectionLength), false, false),
			nil, nil,
		))
	}

	var context []string
	if draft.Type != "" {
		context = append(context, "*"+draft.Type+"*")
	}
	context = append(context, "Built in public with Atum")
	blocks = append(blocks, slack.NewContextBlock(
		"",
		slack.NewTextBlockObject(slack.MarkdownType, strings.Join(context, " · "), false, false),
	))

	return blocks
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
