package services

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedEventType = errors.New("unsupported event type")
	ErrMissingRepository    = errors.New("missing required field: repository")
	ErrMissingCommits       = errors.New("missing required field: commits")
)

// Webhook event types the service accepts.
const (
	EventPush = "push"
	EventPing = "ping"
)

type ValidationService struct{}

func NewValidationService() *ValidationService {
	return &ValidationService{}
}

// ValidateWebhookPayload checks the shape of a GitHub webhook body before it is queued.
func (vs *ValidationService) ValidateWebhookPayload(eventType string, payload []byte) error {
	switch eventType {
	case EventPush:
		return vs.validatePushPayload(payload)
	case EventPing:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, eventType)
	}
}

func (vs *ValidationService) validatePushPayload(payload []byte) error {
	var pushPayload map[string]interface{}
	if err := json.Unmarshal(payload, &pushPayload); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}

	if _, exists := pushPayload["repository"]; !exists {
		return ErrMissingRepository
	}

	if _, exists := pushPayload["commits"]; !exists {
		return ErrMissingCommits
	}

	return nil
}
