package store

import (
	"sync"
	"time"

	"atum-server/internal/models"

	"github.com/google/uuid"
)

// Notifications is a queue of transient user-facing messages.
type Notifications struct {
	mu              sync.Mutex
	items           []*models.Notification
	defaultDuration time.Duration
	now             func() time.Time
}

// NewNotifications creates a queue whose notifications last defaultDuration unless given one.
func NewNotifications(defaultDuration time.Duration, now func() time.Time) *Notifications {
	if now == nil {
		now = time.Now
	}
	return &Notifications{defaultDuration: defaultDuration, now: now}
}

// Add queues a notification with the default duration.
func (n *Notifications) Add(notificationType models.NotificationType, title, message string) *models.Notification {
	return n.AddWithDuration(notificationType, title, message, n.defaultDuration)
}

// AddWithDuration queues a notification. A zero duration keeps it until dismissed.
func (n *Notifications) AddWithDuration(
	notificationType models.NotificationType, title, message string, duration time.Duration,
) *models.Notification {
	notification := &models.Notification{
		ID:        uuid.New().String(),
		Type:      notificationType,
		Title:     title,
		Message:   message,
		Duration:  duration,
		CreatedAt: n.now(),
	}

	n.mu.Lock()
	n.items = append(n.items, notification)
	n.mu.Unlock()

	return notification
}

// List returns the notifications still showing, dropping expired ones.
func (n *Notifications) List() []*models.Notification {
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()

	live := n.items[:0]
	for _, item := range n.items {
		if !item.Expired(now) {
			live = append(live, item)
		}
	}
	n.items = live

	return append([]*models.Notification{}, live...)
}

// Dismiss removes a notification. Reports whether it was present.
func (n *Notifications) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return true
		}
	}
	return false
}
