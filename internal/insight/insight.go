// Package insight derives dashboard numbers and the daily insight from a user's activity and drafts.
package insight

import (
	"fmt"
	"sort"
	"time"

	"atum-server/internal/models"
)

// Insight keys, in evaluation order.
const (
	KeyIdle     = "idle"
	KeyBacklog  = "backlog"
	KeyCodeFlow = "code_flow"
	KeyMomentum = "momentum"
	KeySteady   = "steady"
)

const (
	recentWindow     = 10
	backlogThreshold = 3
	velocityWindow   = 7 * 24 * time.Hour
)

// Insight is a short suggestion selected from recent activity.
type Insight struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// Select picks the insight for an activity log ordered newest first.
func Select(activity []*models.ActivityItem, drafts []*models.DraftItem) Insight {
	if len(activity) == 0 {
		return Insight{
			Key:     KeyIdle,
			Title:   "Systems Idle",
			Message: "Initialize your first activity or draft to generate insights.",
			Action:  "Start Building",
		}
	}

	pending := PendingDrafts(drafts)
	if len(pending) > backlogThreshold {
		next := "one"
		if oldest := Oldest(pending); oldest.Title != "" {
			next = oldest.Title
		}
		return Insight{
			Key:     KeyBacklog,
			Title:   "Backlog Growing",
			Message: fmt.Sprintf("You have %d pending drafts. Focus on finishing %q today.", len(pending), next),
			Action:  "View Drafts",
		}
	}

	switch TopType(activity) {
	case models.ActivityCommit:
		return Insight{
			Key:     KeyCodeFlow,
			Title:   "Code Flow",
			Message: "High coding velocity detected. Consider documenting your progress in a new draft.",
			Action:  "Create Log",
		}
	case models.ActivityMilestone:
		return Insight{
			Key:     KeyMomentum,
			Title:   "Momentum Spike",
			Message: "You're hitting milestones. Good time to share an update with your tribe.",
			Action:  "Share Update",
		}
	}

	return Insight{
		Key:     KeySteady,
		Title:   "Steady Progress",
		Message: fmt.Sprintf("You've logged %d activities. Consistency is key. Keep building.", len(activity)),
		Action:  "Track Activity",
	}
}

// TopType returns the most frequent type among the most recent entries.
// Ties go to the lexicographically smallest type name.
func TopType(activity []*models.ActivityItem) models.ActivityType {
	recent := activity
	if len(recent) > recentWindow {
		recent = recent[:recentWindow]
	}

	counts := make(map[models.ActivityType]int)
	for _, item := range recent {
		counts[item.Type]++
	}

	types := make([]models.ActivityType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})

	if len(types) == 0 {
		return ""
	}
	return types[0]
}

// PendingDrafts returns drafts still in Draft or Scripted status, in input order.
func PendingDrafts(drafts []*models.DraftItem) []*models.DraftItem {
	var pending []*models.DraftItem
	for _, d := range drafts {
		if d.Status.Pending() {
			pending = append(pending, d)
		}
	}
	return pending
}

// Oldest returns the draft created first. Drafts without a creation time lose to dated
// ones, and input order decides between equals.
func Oldest(drafts []*models.DraftItem) *models.DraftItem {
	if len(drafts) == 0 {
		return nil
	}
	oldest := drafts[0]
	for _, d := range drafts[1:] {
		if d.CreatedAt.IsZero() {
			continue
		}
		if oldest.CreatedAt.IsZero() || d.CreatedAt.Before(oldest.CreatedAt) {
			oldest = d
		}
	}
	return oldest
}

// Velocity counts activity logged within the last seven days, including unresolved "Just now" items.
func Velocity(activity []*models.ActivityItem, now time.Time) int {
	cutoff := now.Add(-velocityWindow)
	count := 0
	for _, item := range activity {
		if item.Time == models.JustNow {
			count++
			continue
		}
		at, ok := activityTime(item)
		if !ok {
			continue
		}
		if !at.Before(cutoff) {
			count++
		}
	}
	return count
}

// Streak counts distinct display days in the log.
func Streak(activity []*models.ActivityItem) int {
	days := make(map[string]struct{})
	for _, item := range activity {
		day := item.Time
		if day == "" {
			day = models.DisplayTime(item.CreatedAt)
		}
		days[day] = struct{}{}
	}
	return len(days)
}

// Uptime formats the time since account creation as "{days}d {hours}h {minutes}m".
func Uptime(createdAt, now time.Time) string {
	d := now.Sub(createdAt)
	if createdAt.IsZero() || d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}

func activityTime(item *models.ActivityItem) (time.Time, bool) {
	if !item.CreatedAt.IsZero() {
		return item.CreatedAt, true
	}
	if item.Time == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(models.DisplayDateLayout, item.Time)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
