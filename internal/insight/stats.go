package insight

import (
	"time"

	"atum-server/internal/models"
)

// Stats bundles the dashboard numbers.
type Stats struct {
	Insight       Insight `json:"insight"`
	Velocity      int     `json:"velocity"`
	Streak        int     `json:"streak"`
	Uptime        string  `json:"uptime"`
	PendingDrafts int     `json:"pendingDrafts"`
	TotalActivity int     `json:"totalActivity"`
}

// Compute derives the dashboard for a profile and its collections.
func Compute(profile *models.UserProfile, activity []*models.ActivityItem, drafts []*models.DraftItem, now time.Time) Stats {
	var createdAt time.Time
	if profile != nil {
		createdAt = profile.CreatedAt
	}
	return Stats{
		Insight:       Select(activity, drafts),
		Velocity:      Velocity(activity, now),
		Streak:        Streak(activity),
		Uptime:        Uptime(createdAt, now),
		PendingDrafts: len(PendingDrafts(drafts)),
		TotalActivity: len(activity),
	}
}
