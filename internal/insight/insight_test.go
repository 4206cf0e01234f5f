package insight

import (
	"testing"
	"time"

	"atum-server/internal/models"

	"github.com/stretchr/testify/assert"
)

func activityOfTypes(types ...models.ActivityType) []*models.ActivityItem {
	items := make([]*models.ActivityItem, 0, len(types))
	for _, t := range types {
		items = append(items, &models.ActivityItem{Type: t, Title: string(t)})
	}
	return items
}

func repeat(t models.ActivityType, n int) []models.ActivityType {
	out := make([]models.ActivityType, n)
	for i := range out {
		out[i] = t
	}
	return out
}

func TestSelect(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	// Newest first, the order drafts are listed in.
	fourDrafts := []*models.DraftItem{
		{Title: "Newest", Status: models.DraftStatusDraft, CreatedAt: day.Add(72 * time.Hour)},
		{Title: "Second", Status: models.DraftStatusDraft, CreatedAt: day.Add(48 * time.Hour)},
		{Title: "Third", Status: models.DraftStatusDraft, CreatedAt: day.Add(24 * time.Hour)},
		{Title: "Oldest", Status: models.DraftStatusDraft, CreatedAt: day},
	}

	tests := []struct {
		name     string
		activity []*models.ActivityItem
		drafts   []*models.DraftItem
		key      string
		contains string
	}{
		{
			name: "empty log is idle",
			key:  KeyIdle,
		},
		{
			name:   "empty log is idle even with a backlog",
			drafts: fourDrafts,
			key:    KeyIdle,
		},
		{
			name:     "more than three pending drafts is a backlog naming the oldest",
			activity: activityOfTypes(models.ActivityNote),
			drafts:   fourDrafts,
			key:      KeyBacklog,
			contains: `"Oldest"`,
		},
		{
			name:     "exactly three pending drafts is not a backlog",
			activity: activityOfTypes(models.ActivityNote),
			drafts:   fourDrafts[:3],
			key:      KeySteady,
		},
		{
			name:     "ready and published drafts are not pending",
			activity: activityOfTypes(models.ActivityNote),
			drafts: []*models.DraftItem{
				{Title: "a", Status: models.DraftStatusReady},
				{Title: "b", Status: models.DraftStatusReady},
				{Title: "c", Status: models.DraftStatusPublished},
				{Title: "d", Status: models.DraftStatusScripted},
			},
			key: KeySteady,
		},
		{
			name:     "mostly commits in the last ten is code flow",
			activity: activityOfTypes(append(repeat(models.ActivityCommit, 6), repeat(models.ActivityNote, 4)...)...),
			key:      KeyCodeFlow,
		},
		{
			name:     "mostly milestones is momentum",
			activity: activityOfTypes(models.ActivityMilestone, models.ActivityMilestone, models.ActivityTask),
			key:      KeyMomentum,
		},
		{
			name:     "only the ten most recent entries count",
			activity: activityOfTypes(append(repeat(models.ActivityTask, 10), repeat(models.ActivityCommit, 20)...)...),
			key:      KeySteady,
			contains: "30 activities",
		},
		{
			name:     "ties break lexicographically so commit beats task",
			activity: activityOfTypes(models.ActivityTask, models.ActivityCommit),
			key:      KeyCodeFlow,
		},
		{
			name:     "ties break lexicographically so milestone beats note",
			activity: activityOfTypes(models.ActivityNote, models.ActivityMilestone),
			key:      KeyMomentum,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tt.activity, tt.drafts)
			assert.Equal(t, tt.key, got.Key)
			if tt.contains != "" {
				assert.Contains(t, got.Message, tt.contains)
			}
		})
	}
}

func TestVelocity(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	activity := []*models.ActivityItem{
		{Title: "recent", CreatedAt: now.Add(-48 * time.Hour), Time: models.DisplayTime(now.Add(-48 * time.Hour))},
		{Title: "old", CreatedAt: now.Add(-240 * time.Hour), Time: models.DisplayTime(now.Add(-240 * time.Hour))},
		{Title: "pending", Time: models.JustNow},
	}

	assert.Equal(t, 2, Velocity(activity, now))
}

func TestVelocity_ParsesDisplayTimeWithoutTimestamp(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	activity := []*models.ActivityItem{
		{Time: "2026-05-18"},
		{Time: "2026-05-01"},
		{Time: "not a date"},
	}

	assert.Equal(t, 1, Velocity(activity, now))
}

func TestStreak_CountsDistinctDays(t *testing.T) {
	activity := []*models.ActivityItem{
		{Time: "2026-05-18"},
		{Time: "2026-05-18"},
		{Time: "2026-05-19"},
		{CreatedAt: time.Date(2026, 5, 20, 8, 0, 0, 0, time.UTC)},
	}

	assert.Equal(t, 3, Streak(activity))
	assert.Equal(t, 0, Streak(nil))
}

func TestUptime(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "3d 4h 5m", Uptime(created, created.Add(3*24*time.Hour+4*time.Hour+5*time.Minute+30*time.Second)))
	assert.Equal(t, "0d 0h 0m", Uptime(created, created.Add(-time.Hour)))
	assert.Equal(t, "0d 0h 0m", Uptime(time.Time{}, created))
}

func TestCompute(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	profile := &models.UserProfile{CreatedAt: now.Add(-25 * time.Hour)}
	activity := []*models.ActivityItem{{Type: models.ActivityCommit, Time: models.JustNow}}
	drafts := []*models.DraftItem{{Title: "x", Status: models.DraftStatusDraft}}

	stats := Compute(profile, activity, drafts, now)

	assert.Equal(t, KeyCodeFlow, stats.Insight.Key)
	assert.Equal(t, 1, stats.Velocity)
	assert.Equal(t, 1, stats.Streak)
	assert.Equal(t, "1d 1h 0m", stats.Uptime)
	assert.Equal(t, 1, stats.PendingDrafts)
	assert.Equal(t, 1, stats.TotalActivity)
}

func TestOldest(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	assert.Nil(t, Oldest(nil))

	undated := []*models.DraftItem{{Title: "a"}, {Title: "b"}}
	assert.Equal(t, "a", Oldest(undated).Title)

	mixed := []*models.DraftItem{
		{Title: "undated"},
		{Title: "later", CreatedAt: day.Add(time.Hour)},
		{Title: "earlier", CreatedAt: day},
		{Title: "tie", CreatedAt: day},
	}
	assert.Equal(t, "earlier", Oldest(mixed).Title)
}
