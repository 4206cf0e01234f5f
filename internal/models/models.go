package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrTitleRequired          = errors.New("title is required")
	ErrUsernameRequired       = errors.New("username is required")
	ErrInvalidActivityType    = errors.New("activity type must be commit, task, note or milestone")
	ErrInvalidDraftStatus     = errors.New("draft status must be Draft, Ready, Scripted or Published")
	ErrTribeNameRequired      = errors.New("tribe name is required")
	ErrPostContentRequired    = errors.New("post content is required")
	ErrTargetUserRequired     = errors.New("target user is required")
	ErrSelfRelation           = errors.New("cannot follow or befriend yourself")
	ErrRepoRequired           = errors.New("repository is required")
	ErrInvalidRepoFormat      = errors.New("repository must be in owner/name form")
	ErrJobIDRequired          = errors.New("job ID is required")
	ErrJobTypeRequired        = errors.New("job type is required")
	ErrPayloadRequired        = errors.New("payload is required")
	ErrUnsupportedJobType     = errors.New("unsupported job type")
	ErrUserIDRequired         = errors.New("user ID is required")
	ErrTraceIDRequired        = errors.New("trace ID is required")
	ErrNoCommitsInPush        = errors.New("push event has no commits")
	ErrEmptyPatch             = errors.New("patch has no fields to update")
	ErrNarrativeSourceMissing = errors.New("narrative source is required")
)

// JustNow is the display time of records whose server timestamp has not been resolved yet.
const JustNow = "Just now"

// DisplayDateLayout is the date-only display format for record times.
const DisplayDateLayout = "2006-01-02"

// DisplayTime renders a creation timestamp as a date-only string.
func DisplayTime(t time.Time) string {
	if t.IsZero() {
		return JustNow
	}
	return t.UTC().Format(DisplayDateLayout)
}

// ActivityType is the kind of a logged activity.
type ActivityType string

// Activity types.
const (
	ActivityCommit    ActivityType = "commit"
	ActivityTask      ActivityType = "task"
	ActivityNote      ActivityType = "note"
	ActivityMilestone ActivityType = "milestone"
)

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityCommit, ActivityTask, ActivityNote, ActivityMilestone:
		return true
	}
	return false
}

// Activity sources. Source is free text; these are the values the server writes itself.
const (
	SourceManual = "Manual"
	SourceGitHub = "GitHub"
	SourceSystem = "System"
)

// ActivityItem is a single logged user action shown in the activity feed.
type ActivityItem struct {
	ID        string       `firestore:"id"          json:"id"`
	UserID    string       `firestore:"userId"      json:"userId"`
	Type      ActivityType `firestore:"type"        json:"type"`
	Source    string       `firestore:"source"      json:"source"`
	Title     string       `firestore:"title"       json:"title"`
	Desc      string       `firestore:"description" json:"desc,omitempty"`
	Details   string       `firestore:"details"     json:"details,omitempty"`
	URL       string       `firestore:"url"         json:"url,omitempty"`
	Time      string       `firestore:"-"           json:"time"`
	CreatedAt time.Time    `firestore:"createdAt"   json:"createdAt"`
}

// IsCommit reports whether the item came from commit sync. Those items cannot be deleted by users.
func (a *ActivityItem) IsCommit() bool {
	return a.Type == ActivityCommit && a.Source == SourceGitHub
}

// Validate validates required fields for ActivityItem.
func (a *ActivityItem) Validate() error {
	if strings.TrimSpace(a.Title) == "" {
		return ErrTitleRequired
	}
	if !a.Type.Valid() {
		return ErrInvalidActivityType
	}
	return nil
}

// IdeaItem is a captured idea in the parking lot.
type IdeaItem struct {
	ID        string    `firestore:"id"          json:"id"`
	UserID    string    `firestore:"userId"      json:"userId"`
	Title     string    `firestore:"title"       json:"title"`
	Desc      string    `firestore:"description" json:"desc"`
	Tags      []string  `firestore:"tags"        json:"tags"`
	Date      string    `firestore:"-"           json:"date"`
	CreatedAt time.Time `firestore:"createdAt"   json:"createdAt"`
}

// Validate validates required fields for IdeaItem.
func (i *IdeaItem) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return ErrTitleRequired
	}
	return nil
}

// DraftStatus is the lifecycle state of a draft.
type DraftStatus string

// Draft statuses.
const (
	DraftStatusDraft     DraftStatus = "Draft"
	DraftStatusReady     DraftStatus = "Ready"
	DraftStatusScripted  DraftStatus = "Scripted"
	DraftStatusPublished DraftStatus = "Published"
)

// Valid reports whether s is a known draft status.
func (s DraftStatus) Valid() bool {
	switch s {
	case DraftStatusDraft, DraftStatusReady, DraftStatusScripted, DraftStatusPublished:
		return true
	}
	return false
}

// Pending reports whether a draft in this status still needs work.
func (s DraftStatus) Pending() bool {
	return s == DraftStatusDraft || s == DraftStatusScripted
}

// PlatformSlack is the draft platform that is posted to Slack when published.
const PlatformSlack = "Slack"

// DraftItem is a piece of social content in progress.
type DraftItem struct {
	ID        string      `firestore:"id"        json:"id"`
	UserID    string      `firestore:"userId"    json:"userId"`
	Title     string      `firestore:"title"     json:"title"`
	Type      string      `firestore:"type"      json:"type"`
	Platform  string      `firestore:"platform"  json:"platform"`
	Status    DraftStatus `firestore:"status"    json:"status"`
	Content   string      `firestore:"content"   json:"content,omitempty"`
	CreatedAt time.Time   `firestore:"createdAt" json:"createdAt"`
	UpdatedAt time.Time   `firestore:"updatedAt" json:"updatedAt"`
}

// Validate validates required fields for DraftItem. An empty status defaults to Draft.
func (d *DraftItem) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrTitleRequired
	}
	if d.Status == "" {
		d.Status = DraftStatusDraft
	}
	if !d.Status.Valid() {
		return ErrInvalidDraftStatus
	}
	return nil
}

// DraftPatch is a partial update of a draft. Nil fields are left unchanged.
type DraftPatch struct {
	Title    *string      `json:"title,omitempty"`
	Type     *string      `json:"type,omitempty"`
	Platform *string      `json:"platform,omitempty"`
	Status   *DraftStatus `json:"status,omitempty"`
	Content  *string      `json:"content,omitempty"`
}

// Validate validates the patch.
func (p DraftPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrTitleRequired
	}
	if p.Status != nil && !p.Status.Valid() {
		return ErrInvalidDraftStatus
	}
	if len(p.Fields()) == 0 {
		return ErrEmptyPatch
	}
	return nil
}

// Fields returns the Firestore field updates described by the patch.
func (p DraftPatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if p.Title != nil {
		fields["title"] = *p.Title
	}
	if p.Type != nil {
		fields["type"] = *p.Type
	}
	if p.Platform != nil {
		fields["platform"] = *p.Platform
	}
	if p.Status != nil {
		fields["status"] = string(*p.Status)
	}
	if p.Content != nil {
		fields["content"] = *p.Content
	}
	return fields
}

// Apply merges the patch into d.
func (p DraftPatch) Apply(d *DraftItem) {
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Type != nil {
		d.Type = *p.Type
	}
	if p.Platform != nil {
		d.Platform = *p.Platform
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.Content != nil {
		d.Content = *p.Content
	}
}

// Socials holds the user's social handles.
type Socials struct {
	Twitter  string `firestore:"twitter"  json:"twitter"`
	GitHub   string `firestore:"github"   json:"github"`
	LinkedIn string `firestore:"linkedin" json:"linkedin"`
	YouTube  string `firestore:"youtube"  json:"youtube"`
	Website  string `firestore:"website"  json:"website"`
}

// GitHubConfig is the commit-sync integration configured in settings.
type GitHubConfig struct {
	Repo     string `firestore:"repo"  json:"repo"`
	Token    string `firestore:"token" json:"token,omitempty"`
	HasToken bool   `firestore:"-"     json:"hasToken"`
}

// OwnerAndName splits the configured repository into owner and name.
func (g GitHubConfig) OwnerAndName() (string, string, error) {
	if strings.TrimSpace(g.Repo) == "" {
		return "", "", ErrRepoRequired
	}
	parts := strings.Split(strings.TrimSpace(g.Repo), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidRepoFormat
	}
	return parts[0], parts[1], nil
}

// ProfileStats is a coarse stats bag shown on the profile.
type ProfileStats struct {
	Reach string `firestore:"reach" json:"reach"`
}

// UserProfile holds identity, social graph and integration settings for a user.
type UserProfile struct {
	ID                string       `firestore:"id"                json:"id"`
	Email             string       `firestore:"email"             json:"email,omitempty"`
	Username          string       `firestore:"username"          json:"username"`
	Bio               string       `firestore:"bio"               json:"bio"`
	Role              string       `firestore:"role"              json:"role"`
	Phase             string       `firestore:"phase"             json:"phase,omitempty"`
	CurrentlyBuilding string       `firestore:"currentlyBuilding" json:"currentlyBuilding,omitempty"`
	Banner            string       `firestore:"banner"            json:"banner,omitempty"`
	AvatarURL         string       `firestore:"avatarUrl"         json:"avatarUrl,omitempty"`
	Socials           Socials      `firestore:"socials"           json:"socials"`
	TechStack         []string     `firestore:"techStack"         json:"techStack"`
	Following         []string     `firestore:"following"         json:"following"`
	Followers         []string     `firestore:"followers"         json:"followers"`
	Friends           []string     `firestore:"friends"           json:"friends"`
	GitHubConfig      GitHubConfig `firestore:"githubConfig"      json:"githubConfig"`
	Stats             ProfileStats `firestore:"stats"             json:"stats"`
	CreatedAt         time.Time    `firestore:"createdAt"         json:"createdAt"`
	UpdatedAt         time.Time    `firestore:"updatedAt"         json:"updatedAt"`
}

// Validate validates required fields for UserProfile.
func (p *UserProfile) Validate() error {
	if p.ID == "" {
		return ErrUserIDRequired
	}
	if strings.TrimSpace(p.Username) == "" {
		return ErrUsernameRequired
	}
	return nil
}

// Public returns a copy safe to send to clients: the GitHub token is replaced by HasToken.
func (p *UserProfile) Public() *UserProfile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.GitHubConfig.HasToken = p.GitHubConfig.Token != ""
	cp.GitHubConfig.Token = ""
	return &cp
}

// ProfilePatch is a partial profile update from the settings or profile-edit forms.
type ProfilePatch struct {
	Username          *string       `json:"username,omitempty"`
	Bio               *string       `json:"bio,omitempty"`
	Role              *string       `json:"role,omitempty"`
	Phase             *string       `json:"phase,omitempty"`
	CurrentlyBuilding *string       `json:"currentlyBuilding,omitempty"`
	Banner            *string       `json:"banner,omitempty"`
	AvatarURL         *string       `json:"avatarUrl,omitempty"`
	Socials           *Socials      `json:"socials,omitempty"`
	TechStack         []string      `json:"techStack,omitempty"`
	GitHubConfig      *GitHubConfig `json:"githubConfig,omitempty"`
	Stats             *ProfileStats `json:"stats,omitempty"`
}

// Validate validates the patch.
func (p ProfilePatch) Validate() error {
	if p.Username != nil && strings.TrimSpace(*p.Username) == "" {
		return ErrUsernameRequired
	}
	if p.GitHubConfig != nil && strings.TrimSpace(p.GitHubConfig.Repo) != "" {
		if _, _, err := p.GitHubConfig.OwnerAndName(); err != nil {
			return err
		}
	}
	if len(p.Fields()) == 0 {
		return ErrEmptyPatch
	}
	return nil
}

// Fields returns the Firestore field updates described by the patch.
// An empty GitHub token keeps the stored one, so the settings form never has to echo it back.
func (p ProfilePatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if p.Username != nil {
		fields["username"] = strings.TrimSpace(*p.Username)
	}
	if p.Bio != nil {
		fields["bio"] = *p.Bio
	}
	if p.Role != nil {
		fields["role"] = *p.Role
	}
	if p.Phase != nil {
		fields["phase"] = *p.Phase
	}
	if p.CurrentlyBuilding != nil {
		fields["currentlyBuilding"] = *p.CurrentlyBuilding
	}
	if p.Banner != nil {
		fields["banner"] = *p.Banner
	}
	if p.AvatarURL != nil {
		fields["avatarUrl"] = *p.AvatarURL
	}
	if p.Socials != nil {
		fields["socials"] = *p.Socials
	}
	if p.TechStack != nil {
		fields["techStack"] = p.TechStack
	}
	if p.GitHubConfig != nil {
		fields["githubConfig.repo"] = strings.TrimSpace(p.GitHubConfig.Repo)
		if p.GitHubConfig.Token != "" {
			fields["githubConfig.token"] = p.GitHubConfig.Token
		}
	}
	if p.Stats != nil {
		fields["stats"] = *p.Stats
	}
	return fields
}

// Apply merges the patch into profile.
func (p ProfilePatch) Apply(profile *UserProfile) {
	if p.Username != nil {
		profile.Username = strings.TrimSpace(*p.Username)
	}
	if p.Bio != nil {
		profile.Bio = *p.Bio
	}
	if p.Role != nil {
		profile.Role = *p.Role
	}
	if p.Phase != nil {
		profile.Phase = *p.Phase
	}
	if p.CurrentlyBuilding != nil {
		profile.CurrentlyBuilding = *p.CurrentlyBuilding
	}
	if p.Banner != nil {
		profile.Banner = *p.Banner
	}
	if p.AvatarURL != nil {
		profile.AvatarURL = *p.AvatarURL
	}
	if p.Socials != nil {
		profile.Socials = *p.Socials
	}
	if p.TechStack != nil {
		profile.TechStack = append([]string(nil), p.TechStack...)
	}
	if p.GitHubConfig != nil {
		profile.GitHubConfig.Repo = strings.TrimSpace(p.GitHubConfig.Repo)
		if p.GitHubConfig.Token != "" {
			profile.GitHubConfig.Token = p.GitHubConfig.Token
		}
	}
	if p.Stats != nil {
		profile.Stats = *p.Stats
	}
}

// Tribe is a user-created community with its own post feed.
type Tribe struct {
	ID          string    `firestore:"id"          json:"id"`
	Name        string    `firestore:"name"        json:"name"`
	Description string    `firestore:"description" json:"description"`
	Banner      string    `firestore:"banner"      json:"banner,omitempty"`
	Members     []string  `firestore:"members"     json:"members"`
	CreatedBy   string    `firestore:"createdBy"   json:"createdBy"`
	CreatedAt   time.Time `firestore:"createdAt"   json:"createdAt"`
}

// HasMember reports whether userID belongs to the tribe.
func (t *Tribe) HasMember(userID string) bool {
	return Contains(t.Members, userID)
}

// Validate validates required fields for Tribe.
func (t *Tribe) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrTribeNameRequired
	}
	return nil
}

// TribePost is a message in a tribe's feed. AuthorName is captured at write time.
type TribePost struct {
	ID         string    `firestore:"id"         json:"id"`
	TribeID    string    `firestore:"tribeId"    json:"tribeId"`
	AuthorID   string    `firestore:"authorId"   json:"authorId"`
	AuthorName string    `firestore:"authorName" json:"authorName"`
	Content    string    `firestore:"content"    json:"content"`
	Likes      []string  `firestore:"likes"      json:"likes"`
	CreatedAt  time.Time `firestore:"createdAt"  json:"createdAt"`
}

// Validate validates required fields for TribePost.
func (p *TribePost) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return ErrPostContentRequired
	}
	return nil
}

// FriendRequestStatus is the state of a friend request.
type FriendRequestStatus string

// Friend request statuses.
const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestRejected FriendRequestStatus = "rejected"
)

// FriendRequest links a sender and a recipient until it is accepted or rejected.
type FriendRequest struct {
	ID        string              `firestore:"id"        json:"id"`
	FromID    string              `firestore:"fromId"    json:"fromId"`
	FromName  string              `firestore:"fromName"  json:"fromName,omitempty"`
	ToID      string              `firestore:"toId"      json:"toId"`
	Status    FriendRequestStatus `firestore:"status"    json:"status"`
	CreatedAt time.Time           `firestore:"createdAt" json:"createdAt"`
}

// FriendRequestID is the deterministic document ID of a request, so a sender cannot create duplicates.
func FriendRequestID(fromID, toID string) string {
	return fromID + "_" + toID
}

// NotificationType is the severity of a user-facing notification.
type NotificationType string

// Notification types.
const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationInfo    NotificationType = "info"
	NotificationAlert   NotificationType = "alert"
)

// Notification is a transient message for the user. A zero Duration means it persists until dismissed.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Duration  time.Duration    `json:"duration"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Expired reports whether the notification should no longer be shown at now.
func (n *Notification) Expired(now time.Time) bool {
	return n.Duration > 0 && now.Sub(n.CreatedAt) >= n.Duration
}

// Contains reports whether list holds value.
func Contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// Job types for the job processing system.
const (
	JobTypeCommitSync = "commit_sync"
	JobTypePushEvent  = "push_event"
)

// Job represents a job structure for all async processing.
type Job struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TraceID string          `json:"trace_id"`
	Payload json.RawMessage `json:"payload"`
}

func (j *Job) Validate() error {
	if j.ID == "" {
		return ErrJobIDRequired
	}
	if j.Type == "" {
		return ErrJobTypeRequired
	}
	if len(j.Payload) == 0 {
		return ErrPayloadRequired
	}
	return nil
}

// CommitSyncJob asks for the commit log of one user's configured repository to be synced.
type CommitSyncJob struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	TraceID string `json:"trace_id"`
}

// Validate validates required fields for CommitSyncJob.
func (j *CommitSyncJob) Validate() error {
	if j.ID == "" {
		return ErrJobIDRequired
	}
	if j.UserID == "" {
		return ErrUserIDRequired
	}
	if j.TraceID == "" {
		return ErrTraceIDRequired
	}
	return nil
}

// PushEventJob carries the commits of one GitHub push, already mapped to activity items.
type PushEventJob struct {
	ID           string          `json:"id"`
	RepoFullName string          `json:"repo_full_name"`
	Commits      []*ActivityItem `json:"commits"`
	TraceID      string          `json:"trace_id"`
}

// Validate validates required fields for PushEventJob.
func (j *PushEventJob) Validate() error {
	if j.ID == "" {
		return ErrJobIDRequired
	}
	if j.RepoFullName == "" {
		return ErrRepoRequired
	}
	if len(j.Commits) == 0 {
		return ErrNoCommitsInPush
	}
	if j.TraceID == "" {
		return ErrTraceIDRequired
	}
	return nil
}
