package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultPersona is used when a project has no persona of its own
const DefaultPersona = "You are a helpful and friendly app developer responding to potential users on Reddit."

// Tier is the subscription level of a user or project
type Tier string

const (
	TierFree  Tier = "free"
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// IsValid checks if the tier value is valid
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierBasic, TierPro:
		return true
	}
	return false
}

// LookbackDays returns how far back a deep scan reaches for this tier.
// Unknown tiers get the free window.
func (t Tier) LookbackDays() int {
	switch t {
	case TierPro:
		return 90
	case TierBasic:
		return 30
	default:
		return 1
	}
}

// Lookback is LookbackDays as a duration
func (t Tier) Lookback() time.Duration {
	return time.Duration(t.LookbackDays()) * 24 * time.Hour
}

// ProjectLimit returns the maximum number of projects for this tier (0 = unlimited)
func (t Tier) ProjectLimit() int {
	switch t {
	case TierPro:
		return 0
	case TierBasic:
		return 5
	default:
		return 1
	}
}

// ItemKind distinguishes posts from comments in the feed
type ItemKind string

const (
	KindPost    ItemKind = "post"
	KindComment ItemKind = "comment"
)

// IsValid checks if the kind value is valid
func (k ItemKind) IsValid() bool {
	return k == KindPost || k == KindComment
}

// FeedStatus is the workflow state of a feed item
type FeedStatus string

const (
	StatusPending  FeedStatus = "pending"
	StatusApproved FeedStatus = "approved"
	StatusPosted   FeedStatus = "posted"
	StatusIgnored  FeedStatus = "ignored"
)

// IsValid checks if the status value is valid
func (s FeedStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPosted, StatusIgnored:
		return true
	}
	return false
}

// NotificationSettings controls which kinds of matches trigger notifications
type NotificationSettings struct {
	DMs      bool `json:"dms"`
	Comments bool `json:"comments"`
	Posts    bool `json:"posts"`
}

// ProjectSettings holds per-project toggles
type ProjectSettings struct {
	AIResponses   bool                 `json:"ai_responses"`
	Notifications NotificationSettings `json:"notifications"`
}

// DefaultProjectSettings returns settings for a newly created project
func DefaultProjectSettings() ProjectSettings {
	return ProjectSettings{
		AIResponses: true,
		Notifications: NotificationSettings{
			DMs:      true,
			Comments: true,
			Posts:    true,
		},
	}
}

// Project is a product being monitored across a set of forums
type Project struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	URL         string          `json:"url,omitempty"`
	Icon        string          `json:"icon,omitempty"`
	Forums      []string        `json:"subreddits"`
	Keywords    []string        `json:"keywords"`
	Tier        Tier            `json:"tier"`
	Persona     string          `json:"persona"`
	Settings    ProjectSettings `json:"settings"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks if the project has valid field values
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if p.Tier != "" && !p.Tier.IsValid() {
		return fmt.Errorf("invalid tier: %s", p.Tier)
	}
	for _, f := range p.Forums {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("forum names cannot be empty")
		}
	}
	return nil
}

// EffectivePersona returns the project persona or the default
func (p *Project) EffectivePersona() string {
	if strings.TrimSpace(p.Persona) != "" {
		return p.Persona
	}
	return DefaultPersona
}

// NormalizeKeywords lower-cases, trims, and deduplicates keywords, keeping first-seen order
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.Join(strings.Fields(kw), " "))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// UserCredential is a per-user OAuth bundle for the content API
type UserCredential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope"`
	Username     string    `json:"username,omitempty"`
}

// ExpiresWithin reports whether the access token lapses before now+window
func (c *UserCredential) ExpiresWithin(now time.Time, window time.Duration) bool {
	return c.ExpiresAt.Before(now.Add(window))
}

// UserProfile is the per-user record, owner of the linked credential
type UserProfile struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Tier      Tier            `json:"tier"`
	Theme     string          `json:"theme,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Reddit    *UserCredential `json:"reddit,omitempty"`
}

// Reply is a relevant reply embedded in a feed item
type Reply struct {
	ID             string    `json:"id"`
	Author         string    `json:"author"`
	Body           string    `json:"body"`
	Score          int       `json:"score"`
	CreatedAt      time.Time `json:"created_at"`
	Permalink      string    `json:"permalink"`
	RelevanceScore int       `json:"relevance_score"`
}

// FeedItem is a persisted relevant match surfaced to the user
type FeedItem struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Kind           ItemKind   `json:"type"`
	Forum          string     `json:"subreddit"`
	Title          string     `json:"title,omitempty"`
	Body           string     `json:"content"`
	Author         string     `json:"author"`
	URL            string     `json:"url"`
	ExternalID     string     `json:"reddit_id"`
	Score          int        `json:"score"`
	NumReplies     int        `json:"num_comments"`
	RelevanceScore int        `json:"relevance_score"`
	CreatedAt      time.Time  `json:"created_at"`
	Replies        []Reply    `json:"comments"`
	AIResponse     *string    `json:"ai_response"`
	AIGeneratedAt  *time.Time `json:"ai_generated_at,omitempty"`
	Status         FeedStatus `json:"status"`
}

// Validate checks if the feed item has valid field values
func (f *FeedItem) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if !f.Kind.IsValid() {
		return fmt.Errorf("invalid kind: %s", f.Kind)
	}
	if !f.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", f.Status)
	}
	if f.RelevanceScore < 0 {
		return fmt.Errorf("relevance_score cannot be negative (got %d)", f.RelevanceScore)
	}
	return nil
}

// Text returns the scorable text of the item (title and body)
func (f *FeedItem) Text() string {
	if f.Title == "" {
		return f.Body
	}
	return f.Title + " " + f.Body
}

// Engagement is the sum of upvotes and replies, used for sorting
func (f *FeedItem) Engagement() int {
	return f.Score + f.NumReplies
}

// ScanWatermark bounds incremental monitor passes for a project
type ScanWatermark struct {
	ProjectID string    `json:"project_id"`
	Timestamp time.Time `json:"timestamp"`
}
