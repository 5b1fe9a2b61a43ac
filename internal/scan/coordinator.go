// Package scan coordinates relevance scans: it resolves tokens, fans listing
// fetches out over forums, scores items against project keywords, and
// persists new matches exactly once per external id.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/steveyegge/pubhub/internal/ai"
	"github.com/steveyegge/pubhub/internal/events"
	"github.com/steveyegge/pubhub/internal/jobs"
	"github.com/steveyegge/pubhub/internal/logger"
	"github.com/steveyegge/pubhub/internal/notify"
	"github.com/steveyegge/pubhub/internal/reddit"
	"github.com/steveyegge/pubhub/internal/relevance"
	"github.com/steveyegge/pubhub/internal/storage"
	"github.com/steveyegge/pubhub/internal/telemetry"
	"github.com/steveyegge/pubhub/internal/types"
)

// Fetcher retrieves listings and reply trees. *reddit.Client and
// *reddit.RSSSource both satisfy it.
type Fetcher interface {
	ListItems(ctx context.Context, token, forum string, limit int, after string) (*reddit.Listing, error)
	ListReplies(ctx context.Context, token, forum, itemID string) ([]reddit.Comment, error)
}

// TokenSource produces bearer tokens. *reddit.TokenManager and
// reddit.AnonymousTokens both satisfy it.
type TokenSource interface {
	ServiceToken(ctx context.Context) (string, error)
	UserToken(ctx context.Context, cred *types.UserCredential) (string, *types.UserCredential, error)
}

// Publisher submits approved drafts as replies
type Publisher interface {
	SubmitComment(ctx context.Context, token, parentFullname, text string) (*reddit.SubmittedComment, error)
}

// Config holds coordinator dependencies and tuning
type Config struct {
	Repos     *storage.Repositories
	Fetcher   Fetcher
	Tokens    TokenSource
	Generator ai.Generator   // optional; responses need it, keywords fall back without it
	Publisher Publisher      // optional; needed only to publish drafts
	Notifier  notify.Notifier // optional

	MaxConcurrentForums int           // default 5
	DeepScanPageSize    int           // default 100
	MonitorPageSize     int           // default 25
	MonitorWindow       time.Duration // first-pass lookback when no watermark exists (default 1h)
	EventRetention      int           // events kept per project after each scan (0 = keep all)

	// Anonymous scans without any linked account (demo mode)
	Anonymous bool

	Clock  reddit.Clock
	Logger *zap.SugaredLogger
}

// DefaultConfig returns the tuning defaults with no dependencies set
func DefaultConfig() Config {
	return Config{
		MaxConcurrentForums: 5,
		DeepScanPageSize:    reddit.MaxPageSize,
		MonitorPageSize:     25,
		MonitorWindow:       time.Hour,
		EventRetention:      500,
	}
}

// Validate checks that required dependencies are present and tuning is sane
func (c Config) Validate() error {
	if c.Repos == nil {
		return fmt.Errorf("repositories are required")
	}
	if c.Fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	if c.Tokens == nil {
		return fmt.Errorf("token source is required")
	}
	if c.MaxConcurrentForums < 1 {
		return fmt.Errorf("max concurrent forums must be at least 1 (got %d)", c.MaxConcurrentForums)
	}
	if c.DeepScanPageSize < 1 || c.DeepScanPageSize > reddit.MaxPageSize {
		return fmt.Errorf("deep scan page size must be between 1 and %d (got %d)", reddit.MaxPageSize, c.DeepScanPageSize)
	}
	if c.MonitorPageSize < 1 || c.MonitorPageSize > reddit.MaxPageSize {
		return fmt.Errorf("monitor page size must be between 1 and %d (got %d)", reddit.MaxPageSize, c.MonitorPageSize)
	}
	if c.MonitorWindow <= 0 {
		return fmt.Errorf("monitor window must be positive (got %v)", c.MonitorWindow)
	}
	if c.EventRetention < 0 {
		return fmt.Errorf("event retention must be non-negative (got %d)", c.EventRetention)
	}
	return nil
}

// Coordinator runs deep scans, monitor passes and draft generation
type Coordinator struct {
	cfg      Config
	repos    *storage.Repositories
	notifier notify.Notifier
	clock    reddit.Clock
	log      *zap.SugaredLogger
}

// NewCoordinator creates a coordinator. Zero tuning fields take their defaults.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	def := DefaultConfig()
	if cfg.MaxConcurrentForums == 0 {
		cfg.MaxConcurrentForums = def.MaxConcurrentForums
	}
	if cfg.DeepScanPageSize == 0 {
		cfg.DeepScanPageSize = def.DeepScanPageSize
	}
	if cfg.MonitorPageSize == 0 {
		cfg.MonitorPageSize = def.MonitorPageSize
	}
	if cfg.MonitorWindow == 0 {
		cfg.MonitorWindow = def.MonitorWindow
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan config: %w", err)
	}

	c := &Coordinator{
		cfg:      cfg,
		repos:    cfg.Repos,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		log:      cfg.Logger,
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.clock == nil {
		c.clock = reddit.SystemClock
	}
	if c.log == nil {
		c.log = logger.Get("scan")
	}
	return c, nil
}

// step memoizes fn under name when running inside a job, and runs it
// directly otherwise
func step[T any](ctx context.Context, sc *jobs.StepContext, name string, fn func(context.Context) (T, error)) (T, error) {
	if sc == nil {
		return fn(ctx)
	}
	return jobs.Step(ctx, sc, name, fn)
}

func runIDOf(sc *jobs.StepContext) string {
	if sc != nil {
		return sc.RunID()
	}
	return uuid.New().String()
}

// keywordsFor returns the project's keywords, or keywords extracted from its
// description when none are set
func keywordsFor(project *types.Project) []string {
	if len(project.Keywords) > 0 {
		return project.Keywords
	}
	return relevance.ExtractKeywords(project.Description)
}

// loadProject fetches a project, reporting a missing one as a configuration error
func (c *Coordinator) loadProject(ctx context.Context, userID, projectID string) (*types.Project, error) {
	project, err := c.repos.Projects.Get(ctx, userID, projectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s not found", ErrConfiguration, projectID)
		}
		return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	return project, nil
}

// userToken resolves a token for a linked account and persists a refreshed
// credential
func (c *Coordinator) userToken(ctx context.Context, userID string, cred *types.UserCredential) (string, error) {
	token, refreshed, err := c.cfg.Tokens.UserToken(ctx, cred)
	if err != nil {
		return "", upstream(err)
	}
	if refreshed != nil {
		if err := c.repos.Profiles.SaveCredential(ctx, userID, refreshed); err != nil {
			// The fresh token is still usable for this scan
			c.log.Warnw("failed to persist refreshed credential", "user_id", userID, "error", err)
		} else {
			c.log.Infow("refreshed user token", "user_id", userID, "expires_at", refreshed.ExpiresAt)
		}
	}
	return token, nil
}

// deepScanToken uses the linked account when there is one and falls back to
// the service identity otherwise
func (c *Coordinator) deepScanToken(ctx context.Context, userID string) (string, error) {
	if c.cfg.Anonymous {
		return "", nil
	}
	profile, err := c.repos.Profiles.Get(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to load profile %s: %w", userID, err)
	}
	if profile != nil && profile.Reddit != nil {
		return c.userToken(ctx, userID, profile.Reddit)
	}

	token, err := c.cfg.Tokens.ServiceToken(ctx)
	if err != nil {
		return "", upstream(err)
	}
	return token, nil
}

// newFeedItem converts a listing item into a pending feed item
func newFeedItem(projectID string, item reddit.Item, score int) *types.FeedItem {
	return &types.FeedItem{
		ProjectID:      projectID,
		Kind:           types.KindPost,
		Forum:          item.Forum,
		Title:          item.Title,
		Body:           item.Body,
		Author:         item.Author,
		URL:            item.Link(),
		ExternalID:     item.ID,
		Score:          item.Score,
		NumReplies:     item.NumReplies,
		RelevanceScore: score,
		CreatedAt:      item.CreatedAt,
		Replies:        []types.Reply{},
		Status:         types.StatusPending,
	}
}

func absoluteLink(permalink string) string {
	if strings.HasPrefix(permalink, "/") {
		return reddit.PermalinkBase + permalink
	}
	return permalink
}

// scoreReplies keeps the comments that match keywords
func scoreReplies(comments []reddit.Comment, keywords []string) []types.Reply {
	replies := []types.Reply{}
	for _, cm := range comments {
		score, ok := relevance.Matches(cm.Body, keywords)
		if !ok {
			continue
		}
		replies = append(replies, types.Reply{
			ID:             cm.ID,
			Author:         cm.Author,
			Body:           cm.Body,
			Score:          cm.Score,
			CreatedAt:      cm.CreatedAt,
			Permalink:      absoluteLink(cm.Permalink),
			RelevanceScore: score,
		})
	}
	return replies
}

// persist inserts matches, skipping external ids the project already has.
// It returns the items that were actually new.
func (c *Coordinator) persist(ctx context.Context, matches []*types.FeedItem) ([]*types.FeedItem, error) {
	var fresh []*types.FeedItem
	for _, item := range matches {
		inserted, err := c.repos.Feed.Insert(ctx, item)
		if err != nil {
			return fresh, fmt.Errorf("failed to persist item %s: %w", item.ExternalID, err)
		}
		if inserted {
			fresh = append(fresh, item)
		}
	}
	telemetry.ItemsMatched.Add(float64(len(fresh)))
	return fresh, nil
}

// finish records completion, prunes old events and sends notifications
func (c *Coordinator) finish(ctx context.Context, t *tracker, eventType events.EventType, project *types.Project, data events.ScanCompletedData, fresh []*types.FeedItem) {
	t.complete(ctx, eventType, data)

	if c.cfg.EventRetention > 0 {
		if n, err := c.repos.Events.Prune(ctx, project.ID, c.cfg.EventRetention); err != nil {
			c.log.Warnw("failed to prune scan events", "project_id", project.ID, "error", err)
		} else if n > 0 {
			c.log.Debugw("pruned scan events", "project_id", project.ID, "deleted", n)
		}
	}

	if len(fresh) == 0 || !project.Settings.Notifications.Posts {
		return
	}
	if err := c.notifier.NotifyMatches(ctx, project, fresh); err != nil {
		c.log.Warnw("failed to send match notification", "project_id", project.ID, "error", err)
	}
}
