package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/pubhub/internal/events"
	"github.com/steveyegge/pubhub/internal/jobs"
	"github.com/steveyegge/pubhub/internal/reddit"
	"github.com/steveyegge/pubhub/internal/relevance"
	"github.com/steveyegge/pubhub/internal/telemetry"
	"github.com/steveyegge/pubhub/internal/types"
)

// DeepScanRequest asks for a tier-bounded historical scan of a project
type DeepScanRequest struct {
	UserID    string   `json:"user_id"`
	ProjectID string   `json:"project_id"`
	Forums    []string `json:"forums,omitempty"` // empty means the project's forums
}

// Validate checks the request identifiers
func (r DeepScanRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if r.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	return nil
}

// ForumResult is the outcome of scanning one forum
type ForumResult struct {
	Forum    string     `json:"forum"`
	Scanned  int        `json:"scanned"`
	Matched  int        `json:"matched"`
	NewItems int        `json:"new_items"`
	Error    string     `json:"error,omitempty"`
	Class    ErrorClass `json:"class,omitempty"`
}

// Failed reports whether the forum was skipped
func (r ForumResult) Failed() bool {
	return r.Error != ""
}

// DeepScanResult summarizes a deep scan
type DeepScanResult struct {
	Scanned  int           `json:"scanned"`
	NewItems int           `json:"new_items"`
	Keywords []string      `json:"keywords"`
	Forums   []ForumResult `json:"forums"`
}

// FailedForums lists the forums that were skipped
func (r *DeepScanResult) FailedForums() []string {
	var failed []string
	for _, f := range r.Forums {
		if f.Failed() {
			failed = append(failed, f.Forum)
		}
	}
	return failed
}

// forumBatch carries one forum through the fetch, score and persist steps.
// It round-trips through JSON when steps are memoized.
type forumBatch struct {
	Result  ForumResult       `json:"result"`
	Items   []reddit.Item     `json:"items,omitempty"`
	Matches []*types.FeedItem `json:"matches,omitempty"`
}

// normalizeRequestForums strips r/ prefixes and drops blanks
func normalizeRequestForums(forums []string) []string {
	out := make([]string, 0, len(forums))
	for _, f := range forums {
		f = strings.TrimPrefix(strings.TrimSpace(f), "r/")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// DeepScan scans a project's forums back to the tier's lookback window and
// persists every new match. Forum failures are skipped; only whole-scan
// failures are returned.
func (c *Coordinator) DeepScan(ctx context.Context, req DeepScanRequest) (*DeepScanResult, error) {
	return c.deepScan(ctx, req, nil)
}

func (c *Coordinator) deepScan(ctx context.Context, req DeepScanRequest, sc *jobs.StepContext) (*DeepScanResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	t := c.newTracker(req.ProjectID, runIDOf(sc))
	t.start(ctx, "deep scan")

	t.advance(ctx, events.StateLoadingProject)
	project, err := step(ctx, sc, "load-project", func(ctx context.Context) (*types.Project, error) {
		return c.loadProject(ctx, req.UserID, req.ProjectID)
	})
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	forums := normalizeRequestForums(req.Forums)
	if len(forums) == 0 {
		forums = project.Forums
	}
	if len(forums) == 0 {
		return nil, t.fail(ctx, fmt.Errorf("%w: project %s has no forums", ErrConfiguration, project.ID))
	}

	t.advance(ctx, events.StateResolvingToken)
	token, err := step(ctx, sc, "resolve-token", func(ctx context.Context) (string, error) {
		return c.deepScanToken(ctx, req.UserID)
	})
	if err != nil {
		return nil, t.fail(ctx, err)
	}

	keywords := keywordsFor(project)
	cutoff := t.started.Add(-project.Tier.Lookback())
	t.log.Infow("deep scan window", "tier", project.Tier, "lookback_days", project.Tier.LookbackDays(),
		"forums", len(forums), "keywords", len(keywords))

	t.advance(ctx, events.StateFetching)
	batches, err := step(ctx, sc, "fetch-forums", func(ctx context.Context) ([]forumBatch, error) {
		return c.fetchForums(ctx, t, token, forums, c.cfg.DeepScanPageSize, func(item reddit.Item) bool {
			return !item.CreatedAt.Before(cutoff)
		})
	})
	if err != nil {
		return nil, t.fail(ctx, err)
	}

	t.advance(ctx, events.StateScoring)
	batches, err = step(ctx, sc, "score-items", func(ctx context.Context) ([]forumBatch, error) {
		return c.scoreForums(ctx, project.ID, token, keywords, batches, true)
	})
	if err != nil {
		return nil, t.fail(ctx, err)
	}

	t.advance(ctx, events.StatePersisting)
	var fresh []*types.FeedItem
	result, err := step(ctx, sc, "persist-items", func(ctx context.Context) (*DeepScanResult, error) {
		res := &DeepScanResult{Keywords: keywords, Forums: make([]ForumResult, 0, len(batches))}
		for _, b := range batches {
			inserted, err := c.persist(ctx, b.Matches)
			fresh = append(fresh, inserted...)
			if err != nil {
				return nil, err
			}
			b.Result.NewItems = len(inserted)
			res.Scanned += b.Result.Scanned
			res.NewItems += len(inserted)
			res.Forums = append(res.Forums, b.Result)
		}
		return res, nil
	})
	if err != nil {
		return nil, t.fail(ctx, err)
	}

	c.finish(ctx, t, events.EventTypeScanCompleted, project, events.ScanCompletedData{
		Scanned:      result.Scanned,
		NewItems:     result.NewItems,
		FailedForums: result.FailedForums(),
		DurationMs:   time.Since(t.started).Milliseconds(),
	}, fresh)
	return result, nil
}

// fetchForums fetches one page per forum concurrently. keep filters items
// before scoring. A failed forum is recorded on its batch and skipped.
func (c *Coordinator) fetchForums(ctx context.Context, t *tracker, token string, forums []string, pageSize int, keep func(reddit.Item) bool) ([]forumBatch, error) {
	batches := make([]forumBatch, len(forums))
	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrentForums)

	for i, forum := range forums {
		batches[i].Result.Forum = forum
		g.Go(func() error {
			listing, err := c.cfg.Fetcher.ListItems(ctx, token, forum, pageSize, "")
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				err = upstream(err)
				batches[i].Result.Error = err.Error()
				batches[i].Result.Class = Classify(err)
				t.forumFailed(ctx, "list", forum, err)
				return nil
			}
			batches[i].Result.Scanned = len(listing.Items)
			telemetry.ItemsScanned.Add(float64(len(listing.Items)))
			for _, item := range listing.Items {
				if keep(item) {
					batches[i].Items = append(batches[i].Items, item)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("forum fetch interrupted: %w", err)
	}
	return batches, nil
}

// scoreForums scores each forum's items concurrently, items within a forum in
// order. Items the project already stores are dropped before replies are
// fetched. A reply fetch failure keeps the item without replies.
func (c *Coordinator) scoreForums(ctx context.Context, projectID, token string, keywords []string, batches []forumBatch, withReplies bool) ([]forumBatch, error) {
	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrentForums)

	for i := range batches {
		g.Go(func() error {
			b := &batches[i]
			for _, item := range b.Items {
				if err := ctx.Err(); err != nil {
					return err
				}
				score, ok := relevance.Matches(item.Text(), keywords)
				if !ok {
					continue
				}
				b.Result.Matched++

				exists, err := c.repos.Feed.ExistsByExternalID(ctx, projectID, item.ID)
				if err != nil {
					return err
				}
				if exists {
					continue
				}

				feedItem := newFeedItem(projectID, item, score)
				if withReplies {
					comments, err := c.cfg.Fetcher.ListReplies(ctx, token, b.Result.Forum, item.ID)
					if err != nil {
						telemetry.ForumErrors.WithLabelValues("replies").Inc()
						c.log.Warnw("failed to fetch replies, keeping item without them",
							"project_id", projectID, "forum", b.Result.Forum, "item", item.ID, "error", err)
					} else {
						feedItem.Replies = scoreReplies(comments, keywords)
					}
				}
				b.Matches = append(b.Matches, feedItem)
			}
			b.Items = nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to score items: %w", err)
	}
	return batches, nil
}
