package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/pubhub/internal/events"
	"github.com/steveyegge/pubhub/internal/jobs"
	"github.com/steveyegge/pubhub/internal/reddit"
	"github.com/steveyegge/pubhub/internal/types"
)

// ProjectResult is the outcome of one project in a monitor pass
type ProjectResult struct {
	UserID       string   `json:"user_id"`
	ProjectID    string   `json:"project_id"`
	Scanned      int      `json:"scanned"`
	NewItems     int      `json:"new_items"`
	FailedForums []string `json:"failed_forums,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// MonitorResult summarizes a monitor pass
type MonitorResult struct {
	ProjectsMonitored    int             `json:"projects_monitored"`
	ProjectsWithNewItems int             `json:"projects_with_new_items"`
	Results              []ProjectResult `json:"results"`
}

// monitorTarget is a project eligible for monitoring plus its owner's credential
type monitorTarget struct {
	Project    *types.Project        `json:"project"`
	Credential *types.UserCredential `json:"credential,omitempty"`
}

// MonitorPass looks for items posted since each project's watermark. Only
// projects with forums and a linked account (any project when anonymous)
// are visited. A project's watermark advances to the pass start once all of
// its forums were tried, even if some failed.
func (c *Coordinator) MonitorPass(ctx context.Context) (*MonitorResult, error) {
	return c.monitorPass(ctx, nil)
}

func (c *Coordinator) monitorPass(ctx context.Context, sc *jobs.StepContext) (*MonitorResult, error) {
	passStart := c.clock.Now()

	targets, err := step(ctx, sc, "find-active-projects", c.activeProjects)
	if err != nil {
		return nil, err
	}
	c.log.Infow("monitor pass started", "projects", len(targets))

	result, err := step(ctx, sc, "monitor-projects", func(ctx context.Context) (*MonitorResult, error) {
		res := &MonitorResult{ProjectsMonitored: len(targets), Results: []ProjectResult{}}
		for _, target := range targets {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			pr := c.monitorProject(ctx, target, passStart, runIDOf(sc))
			if pr.NewItems > 0 {
				res.ProjectsWithNewItems++
			}
			res.Results = append(res.Results, pr)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Infow("monitor pass completed", "projects", result.ProjectsMonitored,
		"with_new_items", result.ProjectsWithNewItems, "duration", time.Since(passStart))
	return result, nil
}

// activeProjects lists every project that has forums and, unless anonymous,
// an owner with a linked credential
func (c *Coordinator) activeProjects(ctx context.Context) ([]monitorTarget, error) {
	userIDs, err := c.repos.Profiles.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	var targets []monitorTarget
	for _, userID := range userIDs {
		profile, err := c.repos.Profiles.Get(ctx, userID)
		if err != nil {
			c.log.Warnw("skipping unreadable profile", "user_id", userID, "error", err)
			continue
		}
		if profile.Reddit == nil && !c.cfg.Anonymous {
			continue
		}
		projects, err := c.repos.Projects.List(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, project := range projects {
			if len(project.Forums) == 0 {
				continue
			}
			targets = append(targets, monitorTarget{Project: project, Credential: profile.Reddit})
		}
	}
	return targets, nil
}

// monitorProject runs one project through the state machine. Errors are
// recorded on the result, never returned.
func (c *Coordinator) monitorProject(ctx context.Context, target monitorTarget, passStart time.Time, runID string) ProjectResult {
	project := target.Project
	pr := ProjectResult{UserID: project.UserID, ProjectID: project.ID}

	t := c.newTracker(project.ID, runID)
	t.start(ctx, "monitor")
	t.advance(ctx, events.StateLoadingProject)

	t.advance(ctx, events.StateResolvingToken)
	token := ""
	if !c.cfg.Anonymous {
		var err error
		token, err = c.userToken(ctx, project.UserID, target.Credential)
		if err != nil {
			pr.Error = t.fail(ctx, err).Error()
			return pr
		}
	}

	watermark, err := c.repos.Watermarks.Get(ctx, project.ID, passStart.Add(-c.cfg.MonitorWindow))
	if err != nil {
		pr.Error = t.fail(ctx, err).Error()
		return pr
	}
	keywords := keywordsFor(project)

	t.advance(ctx, events.StateFetching)
	batches, err := c.fetchForums(ctx, t, token, project.Forums, c.cfg.MonitorPageSize, func(item reddit.Item) bool {
		return item.CreatedAt.After(watermark)
	})
	if err != nil {
		pr.Error = t.fail(ctx, err).Error()
		return pr
	}

	t.advance(ctx, events.StateScoring)
	batches, err = c.scoreForums(ctx, project.ID, token, keywords, batches, false)
	if err != nil {
		pr.Error = t.fail(ctx, err).Error()
		return pr
	}

	t.advance(ctx, events.StatePersisting)
	var fresh []*types.FeedItem
	for _, b := range batches {
		pr.Scanned += b.Result.Scanned
		if b.Result.Failed() {
			pr.FailedForums = append(pr.FailedForums, b.Result.Forum)
		}
		inserted, err := c.persist(ctx, b.Matches)
		fresh = append(fresh, inserted...)
		if err != nil {
			pr.NewItems = len(fresh)
			pr.Error = t.fail(ctx, err).Error()
			return pr
		}
	}
	pr.NewItems = len(fresh)

	if err := c.repos.Watermarks.Set(ctx, project.ID, passStart); err != nil {
		pr.Error = t.fail(ctx, err).Error()
		return pr
	}

	c.finish(ctx, t, events.EventTypeMonitorCompleted, project, events.ScanCompletedData{
		Scanned:      pr.Scanned,
		NewItems:     pr.NewItems,
		FailedForums: pr.FailedForums,
		DurationMs:   time.Since(t.started).Milliseconds(),
	}, fresh)
	return pr
}
