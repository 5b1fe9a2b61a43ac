package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/pubhub/internal/ai"
	"github.com/steveyegge/pubhub/internal/config"
	"github.com/steveyegge/pubhub/internal/jobs"
	"github.com/steveyegge/pubhub/internal/logger"
	"github.com/steveyegge/pubhub/internal/notify"
	"github.com/steveyegge/pubhub/internal/reddit"
	"github.com/steveyegge/pubhub/internal/scan"
	"github.com/steveyegge/pubhub/internal/storage"
	"github.com/steveyegge/pubhub/internal/types"
)

// app is the wired scan stack shared by the commands
type app struct {
	coord     *scan.Coordinator
	runner    *jobs.Runner
	triggers  *scan.Triggers
	generator ai.Generator

	// nil in demo mode
	client *reddit.Client
	tokens *reddit.TokenManager
}

// buildApp wires the coordinator over repos according to c. Demo mode reads
// public RSS feeds without credentials; otherwise the authenticated API is used.
func buildApp(c *config.Config, r *storage.Repositories) (*app, error) {
	log := logger.Get("pubhub")

	rc := c.RedditClientConfig()
	rc.Logger = logger.Get("reddit")

	sc := scan.DefaultConfig()
	c.ApplyScan(&sc)
	sc.Repos = r
	sc.Logger = logger.Get("scan")

	a := &app{}
	if c.DemoMode {
		log.Infow("demo mode: scanning public feeds anonymously")
		sc.Fetcher = reddit.NewRSSSource(rc)
		sc.Tokens = reddit.AnonymousTokens{}
	} else {
		a.client = reddit.NewClient(rc)
		a.tokens = reddit.NewTokenManager(rc)
		sc.Fetcher = a.client
		sc.Tokens = a.tokens
		sc.Publisher = a.client
	}

	genCfg := c.GeneratorOptions()
	genCfg.Logger = logger.Get("ai")
	gen, err := ai.NewAnthropicGenerator(genCfg)
	if err != nil {
		log.Warnw("text generation disabled", "reason", err)
	} else {
		a.generator = gen
		sc.Generator = gen
	}

	if c.Notify.DiscordWebhook != "" {
		n, err := notify.NewDiscordNotifier(c.Notify.DiscordWebhook, logger.Get("notify"))
		if err != nil {
			return nil, fmt.Errorf("failed to configure notifications: %w", err)
		}
		sc.Notifier = n
	}

	a.coord, err = scan.NewCoordinator(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	a.runner = jobs.NewRunner(jobs.Options{Logger: logger.Get("jobs")})
	a.triggers, err = scan.Register(a.runner, a.coord, c.FunctionOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to register scan functions: %w", err)
	}
	return a, nil
}

func mustApp() *app {
	a, err := buildApp(cfg, repos)
	if err != nil {
		fail("%v", err)
	}
	return a
}

// resolveProject finds one of the user's projects by id or by
// case-insensitive name
func resolveProject(ctx context.Context, r *storage.Repositories, user, ref string) (*types.Project, error) {
	projects, err := r.Projects.List(ctx, user)
	if err != nil {
		return nil, err
	}
	var byName []*types.Project
	for _, p := range projects {
		if p.ID == ref {
			return p, nil
		}
		if strings.EqualFold(p.Name, ref) {
			byName = append(byName, p)
		}
	}
	switch len(byName) {
	case 0:
		return nil, fmt.Errorf("project %q not found", ref)
	case 1:
		return byName[0], nil
	default:
		return nil, fmt.Errorf("%d projects are named %q; use the project id", len(byName), ref)
	}
}

func mustProject(ctx context.Context, ref string) *types.Project {
	p, err := resolveProject(ctx, repos, userID, ref)
	if err != nil {
		fail("%v", err)
	}
	return p
}
