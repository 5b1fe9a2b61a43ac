package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/pubhub/internal/config"
	"github.com/steveyegge/pubhub/internal/reddit"
	"github.com/steveyegge/pubhub/internal/storage"
	"github.com/steveyegge/pubhub/internal/types"
)

func newTestRepos(t *testing.T) *storage.Repositories {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	r := storage.NewRepositories(store)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestParseSeedFile(t *testing.T) {
	seeds, err := parseSeedFile([]byte(`
projects:
  - name: Taskly
    description: A productivity tool for developers
    subreddits: [webdev, r/SaaS]
    keywords: [task manager]
  - name: Notely
    persona: A note-taking nerd
`))
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, []string{"webdev", "r/SaaS"}, seeds[0].Forums)

	p := seeds[1].project("u1")
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "Notely", p.Name)
	assert.Equal(t, "A note-taking nerd", p.Persona)
}

func TestParseSeedFileErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "projects: [unterminated"},
		{"empty", "projects: []"},
		{"missing name", "projects:\n  - description: nameless\n"},
		{"bad forum", "projects:\n  - name: X\n    subreddits: [\"no spaces allowed\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSeedFile([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestCheckForums(t *testing.T) {
	assert.NoError(t, checkForums([]string{"webdev", "r/SaaS", " golang "}))
	assert.NoError(t, checkForums(nil))

	err := checkForums([]string{"webdev", "a", "has space"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a, has space")
}

func TestResolveProject(t *testing.T) {
	ctx := context.Background()
	r := newTestRepos(t)
	_, err := r.Profiles.InitProfile(ctx, "u1", "", "u1")
	require.NoError(t, err)
	profile, err := r.Profiles.Get(ctx, "u1")
	require.NoError(t, err)
	profile.Tier = types.TierPro
	require.NoError(t, r.Profiles.Save(ctx, profile))

	taskly := &types.Project{UserID: "u1", Name: "Taskly"}
	require.NoError(t, r.Projects.Create(ctx, taskly))
	twinA := &types.Project{UserID: "u1", Name: "Twin"}
	require.NoError(t, r.Projects.Create(ctx, twinA))
	require.NoError(t, r.Projects.Create(ctx, &types.Project{UserID: "u1", Name: "twin"}))

	got, err := resolveProject(ctx, r, "u1", taskly.ID)
	require.NoError(t, err)
	assert.Equal(t, "Taskly", got.Name)

	got, err = resolveProject(ctx, r, "u1", "TASKLY")
	require.NoError(t, err)
	assert.Equal(t, taskly.ID, got.ID)

	got, err = resolveProject(ctx, r, "u1", twinA.ID)
	require.NoError(t, err)
	assert.Equal(t, twinA.ID, got.ID, "id wins over an ambiguous name")

	_, err = resolveProject(ctx, r, "u1", "twin")
	assert.ErrorContains(t, err, "2 projects")

	_, err = resolveProject(ctx, r, "u1", "missing")
	assert.ErrorContains(t, err, "not found")

	_, err = resolveProject(ctx, r, "someone-else", "Taskly")
	assert.Error(t, err)
}

func TestFilterFeed(t *testing.T) {
	items := []*types.FeedItem{
		{ID: "a", Status: types.StatusPending},
		{ID: "b", Status: types.StatusApproved},
		{ID: "c", Status: types.StatusPending},
		{ID: "d", Status: types.StatusPending},
	}
	ids := func(items []*types.FeedItem) []string {
		var out []string
		for _, i := range items {
			out = append(out, i.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(filterFeed(items, "", 0)))
	assert.Equal(t, []string{"a", "c", "d"}, ids(filterFeed(items, types.StatusPending, 0)))
	assert.Equal(t, []string{"a", "c"}, ids(filterFeed(items, types.StatusPending, 2)))
	assert.Empty(t, filterFeed(items, types.StatusPosted, 0))
}

func TestTruncateLine(t *testing.T) {
	assert.Equal(t, "short line", truncateLine("short\n  line", 20))
	assert.Equal(t, "abcd…", truncateLine("abcdefgh", 5))
	assert.Equal(t, "héll…", truncateLine("héllo wörld", 5))
}

func TestDescribeCredential(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Contains(t, describeCredential(nil, now), "not linked")

	cred := &types.UserCredential{Username: "ada", ExpiresAt: now.Add(30 * time.Minute)}
	assert.Equal(t, "u/ada, access token valid for 30m0s", describeCredential(cred, now))

	cred.ExpiresAt = now.Add(-time.Minute)
	assert.Contains(t, describeCredential(cred, now), "expired")
}

func TestBuildAppDemoMode(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	c := config.DefaultConfig()
	c.DemoMode = true

	a, err := buildApp(c, newTestRepos(t))
	require.NoError(t, err)
	assert.Nil(t, a.client)
	assert.Nil(t, a.tokens)
	assert.Nil(t, a.generator)
	assert.NotNil(t, a.triggers)
	assert.Len(t, a.runner.Entries(), 1, "monitor cron registered")
}

func TestBuildAppAuthenticated(t *testing.T) {
	c := config.DefaultConfig()
	c.AI.APIKey = "sk-test"
	c.Reddit = config.RedditConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		UserAgent:    reddit.DefaultUserAgent,
		TokenURL:     reddit.DefaultTokenURL,
		APIBaseURL:   reddit.DefaultAPIBaseURL,
		Timeout:      time.Second,
	}
	c.Scan.MonitorSchedule = ""

	a, err := buildApp(c, newTestRepos(t))
	require.NoError(t, err)
	assert.NotNil(t, a.client)
	assert.NotNil(t, a.tokens)
	assert.NotNil(t, a.generator)
	assert.Empty(t, a.runner.Entries())
}

func TestBuildAppRejectsBadWebhook(t *testing.T) {
	c := config.DefaultConfig()
	c.DemoMode = true
	c.Notify.DiscordWebhook = "https://example.com/not-a-webhook"

	_, err := buildApp(c, newTestRepos(t))
	assert.ErrorContains(t, err, "notifications")
}
