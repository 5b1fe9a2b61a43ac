package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/pubhub/internal/events"
	"github.com/steveyegge/pubhub/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepos(t *testing.T) *Repositories {
	t.Helper()
	store, err := NewStorage(context.Background(), &Config{Backend: BackendSQLite, Path: ":memory:"})
	require.NoError(t, err)
	repos := NewRepositories(store)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func newItem(projectID, externalID string) *types.FeedItem {
	return &types.FeedItem{
		ProjectID:      projectID,
		Kind:           types.KindPost,
		Forum:          "webdev",
		Title:          "Looking for automation tools",
		Body:           "any productivity tips?",
		ExternalID:     externalID,
		RelevanceScore: 10,
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewStorageUnknownBackend(t *testing.T) {
	_, err := NewStorage(context.Background(), &Config{Backend: "redis"})
	assert.Error(t, err)
}

func TestProfiles(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	_, err := repos.Profiles.Get(ctx, "u1")
	assert.True(t, errors.Is(err, ErrNotFound))

	created, err := repos.Profiles.InitProfile(ctx, "u1", "a@example.com", "Ada")
	require.NoError(t, err)
	assert.Equal(t, types.TierFree, created.Tier)

	// A retried init returns the stored profile unchanged
	created.Tier = types.TierPro
	require.NoError(t, repos.Profiles.Save(ctx, created))
	again, err := repos.Profiles.InitProfile(ctx, "u1", "other@example.com", "Other")
	require.NoError(t, err)
	assert.Equal(t, types.TierPro, again.Tier)
	assert.Equal(t, "a@example.com", again.Email)

	cred := &types.UserCredential{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
		Username:     "ada_dev",
	}
	require.NoError(t, repos.Profiles.SaveCredential(ctx, "u1", cred))

	refreshed := &types.UserCredential{AccessToken: "at2", RefreshToken: "rt", ExpiresAt: time.Now().Add(2 * time.Hour)}
	require.NoError(t, repos.Profiles.SaveCredential(ctx, "u1", refreshed))
	profile, err := repos.Profiles.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, profile.Reddit)
	assert.Equal(t, "at2", profile.Reddit.AccessToken)
	assert.Equal(t, "ada_dev", profile.Reddit.Username, "username survives a refresh")

	require.NoError(t, repos.Profiles.Disconnect(ctx, "u1"))
	profile, err = repos.Profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, profile.Reddit)

	_, err = repos.Profiles.InitProfile(ctx, "u2", "", "")
	require.NoError(t, err)
	ids, err := repos.Profiles.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)

	assert.True(t, errors.Is(repos.Profiles.SaveCredential(ctx, "ghost", cred), ErrNotFound))
}

func TestProjectCreateNormalizes(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	project := &types.Project{
		UserID:   "u1",
		Name:     "Taskly",
		Forums:   []string{"r/webdev", " SaaS ", "webdev", ""},
		Keywords: []string{"Productivity", "productivity", "  Task   Manager "},
	}
	require.NoError(t, repos.Projects.Create(ctx, project))
	assert.NotEmpty(t, project.ID)
	assert.Equal(t, types.TierFree, project.Tier)
	assert.Equal(t, []string{"webdev", "SaaS"}, project.Forums)
	assert.Equal(t, []string{"productivity", "task manager"}, project.Keywords)
	assert.True(t, project.Settings.AIResponses)

	got, err := repos.Projects.Get(ctx, "u1", project.ID)
	require.NoError(t, err)
	assert.Equal(t, project.Keywords, got.Keywords)
}

func TestProjectTierLimit(t *testing.T) {
	tests := []struct {
		name    string
		tier    types.Tier
		allowed int
	}{
		{"free", types.TierFree, 1},
		{"basic", types.TierBasic, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repos := setupRepos(t)
			ctx := context.Background()

			profile, err := repos.Profiles.InitProfile(ctx, "u1", "", "")
			require.NoError(t, err)
			profile.Tier = tt.tier
			require.NoError(t, repos.Profiles.Save(ctx, profile))

			for i := 0; i < tt.allowed; i++ {
				require.NoError(t, repos.Projects.Create(ctx, &types.Project{UserID: "u1", Name: fmt.Sprintf("p%d", i)}))
			}
			err = repos.Projects.Create(ctx, &types.Project{UserID: "u1", Name: "one too many"})
			assert.True(t, errors.Is(err, ErrProjectLimit))
		})
	}

	t.Run("pro is unlimited", func(t *testing.T) {
		repos := setupRepos(t)
		ctx := context.Background()
		profile, err := repos.Profiles.InitProfile(ctx, "u1", "", "")
		require.NoError(t, err)
		profile.Tier = types.TierPro
		require.NoError(t, repos.Profiles.Save(ctx, profile))

		for i := 0; i < 8; i++ {
			require.NoError(t, repos.Projects.Create(ctx, &types.Project{UserID: "u1", Name: fmt.Sprintf("p%d", i)}))
		}
		projects, err := repos.Projects.List(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, projects, 8)
	})
}

func TestProjectUpdateRequiresExisting(t *testing.T) {
	repos := setupRepos(t)
	err := repos.Projects.Update(context.Background(), &types.Project{ID: "nope", UserID: "u1", Name: "x"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestProjectDeleteCascades(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	project := &types.Project{UserID: "u1", Name: "Taskly", Forums: []string{"webdev"}}
	require.NoError(t, repos.Projects.Create(ctx, project))

	_, err := repos.Feed.Insert(ctx, newItem(project.ID, "t3_a"))
	require.NoError(t, err)
	require.NoError(t, repos.Watermarks.Set(ctx, project.ID, time.Now()))
	require.NoError(t, repos.Events.Record(ctx, events.NewScanEvent(events.EventTypeScanStarted, project.ID, "r1", "go")))

	// Another project's records must survive
	other := newItem("other", "t3_a")
	_, err = repos.Feed.Insert(ctx, other)
	require.NoError(t, err)

	require.NoError(t, repos.Projects.Delete(ctx, "u1", project.ID))

	for _, prefix := range []string{ProjectPrefix("u1"), FeedPrefix(project.ID), FeedExternalPrefix(project.ID), EventPrefix(project.ID), WatermarkKey(project.ID)} {
		keys, err := repos.Store.List(ctx, prefix)
		require.NoError(t, err)
		assert.Empty(t, keys, prefix)
	}

	exists, err := repos.Feed.ExistsByExternalID(ctx, "other", "t3_a")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFeedInsertDedupsByExternalID(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	first := newItem("p1", "t3_abc")
	inserted, err := repos.Feed.Insert(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, types.StatusPending, first.Status)

	dup := newItem("p1", "t3_abc")
	inserted, err = repos.Feed.Insert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	// Same external id in another project is a different item
	inserted, err = repos.Feed.Insert(ctx, newItem("p2", "t3_abc"))
	require.NoError(t, err)
	assert.True(t, inserted)

	items, err := repos.Feed.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, first.ID, items[0].ID)

	found, err := repos.Feed.FindByExternalID(ctx, "p1", "t3_abc")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	missing, err := repos.Feed.FindByExternalID(ctx, "p1", "t3_zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFeedConcurrentInsertsOfSameItem(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := repos.Feed.Insert(ctx, newItem("p1", "t3_race"))
			assert.NoError(t, err)
			results <- inserted
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for inserted := range results {
		if inserted {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// TestFeedInsertAcrossReplicas races feed stores that share a database but
// not a process lock, as separate serve processes do
func TestFeedInsertAcrossReplicas(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	replicas := []*FeedStore{NewFeedStore(repos.Store), NewFeedStore(repos.Store), NewFeedStore(repos.Store)}

	var wg sync.WaitGroup
	results := make(chan bool, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(feed *FeedStore) {
			defer wg.Done()
			inserted, err := feed.Insert(ctx, newItem("p1", "t3_shared"))
			assert.NoError(t, err)
			results <- inserted
		}(replicas[i%len(replicas)])
	}
	wg.Wait()
	close(results)

	count := 0
	for inserted := range results {
		if inserted {
			count++
		}
	}
	assert.Equal(t, 1, count)

	items, err := repos.Feed.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ItemIDFor("p1", "t3_shared"), items[0].ID)
}

func TestFeedInsertAfterInterruptedWrite(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	// Index written, item never stored
	require.NoError(t, repos.Store.Set(ctx, FeedExternalKey("p1", "t3_half"), []byte(`"lost-item"`)))
	found, err := repos.Feed.FindByExternalID(ctx, "p1", "t3_half")
	require.NoError(t, err)
	assert.Nil(t, found)

	item := newItem("p1", "t3_half")
	inserted, err := repos.Feed.Insert(ctx, item)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repos.Feed.Insert(ctx, newItem("p1", "t3_half"))
	require.NoError(t, err)
	assert.False(t, inserted)

	items, err := repos.Feed.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	found, err = repos.Feed.FindByExternalID(ctx, "p1", "t3_half")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, item.ID, found.ID)
}

func TestItemIDFor(t *testing.T) {
	assert.Equal(t, ItemIDFor("p1", "t3_a"), ItemIDFor("p1", "t3_a"))
	assert.NotEqual(t, ItemIDFor("p1", "t3_a"), ItemIDFor("p2", "t3_a"))
	assert.NotEqual(t, ItemIDFor("p1", "t3_a"), ItemIDFor("p1", "t3_b"))
}

func TestFeedInsertRejectsInvalid(t *testing.T) {
	repos := setupRepos(t)
	item := newItem("p1", "t3_a")
	item.RelevanceScore = -1
	_, err := repos.Feed.Insert(context.Background(), item)
	assert.Error(t, err)
}

func TestFeedUpdate(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	item := newItem("p1", "t3_a")
	_, err := repos.Feed.Insert(ctx, item)
	require.NoError(t, err)

	text := "Thanks for asking!"
	item.AIResponse = &text
	item.Status = types.StatusApproved
	require.NoError(t, repos.Feed.Update(ctx, item))

	got, err := repos.Feed.Get(ctx, "p1", item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AIResponse)
	assert.Equal(t, text, *got.AIResponse)
	assert.Equal(t, types.StatusApproved, got.Status)

	item.ExternalID = "t3_b"
	assert.Error(t, repos.Feed.Update(ctx, item))

	ghost := newItem("p1", "t3_c")
	ghost.ID = "ghost"
	ghost.Status = types.StatusPending
	assert.True(t, errors.Is(repos.Feed.Update(ctx, ghost), ErrNotFound))
}

func TestSort(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	items := func() []*types.FeedItem {
		return []*types.FeedItem{
			{ID: "a", CreatedAt: base, Score: 5, NumReplies: 0, RelevanceScore: 10},
			{ID: "b", CreatedAt: base.Add(time.Hour), Score: 1, NumReplies: 1, RelevanceScore: 30},
			{ID: "c", CreatedAt: base.Add(2 * time.Hour), Score: 3, NumReplies: 2, RelevanceScore: 10},
			{ID: "d", CreatedAt: base.Add(2 * time.Hour), Score: 0, NumReplies: 0, RelevanceScore: 0},
		}
	}
	ids := func(list []*types.FeedItem) []string {
		out := make([]string, len(list))
		for i, it := range list {
			out[i] = it.ID
		}
		return out
	}

	tests := []struct {
		order SortOrder
		want  []string
	}{
		{SortRecent, []string{"c", "d", "b", "a"}},
		// a and c tie on engagement (5); c is newer
		{SortEngagement, []string{"c", "a", "b", "d"}},
		// a and c tie on relevance; c is newer
		{SortRelevance, []string{"b", "c", "a", "d"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			list := items()
			Sort(list, tt.order)
			assert.Equal(t, tt.want, ids(list))
		})
	}
}

func TestParseSortOrder(t *testing.T) {
	order, err := ParseSortOrder("")
	require.NoError(t, err)
	assert.Equal(t, SortRecent, order)

	order, err = ParseSortOrder("engagement")
	require.NoError(t, err)
	assert.Equal(t, SortEngagement, order)

	_, err = ParseSortOrder("popular")
	assert.Error(t, err)
}

func TestWatermarks(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	def := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	got, err := repos.Watermarks.Get(ctx, "p1", def)
	require.NoError(t, err)
	assert.True(t, got.Equal(def))

	at := time.Date(2025, 6, 1, 12, 15, 0, 0, time.UTC)
	require.NoError(t, repos.Watermarks.Set(ctx, "p1", at))
	got, err = repos.Watermarks.Get(ctx, "p1", def)
	require.NoError(t, err)
	assert.True(t, got.Equal(at))
}

func TestEventsListAndPrune(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := events.NewStateEvent("p1", "run-1", events.StateFetching)
		e.Timestamp = base.Add(time.Duration(i) * time.Second)
		e.Message = fmt.Sprintf("event %d", i)
		require.NoError(t, repos.Events.Record(ctx, e))
	}

	list, err := repos.Events.List(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "event 4", list[0].Message)
	assert.Equal(t, "event 3", list[1].Message)

	deleted, err := repos.Events.Prune(ctx, "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	list, err = repos.Events.List(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "event 2", list[2].Message)

	assert.Error(t, repos.Events.Record(ctx, &events.ScanEvent{ID: "x"}))
}
