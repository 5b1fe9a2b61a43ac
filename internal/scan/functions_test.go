package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/steveyegge/pubhub/internal/jobs"
	"github.com/steveyegge/pubhub/internal/reddit"
	"github.com/steveyegge/pubhub/internal/storage"
	"github.com/steveyegge/pubhub/internal/types"
)

func newTestTriggers(t *testing.T, f *fixture, cfg FunctionConfig) *Triggers {
	t.Helper()
	runner := jobs.NewRunner(jobs.Options{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Logger:         zap.NewNop().Sugar(),
	})
	t.Cleanup(runner.Stop)
	triggers, err := Register(runner, f.coord, cfg)
	require.NoError(t, err)
	return triggers
}

// flakyTokens fails the first n service token requests with a 502
type flakyTokens struct {
	*fakeTokens
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyTokens) ServiceToken(ctx context.Context) (string, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return "", &reddit.TokenError{Grant: "client_credentials", StatusCode: 502}
	}
	return f.fakeTokens.ServiceToken(ctx)
}

func TestRegisterCronSchedule(t *testing.T) {
	f := newFixture(t, nil)
	runner := jobs.NewRunner(jobs.Options{Logger: zap.NewNop().Sugar()})
	t.Cleanup(runner.Stop)

	_, err := Register(runner, f.coord, DefaultFunctionConfig())
	require.NoError(t, err)
	assert.Len(t, runner.Entries(), 1)

	cfg := DefaultFunctionConfig()
	cfg.MonitorSchedule = "every now and then"
	_, err = Register(jobs.NewRunner(jobs.Options{Logger: zap.NewNop().Sugar()}), f.coord, cfg)
	assert.Error(t, err)
}

func TestTriggerDeepScanRetriesTransientFailure(t *testing.T) {
	var tokens *flakyTokens
	f := newFixture(t, func(c *Config) {
		tokens = &flakyTokens{fakeTokens: &fakeTokens{service: "svc-token"}}
		tokens.failures.Store(1)
		c.Tokens = tokens
	})
	project := f.createProject(t, types.TierFree, []string{"webdev"}, []string{"automation"})
	f.fetcher.items["webdev"] = []reddit.Item{post("webdev", "w1", "automation", time.Hour)}

	cfg := DefaultFunctionConfig()
	cfg.MonitorSchedule = ""
	triggers := newTestTriggers(t, f, cfg)

	res, err := triggers.TriggerDeepScan(context.Background(), DeepScanRequest{UserID: "u1", ProjectID: project.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewItems)
	assert.EqualValues(t, 2, tokens.calls.Load())
	assert.Equal(t, 1, f.fetcher.listCalls["webdev"])
}

func TestTriggerDeepScanReconnectIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	project := f.createProject(t, types.TierFree, []string{"webdev"}, []string{"x"})
	f.linkAccount(t)
	f.tokens.userErr = &reddit.TokenError{Grant: "refresh_token", StatusCode: 401, Err: reddit.ErrReconnectRequired}

	cfg := DefaultFunctionConfig()
	cfg.MonitorSchedule = ""
	triggers := newTestTriggers(t, f, cfg)

	_, err := triggers.TriggerDeepScan(context.Background(), DeepScanRequest{UserID: "u1", ProjectID: project.ID})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, ErrReconnectRequired)
	assert.Equal(t, ClassReconnect, Classify(err))
	assert.Equal(t, 1, f.tokens.userCalls)
}

func TestTriggerDeepScanRejectedAppCredentialsIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	project := f.createProject(t, types.TierFree, []string{"webdev"}, []string{"x"})
	f.tokens.serviceErr = &reddit.TokenError{Grant: "client_credentials", StatusCode: 401, Err: reddit.ErrInvalidCredentials}

	cfg := DefaultFunctionConfig()
	cfg.MonitorSchedule = ""
	triggers := newTestTriggers(t, f, cfg)

	_, err := triggers.TriggerDeepScan(context.Background(), DeepScanRequest{UserID: "u1", ProjectID: project.ID})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, reddit.ErrInvalidCredentials)
	assert.Equal(t, ClassConfiguration, Classify(err))
	assert.Equal(t, 1, f.tokens.svcCalls)
	assert.Zero(t, f.fetcher.listCalls["webdev"])
}

func TestTriggerDeepScanRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	project := f.createProject(t, types.TierFree, []string{"webdev"}, []string{"x"})

	cfg := DefaultFunctionConfig()
	cfg.MonitorSchedule = ""
	cfg.DeepScansPerHour = 1
	triggers := newTestTriggers(t, f, cfg)

	ctx := context.Background()
	_, err := triggers.TriggerDeepScan(ctx, DeepScanRequest{UserID: "u1", ProjectID: project.ID})
	require.NoError(t, err)

	_, err = triggers.TriggerDeepScan(ctx, DeepScanRequest{UserID: "u1", ProjectID: project.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, jobs.ErrRateLimited)
	assert.Equal(t, ClassTransient, Classify(err))
	assert.Equal(t, 1, f.fetcher.listCalls["webdev"])
}

func TestTriggerResponseAndKeywords(t *testing.T) {
	f := newFixture(t, nil)
	project := f.createProject(t, types.TierFree, []string{"webdev"}, []string{"x"})
	ctx := context.Background()
	item := &types.FeedItem{ProjectID: project.ID, Kind: types.KindPost, Title: "help", ExternalID: "w1"}
	_, err := f.repos.Feed.Insert(ctx, item)
	require.NoError(t, err)

	cfg := DefaultFunctionConfig()
	cfg.MonitorSchedule = ""
	triggers := newTestTriggers(t, f, cfg)

	f.generator.text = "Happy to help"
	got, err := triggers.GenerateResponse(ctx, ResponseRequest{UserID: "u1", ProjectID: project.ID, FeedItemID: item.ID})
	require.NoError(t, err)
	assert.Equal(t, "Happy to help", *got.AIResponse)

	f.generator.text = `["focus", "deep work"]`
	keywords, err := triggers.GenerateKeywords(ctx, KeywordsRequest{UserID: "u1", ProjectID: project.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"focus", "deep work"}, keywords)

	_, err = triggers.GenerateResponse(ctx, ResponseRequest{UserID: "u1", ProjectID: project.ID, FeedItemID: "missing"})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	assert.Equal(t, ClassConfiguration, Classify(err))
}

func TestTriggerMonitor(t *testing.T) {
	f := newFixture(t, nil)
	f.createProject(t, types.TierFree, []string{"webdev"}, []string{"automation"})
	f.linkAccount(t)
	f.fetcher.items["webdev"] = []reddit.Item{post("webdev", "w1", "automation", 5*time.Minute)}

	cfg := DefaultFunctionConfig()
	cfg.MonitorSchedule = ""
	triggers := newTestTriggers(t, f, cfg)

	res, err := triggers.Monitor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProjectsMonitored)
	assert.Equal(t, 1, res.ProjectsWithNewItems)
}

// redditStub serves the token, listing and reply endpoints the scan uses
type redditStub struct {
	listings map[string][]map[string]interface{}
	replies  map[string][]map[string]interface{}
	fail     map[string]int
	tokens   atomic.Int32

	// tokenStatus, when set, is the status every token request gets
	tokenStatus int
}

func (s *redditStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/access_token" {
		s.tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if s.tokenStatus != 0 {
			w.WriteHeader(s.tokenStatus)
			fmt.Fprint(w, `{"message":"Unauthorized","error":401}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"svc","token_type":"bearer","expires_in":3600}`)
		return
	}
	if r.Header.Get("Authorization") != "Bearer svc" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "r" {
		http.NotFound(w, r)
		return
	}
	forum := parts[1]
	if code, ok := s.fail[forum]; ok {
		http.Error(w, "upstream unavailable", code)
		return
	}

	wrap := func(kind string, data []map[string]interface{}) map[string]interface{} {
		children := make([]map[string]interface{}, 0, len(data))
		for _, d := range data {
			children = append(children, map[string]interface{}{"kind": kind, "data": d})
		}
		return map[string]interface{}{"kind": "Listing", "data": map[string]interface{}{"children": children}}
	}

	switch parts[2] {
	case "new":
		_ = json.NewEncoder(w).Encode(wrap("t3", s.listings[forum]))
	case "comments":
		id := parts[3]
		_ = json.NewEncoder(w).Encode([]interface{}{
			wrap("t3", nil),
			wrap("t1", s.replies[id]),
		})
	default:
		http.NotFound(w, r)
	}
}

func stubPost(forum, id, title string, age time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"id":           id,
		"name":         "t3_" + id,
		"subreddit":    forum,
		"title":        title,
		"selftext":     "",
		"author":       "alice",
		"permalink":    fmt.Sprintf("/r/%s/comments/%s/", forum, id),
		"score":        3,
		"num_comments": 1,
		"created_utc":  float64(testNow.Add(-age).Unix()),
	}
}

func stubConfig(url string) reddit.Config {
	rcfg := reddit.DefaultConfig()
	rcfg.ClientID = "id"
	rcfg.ClientSecret = "secret"
	rcfg.TokenURL = url + "/api/v1/access_token"
	rcfg.APIBaseURL = url
	rcfg.Timeout = 5 * time.Second
	rcfg.Logger = zap.NewNop().Sugar()
	return rcfg
}

func TestTriggerDeepScanBadAppCredentialsOverHTTP(t *testing.T) {
	stub := &redditStub{tokenStatus: http.StatusUnauthorized}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	rcfg := stubConfig(srv.URL)
	f := newFixture(t, func(c *Config) {
		c.Fetcher = reddit.NewClient(rcfg)
		c.Tokens = reddit.NewTokenManager(rcfg)
	})
	project := f.createProject(t, types.TierFree, []string{"webdev"}, []string{"x"})

	cfg := DefaultFunctionConfig()
	cfg.MonitorSchedule = ""
	triggers := newTestTriggers(t, f, cfg)

	_, err := triggers.TriggerDeepScan(context.Background(), DeepScanRequest{UserID: "u1", ProjectID: project.ID})
	require.Error(t, err)
	assert.Equal(t, ClassConfiguration, Classify(err))
	assert.True(t, jobs.IsPermanent(err))

	var tokenErr *reddit.TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, http.StatusUnauthorized, tokenErr.StatusCode)
	assert.Contains(t, tokenErr.Body, "Unauthorized")
	assert.EqualValues(t, 1, stub.tokens.Load(), "rejected credentials are not retried")
}

func TestDeepScanOverHTTP(t *testing.T) {
	stub := &redditStub{
		listings: map[string][]map[string]interface{}{
			"webdev": {
				stubPost("webdev", "w1", "Productivity apps that stick", 2*time.Hour),
				stubPost("webdev", "w2", "Productivity from last week", 7*24*time.Hour),
				stubPost("webdev", "w3", "CSS grid question", time.Hour),
			},
			"SaaS": {
				stubPost("SaaS", "s1", "Automation ideas for onboarding", 30*time.Minute),
			},
		},
		replies: map[string][]map[string]interface{}{
			"s1": {{
				"id": "c1", "name": "t1_c1", "author": "bob", "body": "automation saved us hours",
				"permalink": "/r/SaaS/comments/s1/x/c1/", "score": 4, "created_utc": float64(testNow.Unix()), "replies": "",
			}},
		},
		fail: map[string]int{"startups": http.StatusServiceUnavailable},
	}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	rcfg := stubConfig(srv.URL)
	f := newFixture(t, func(c *Config) {
		c.Fetcher = reddit.NewClient(rcfg)
		c.Tokens = reddit.NewTokenManager(rcfg)
	})
	project := f.createProject(t, types.TierFree, []string{"webdev", "SaaS", "startups"}, []string{"productivity", "automation"})

	ctx := context.Background()
	res, err := f.coord.DeepScan(ctx, DeepScanRequest{UserID: "u1", ProjectID: project.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 2, res.NewItems)
	assert.Equal(t, []string{"startups"}, res.FailedForums())
	assert.EqualValues(t, 1, stub.tokens.Load())

	items, err := f.coord.Feed(ctx, "u1", project.ID, storage.SortRecent)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "s1", items[0].ExternalID)
	require.Len(t, items[0].Replies, 1)
	assert.Equal(t, "c1", items[0].Replies[0].ID)
	assert.Equal(t, "w1", items[1].ExternalID)
	for _, item := range items {
		assert.False(t, item.CreatedAt.Before(testNow.Add(-24*time.Hour)))
	}

	again, err := f.coord.DeepScan(ctx, DeepScanRequest{UserID: "u1", ProjectID: project.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, again.NewItems)
	assert.EqualValues(t, 1, stub.tokens.Load(), "service token is cached")
}
