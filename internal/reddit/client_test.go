package reddit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIBaseURL: srv.URL, Timeout: 5 * time.Second})
}

const listingJSON = `{
  "kind": "Listing",
  "data": {
    "after": "t3_bbb",
    "children": [
      {"kind": "t3", "data": {"id": "aaa", "name": "t3_aaa", "subreddit": "webdev", "title": "Need productivity tools",
        "selftext": "Looking for automation", "author": "alice", "permalink": "/r/webdev/comments/aaa/need/",
        "url": "https://www.reddit.com/r/webdev/comments/aaa/need/", "score": 12, "num_comments": 3, "created_utc": 1748779200.5}},
      {"kind": "t3", "data": {"id": "", "title": "no id", "created_utc": 1748779200}},
      {"kind": "t5", "data": {"id": "zzz"}},
      {"kind": "t3", "data": {"id": "bbb", "title": "Second", "selftext": "", "author": "bob",
        "permalink": "/r/webdev/comments/bbb/second/", "score": 1, "num_comments": 0, "created_utc": 1748775600}}
    ]
  }
}`

func TestListItems(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/webdev/new", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "t3_prev", r.URL.Query().Get("after"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		fmt.Fprint(w, listingJSON)
	})

	listing, err := client.ListItems(context.Background(), "tok", "webdev", 500, "t3_prev")
	require.NoError(t, err)
	assert.Equal(t, "t3_bbb", listing.After)
	require.Len(t, listing.Items, 2, "invalid and non-post children are skipped")

	first := listing.Items[0]
	assert.Equal(t, "aaa", first.ID)
	assert.Equal(t, "t3_aaa", first.Fullname)
	assert.Equal(t, "webdev", first.Forum)
	assert.Equal(t, "Need productivity tools Looking for automation", first.Text())
	assert.Equal(t, "https://reddit.com/r/webdev/comments/aaa/need/", first.Link())
	assert.Equal(t, 12, first.Score)
	assert.Equal(t, 3, first.NumReplies)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 500000000, time.UTC), first.CreatedAt)

	// Source order is preserved
	assert.Equal(t, "bbb", listing.Items[1].ID)
	assert.Equal(t, "t3_bbb", listing.Items[1].Fullname)
}

func TestListItemsNoCursor(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("after"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"kind":"Listing","data":{"after":null,"children":[]}}`)
	})

	listing, err := client.ListItems(context.Background(), "tok", "SaaS", 25, "")
	require.NoError(t, err)
	assert.Empty(t, listing.After)
	assert.Empty(t, listing.Items)
}

func TestListItemsErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retriable bool
		malformed bool
	}{
		{"forbidden", http.StatusForbidden, `{"reason":"private"}`, false, false},
		{"not found", http.StatusNotFound, `{}`, false, false},
		{"rate limited", http.StatusTooManyRequests, `slow down`, true, false},
		{"server error", http.StatusBadGateway, `bad gateway`, true, false},
		{"not json", http.StatusOK, `<html>`, false, true},
		{"missing data", http.StatusOK, `{"kind":"Listing"}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.ListItems(context.Background(), "tok", "webdev", 100, "")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, "webdev", apiErr.Forum)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.retriable, IsRetriable(err))
			assert.Equal(t, tt.malformed, errors.Is(err, ErrMalformedResponse))
			assert.Contains(t, err.Error(), "r/webdev")
		})
	}
}

func TestListItemsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()
	client := NewClient(Config{APIBaseURL: srv.URL, Timeout: 20 * time.Millisecond})

	_, err := client.ListItems(context.Background(), "tok", "webdev", 10, "")
	require.Error(t, err)
	assert.True(t, IsRetriable(err), "timeouts are transient: %v", err)
}

const repliesJSON = `[
  {"kind": "Listing", "data": {"children": [{"kind": "t3", "data": {"id": "aaa"}}]}},
  {"kind": "Listing", "data": {"children": [
    {"kind": "t1", "data": {"id": "c1", "name": "t1_c1", "author": "carol", "body": "try automation", "score": 5,
      "created_utc": 1748779300, "permalink": "/r/webdev/comments/aaa/x/c1/", "depth": 0,
      "replies": {"kind": "Listing", "data": {"children": [
        {"kind": "t1", "data": {"id": "c2", "author": "dave", "body": "agreed", "score": 1, "created_utc": 1748779400, "depth": 1, "replies": ""}},
        {"kind": "t1", "data": {"id": "c3", "author": "[deleted]", "body": "[deleted]", "created_utc": 1748779401, "depth": 1,
          "replies": {"kind": "Listing", "data": {"children": [
            {"kind": "t1", "data": {"id": "c4", "author": "erin", "body": "orphan reply", "created_utc": 1748779402, "depth": 2, "replies": ""}}
          ]}}}},
        {"kind": "more", "data": {"count": 10, "children": ["c9"]}}
      ]}}}},
    {"kind": "t1", "data": {"id": "c5", "author": "frank", "body": "[removed]", "created_utc": 1748779500, "replies": ""}},
    {"kind": "t1", "data": {"id": "c6", "author": "gina", "body": "last", "created_utc": 1748779600, "replies": ""}},
    {"kind": "more", "data": {"count": 3}}
  ]}}
]`

func TestListReplies(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/webdev/comments/aaa", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		fmt.Fprint(w, repliesJSON)
	})

	comments, err := client.ListReplies(context.Background(), "tok", "webdev", "aaa")
	require.NoError(t, err)

	var ids []string
	for _, c := range comments {
		ids = append(ids, c.ID)
	}
	// Depth-first, parents before children, placeholders and stubs dropped
	assert.Equal(t, []string{"c1", "c2", "c4", "c6"}, ids)

	assert.Equal(t, "t1_c1", comments[0].Fullname)
	assert.Equal(t, "t1_c2", comments[1].Fullname)
	assert.Equal(t, "carol", comments[0].Author)
	assert.Equal(t, 5, comments[0].Score)
	assert.Equal(t, 2, comments[2].Depth)
}

func TestListRepliesMalformed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"kind":"Listing","data":{"children":[]}}]`)
	})

	_, err := client.ListReplies(context.Background(), "tok", "webdev", "aaa")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestFlattenRepliesDeepTree(t *testing.T) {
	// A deep chain must not depend on recursion depth
	const depth = 2000
	inner := `""`
	for i := depth; i > 0; i-- {
		inner = fmt.Sprintf(`{"kind":"Listing","data":{"children":[{"kind":"t1","data":{"id":"c%d","body":"b","created_utc":1,"replies":%s}}]}}`, i, inner)
	}
	roots := []thing{{Kind: kindComment, Data: []byte(fmt.Sprintf(`{"id":"c0","body":"b","created_utc":1,"replies":%s}`, inner))}}

	comments, err := flattenReplies(roots)
	require.NoError(t, err)
	assert.Len(t, comments, depth+1)
	assert.Equal(t, "c0", comments[0].ID)
	assert.Equal(t, fmt.Sprintf("c%d", depth), comments[depth].ID)
}

func TestDecodeNodeKinds(t *testing.T) {
	tests := []struct {
		name string
		in   thing
		want NodeKind
	}{
		{"comment", thing{Kind: "t1", Data: []byte(`{"id":"x","author":"a","body":"hi"}`)}, NodeReply},
		{"more stub", thing{Kind: "more", Data: []byte(`{"count":1}`)}, NodeMore},
		{"deleted author", thing{Kind: "t1", Data: []byte(`{"id":"x","author":"[deleted]","body":"hi"}`)}, NodeRemoved},
		{"removed body", thing{Kind: "t1", Data: []byte(`{"id":"x","author":"a","body":"[removed]"}`)}, NodeRemoved},
		{"unknown kind", thing{Kind: "t5", Data: []byte(`{}`)}, NodeOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := decodeNode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, node.Kind, "got %s", node.Kind)
		})
	}
}

func TestForumInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/SaaS/about", r.URL.Path)
		fmt.Fprint(w, `{"kind":"t5","data":{"display_name":"SaaS","public_description":"Software as a service","subscribers":250000,"accounts_active":812}}`)
	})

	info, err := client.ForumInfo(context.Background(), "tok", "SaaS")
	require.NoError(t, err)
	assert.Equal(t, "SaaS", info.Name)
	assert.Equal(t, 250000, info.Subscribers)
	assert.Equal(t, 812, info.ActiveUsers)
	assert.Equal(t, "Software as a service", info.Description)
}

func TestIdentity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/me", r.URL.Path)
		fmt.Fprint(w, `{"id":"abc","name":"founder"}`)
	})

	id, err := client.Identity(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "founder", id.Name)
}

func TestSubmitComment(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/comment", r.URL.Path)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "json", r.PostForm.Get("api_type"))
			assert.Equal(t, "t3_aaa", r.PostForm.Get("thing_id"))
			assert.Equal(t, "Happy to help!", r.PostForm.Get("text"))
			fmt.Fprint(w, `{"json":{"errors":[],"data":{"things":[{"kind":"t1","data":{"id":"new1","name":"t1_new1","author":"founder","body":"Happy to help!","permalink":"/r/webdev/comments/aaa/x/new1/","replies":""}}]}}}`)
		})

		c, err := client.SubmitComment(context.Background(), "tok", "t3_aaa", "Happy to help!")
		require.NoError(t, err)
		assert.Equal(t, "new1", c.ID)
		assert.Equal(t, "t1_new1", c.Fullname)
	})

	t.Run("rejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"json":{"errors":[["RATELIMIT","you are doing that too much","ratelimit"]]}}`)
		})

		_, err := client.SubmitComment(context.Background(), "tok", "t3_aaa", "hi")
		assert.ErrorIs(t, err, ErrCommentRejected)
		assert.Contains(t, err.Error(), "you are doing that too much")
	})

	t.Run("bad parent", func(t *testing.T) {
		client := NewClient(Config{})
		_, err := client.SubmitComment(context.Background(), "tok", "aaa", "hi")
		assert.Error(t, err)
	})
}

func TestValidForumName(t *testing.T) {
	tests := map[string]bool{
		"webdev":                 true,
		"SaaS":                   true,
		"test123":                true,
		"a_b":                    true,
		"ab":                     false,
		"this_name_is_way_too_long": false,
		"with-dash":              false,
		"with space":             false,
		"":                       false,
	}
	for name, want := range tests {
		assert.Equal(t, want, ValidForumName(name), "ValidForumName(%q)", name)
	}
}
