package reddit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"
)

// Thing kinds used by the API
const (
	kindComment = "t1"
	kindPost    = "t3"
	kindMore    = "more"
)

// PermalinkBase prefixes relative permalinks
const PermalinkBase = "https://reddit.com"

// Item is one post from a forum listing
type Item struct {
	ID         string
	Fullname   string
	Forum      string
	Title      string
	Body       string
	Author     string
	Permalink  string
	URL        string
	Score      int
	NumReplies int
	CreatedAt  time.Time
}

// Text is the scorable text of the post
func (i Item) Text() string {
	return i.Title + " " + i.Body
}

// Link is the absolute URL of the discussion page
func (i Item) Link() string {
	if i.Permalink == "" {
		return i.URL
	}
	return PermalinkBase + i.Permalink
}

// Listing is one page of items plus the cursor for the next page
type Listing struct {
	Items []Item
	After string // empty when there are no more pages
}

// Comment is one reply from a flattened reply tree
type Comment struct {
	ID        string
	Fullname  string
	Author    string
	Body      string
	Permalink string
	Score     int
	Depth     int
	CreatedAt time.Time
}

// thing is the generic {kind, data} envelope
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listingData struct {
	After    *string `json:"after"`
	Children []thing `json:"children"`
}

type listingEnvelope struct {
	Kind string       `json:"kind"`
	Data *listingData `json:"data"`
}

type postData struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	URL         string  `json:"url"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

func (p *postData) validate() error {
	if p.ID == "" {
		return fmt.Errorf("post id missing")
	}
	if p.CreatedUTC <= 0 {
		return fmt.Errorf("post %s has no created_utc", p.ID)
	}
	return nil
}

func (p *postData) toItem(forum string) Item {
	fullname := p.Name
	if fullname == "" {
		fullname = kindPost + "_" + p.ID
	}
	if p.Subreddit != "" {
		forum = p.Subreddit
	}
	return Item{
		ID:         p.ID,
		Fullname:   fullname,
		Forum:      forum,
		Title:      p.Title,
		Body:       p.Selftext,
		Author:     p.Author,
		Permalink:  p.Permalink,
		URL:        p.URL,
		Score:      p.Score,
		NumReplies: p.NumComments,
		CreatedAt:  unixSeconds(p.CreatedUTC),
	}
}

func unixSeconds(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// ListItems fetches one page of the newest posts in forum, in source order.
// limit is clamped to [1, MaxPageSize]; after is the cursor of a previous page.
func (c *Client) ListItems(ctx context.Context, token, forum string, limit int, after string) (*Listing, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if after != "" {
		query.Set("after", after)
	}

	var env listingEnvelope
	if err := c.get(ctx, "list", forum, token, "/r/"+url.PathEscape(forum)+"/new", query, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, malformed("list", forum, "listing data missing")
	}

	listing := &Listing{Items: make([]Item, 0, len(env.Data.Children))}
	if env.Data.After != nil {
		listing.After = *env.Data.After
	}
	for _, child := range env.Data.Children {
		if child.Kind != kindPost {
			continue
		}
		var p postData
		if err := json.Unmarshal(child.Data, &p); err != nil {
			c.cfg.Logger.Warnw("Skipping undecodable post", "forum", forum, "error", err)
			continue
		}
		if err := p.validate(); err != nil {
			c.cfg.Logger.Warnw("Skipping invalid post", "forum", forum, "error", err)
			continue
		}
		listing.Items = append(listing.Items, p.toItem(forum))
	}

	c.cfg.Logger.Debugw("Parsed listing", "forum", forum, "items", len(listing.Items), "after", listing.After)
	return listing, nil
}

// NodeKind tags a decoded reply-tree node
type NodeKind int

const (
	NodeOther   NodeKind = iota // unknown kind, skipped
	NodeReply                   // a live comment, emitted
	NodeMore                    // "load more" continuation stub, skipped
	NodeRemoved                 // deleted/removed placeholder, skipped but children kept
)

func (k NodeKind) String() string {
	switch k {
	case NodeReply:
		return "reply"
	case NodeMore:
		return "more"
	case NodeRemoved:
		return "removed"
	default:
		return "other"
	}
}

type commentData struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Author     string          `json:"author"`
	Body       string          `json:"body"`
	Permalink  string          `json:"permalink"`
	Score      int             `json:"score"`
	Depth      int             `json:"depth"`
	CreatedUTC float64         `json:"created_utc"`
	Replies    json.RawMessage `json:"replies"`
}

// replyNode is one decoded node of the reply tree
type replyNode struct {
	Kind     NodeKind
	Comment  Comment
	Children []thing
}

func decodeNode(t thing) (replyNode, error) {
	switch t.Kind {
	case kindMore:
		return replyNode{Kind: NodeMore}, nil
	case kindComment:
	default:
		return replyNode{Kind: NodeOther}, nil
	}

	var d commentData
	if err := json.Unmarshal(t.Data, &d); err != nil {
		return replyNode{}, fmt.Errorf("failed to decode comment: %w", err)
	}

	node := replyNode{Kind: NodeReply}
	// replies is "" for leaves and a listing object otherwise
	if raw := bytes.TrimSpace(d.Replies); len(raw) > 0 && raw[0] == '{' {
		var env listingEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return replyNode{}, fmt.Errorf("failed to decode replies of %s: %w", d.ID, err)
		}
		if env.Data != nil {
			node.Children = env.Data.Children
		}
	}

	if d.ID == "" || isRemoved(d) {
		node.Kind = NodeRemoved
		return node, nil
	}

	fullname := d.Name
	if fullname == "" {
		fullname = kindComment + "_" + d.ID
	}
	node.Comment = Comment{
		ID:        d.ID,
		Fullname:  fullname,
		Author:    d.Author,
		Body:      d.Body,
		Permalink: d.Permalink,
		Score:     d.Score,
		Depth:     d.Depth,
		CreatedAt: unixSeconds(d.CreatedUTC),
	}
	return node, nil
}

func isRemoved(d commentData) bool {
	return d.Author == "[deleted]" || d.Body == "[deleted]" || d.Body == "[removed]"
}

// ListReplies fetches the reply tree of one post and flattens it depth-first
// (parent before children, siblings in source order). Only live comments
// are returned.
func (c *Client) ListReplies(ctx context.Context, token, forum, itemID string) ([]Comment, error) {
	query := url.Values{"limit": {strconv.Itoa(MaxPageSize)}}
	path := "/r/" + url.PathEscape(forum) + "/comments/" + url.PathEscape(itemID)

	var envs []listingEnvelope
	if err := c.get(ctx, "replies", forum, token, path, query, &envs); err != nil {
		return nil, err
	}
	// [0] is the post itself, [1] the comment listing
	if len(envs) < 2 || envs[1].Data == nil {
		return nil, malformed("replies", forum, "expected post and comment listings, got %d", len(envs))
	}

	comments, err := flattenReplies(envs[1].Data.Children)
	if err != nil {
		return nil, malformed("replies", forum, "%v", err)
	}
	c.cfg.Logger.Debugw("Parsed replies", "forum", forum, "item", itemID, "count", len(comments))
	return comments, nil
}

// flattenReplies walks the tree with an explicit stack
func flattenReplies(roots []thing) ([]Comment, error) {
	var out []Comment
	stack := make([]thing, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, err := decodeNode(top)
		if err != nil {
			return nil, err
		}
		if node.Kind == NodeReply {
			out = append(out, node.Comment)
		}
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
	return out, nil
}

// ForumInfo is descriptive forum metadata
type ForumInfo struct {
	Name           string  `json:"display_name"`
	Title          string  `json:"title"`
	Description    string  `json:"public_description"`
	Subscribers    int     `json:"subscribers"`
	ActiveUsers    int     `json:"accounts_active"`
	Over18         bool    `json:"over18"`
	SubmissionType string  `json:"submission_type"`
	CreatedUTC     float64 `json:"created_utc"`
}

// ForumInfo fetches metadata for one forum
func (c *Client) ForumInfo(ctx context.Context, token, forum string) (*ForumInfo, error) {
	var env struct {
		Kind string     `json:"kind"`
		Data *ForumInfo `json:"data"`
	}
	if err := c.get(ctx, "about", forum, token, "/r/"+url.PathEscape(forum)+"/about", nil, &env); err != nil {
		return nil, err
	}
	if env.Data == nil || env.Data.Name == "" {
		return nil, malformed("about", forum, "forum data missing")
	}
	return env.Data, nil
}
