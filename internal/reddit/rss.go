package reddit

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/steveyegge/pubhub/internal/types"
)

// RSSSource reads the public Atom feeds of forums. It needs no credentials,
// so tokens passed to it are ignored. Scores and reply counts are not
// published in feeds and stay zero; pagination is not supported.
type RSSSource struct {
	cfg    Config
	parser *gofeed.Parser
}

// NewRSSSource creates a feed-backed listing source
func NewRSSSource(cfg Config) *RSSSource {
	cfg = cfg.withDefaults()
	parser := gofeed.NewParser()
	parser.UserAgent = cfg.UserAgent
	parser.Client = cfg.HTTPClient
	return &RSSSource{cfg: cfg, parser: parser}
}

// ListItems fetches the newest posts of forum from its feed
func (s *RSSSource) ListItems(ctx context.Context, _ string, forum string, limit int, _ string) (*Listing, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	feed, err := s.parse(ctx, "rss", forum, "/r/"+url.PathEscape(forum)+"/new/.rss", limit)
	if err != nil {
		return nil, err
	}

	listing := &Listing{Items: make([]Item, 0, len(feed.Items))}
	for _, entry := range feed.Items {
		id := strings.TrimPrefix(entry.GUID, kindPost+"_")
		if id == "" || id == entry.GUID {
			continue
		}
		listing.Items = append(listing.Items, Item{
			ID:        id,
			Fullname:  entry.GUID,
			Forum:     forum,
			Title:     entry.Title,
			Body:      htmlText(entry.Content),
			Author:    entryAuthor(entry),
			Permalink: permalinkOf(entry.Link),
			URL:       entry.Link,
			CreatedAt: entryTime(entry),
		})
	}
	return listing, nil
}

// ListReplies reads the comment feed of one post. Feeds are already flat.
func (s *RSSSource) ListReplies(ctx context.Context, _ string, forum, itemID string) ([]Comment, error) {
	path := "/r/" + url.PathEscape(forum) + "/comments/" + url.PathEscape(itemID) + "/.rss"
	feed, err := s.parse(ctx, "rss", forum, path, MaxPageSize)
	if err != nil {
		return nil, err
	}

	var comments []Comment
	for _, entry := range feed.Items {
		// The post itself leads the comment feed
		if !strings.HasPrefix(entry.GUID, kindComment+"_") {
			continue
		}
		body := htmlText(entry.Content)
		if body == "[deleted]" || body == "[removed]" {
			continue
		}
		comments = append(comments, Comment{
			ID:        strings.TrimPrefix(entry.GUID, kindComment+"_"),
			Fullname:  entry.GUID,
			Author:    entryAuthor(entry),
			Body:      body,
			Permalink: permalinkOf(entry.Link),
			CreatedAt: entryTime(entry),
		})
	}
	return comments, nil
}

func (s *RSSSource) parse(ctx context.Context, op, forum, path string, limit int) (*gofeed.Feed, error) {
	feedURL := strings.TrimRight(s.cfg.PublicBaseURL, "/") + path + "?limit=" + strconv.Itoa(limit)

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	feed, err := s.parser.ParseURLWithContext(feedURL, reqCtx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &APIError{Op: op, Forum: forum, StatusCode: httpErr.StatusCode, Body: httpErr.Status}
		}
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, &APIError{Op: op, Forum: forum, StatusCode: 200, Err: ErrMalformedResponse}
		}
		return nil, &APIError{Op: op, Forum: forum, Err: err}
	}
	return feed, nil
}

// htmlText extracts the readable text of an entry body. Reddit wraps the
// post markdown in div.md followed by a "submitted by" footer.
func htmlText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	if md := doc.Find("div.md"); md.Length() > 0 {
		return strings.TrimSpace(md.Text())
	}
	return strings.TrimSpace(doc.Text())
}

func entryAuthor(entry *gofeed.Item) string {
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		return strings.TrimPrefix(entry.Authors[0].Name, "/u/")
	}
	return ""
}

func entryTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}
	return time.Time{}
}

func permalinkOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Path
}

// AnonymousTokens stands in for TokenManager when the listing source needs no
// credentials. Every lookup succeeds with an empty token.
type AnonymousTokens struct{}

// ServiceToken implements the token lookup used by scans
func (AnonymousTokens) ServiceToken(context.Context) (string, error) { return "", nil }

// UserToken implements the token lookup used by scans
func (AnonymousTokens) UserToken(context.Context, *types.UserCredential) (string, *types.UserCredential, error) {
	return "", nil, nil
}
