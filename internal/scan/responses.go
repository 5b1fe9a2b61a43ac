package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/steveyegge/pubhub/internal/ai"
	"github.com/steveyegge/pubhub/internal/jobs"
	"github.com/steveyegge/pubhub/internal/relevance"
	"github.com/steveyegge/pubhub/internal/storage"
	"github.com/steveyegge/pubhub/internal/types"
)

// ResponseRequest asks for an engagement draft on a feed item
type ResponseRequest struct {
	UserID     string `json:"user_id"`
	ProjectID  string `json:"project_id"`
	FeedItemID string `json:"feed_item_id"`
	Persona    string `json:"persona,omitempty"` // overrides the project persona
}

// Validate checks the request identifiers
func (r ResponseRequest) Validate() error {
	if r.UserID == "" || r.ProjectID == "" || r.FeedItemID == "" {
		return fmt.Errorf("user_id, project_id and feed_item_id are required")
	}
	return nil
}

// KeywordsRequest asks for generated keywords for a project
type KeywordsRequest struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
}

func (c *Coordinator) loadFeedItem(ctx context.Context, projectID, itemID string) (*types.FeedItem, error) {
	item, err := c.repos.Feed.Get(ctx, projectID, itemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: feed item %s not found", ErrConfiguration, itemID)
		}
		return nil, err
	}
	return item, nil
}

// AttachResponse generates a draft reply for a feed item and stores it on the
// item. Running it again replaces the previous draft.
func (c *Coordinator) AttachResponse(ctx context.Context, req ResponseRequest) (*types.FeedItem, error) {
	return c.attachResponse(ctx, req, nil)
}

func (c *Coordinator) attachResponse(ctx context.Context, req ResponseRequest, sc *jobs.StepContext) (*types.FeedItem, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if c.cfg.Generator == nil {
		return nil, fmt.Errorf("%w: no text generator configured", ErrConfiguration)
	}

	project, err := step(ctx, sc, "load-project", func(ctx context.Context) (*types.Project, error) {
		return c.loadProject(ctx, req.UserID, req.ProjectID)
	})
	if err != nil {
		return nil, err
	}

	draft, err := step(ctx, sc, "generate-response", func(ctx context.Context) (string, error) {
		item, err := c.loadFeedItem(ctx, project.ID, req.FeedItemID)
		if err != nil {
			return "", err
		}
		text, err := c.cfg.Generator.Generate(ctx, ai.ResponsePrompt(project, item.Text(), req.Persona))
		if err != nil {
			return "", upstream(fmt.Errorf("failed to generate response: %w", err))
		}
		return ai.SanitizeResponse(text), nil
	})
	if err != nil {
		return nil, err
	}

	return step(ctx, sc, "save-response", func(ctx context.Context) (*types.FeedItem, error) {
		item, err := c.loadFeedItem(ctx, project.ID, req.FeedItemID)
		if err != nil {
			return nil, err
		}
		now := c.clock.Now().UTC()
		item.AIResponse = &draft
		item.AIGeneratedAt = &now
		if err := c.repos.Feed.Update(ctx, item); err != nil {
			return nil, err
		}
		c.log.Infow("response saved", "project_id", project.ID, "feed_item_id", item.ID, "length", len(draft))
		return item, nil
	})
}

// GenerateKeywords asks the generator for keywords describing the project and
// saves them. Without a generator, or when its answer cannot be parsed, the
// keywords are extracted from the description instead.
func (c *Coordinator) GenerateKeywords(ctx context.Context, req KeywordsRequest) ([]string, error) {
	return c.generateKeywords(ctx, req, nil)
}

func (c *Coordinator) generateKeywords(ctx context.Context, req KeywordsRequest, sc *jobs.StepContext) ([]string, error) {
	project, err := step(ctx, sc, "load-project", func(ctx context.Context) (*types.Project, error) {
		return c.loadProject(ctx, req.UserID, req.ProjectID)
	})
	if err != nil {
		return nil, err
	}

	keywords, err := step(ctx, sc, "extract-keywords", func(ctx context.Context) ([]string, error) {
		return c.extractKeywords(ctx, project.Description), nil
	})
	if err != nil {
		return nil, err
	}

	return step(ctx, sc, "save-keywords", func(ctx context.Context) ([]string, error) {
		// Reload so a concurrent edit of other fields is not overwritten
		current, err := c.loadProject(ctx, req.UserID, req.ProjectID)
		if err != nil {
			return nil, err
		}
		current.Keywords = types.NormalizeKeywords(keywords)
		if err := c.repos.Projects.Update(ctx, current); err != nil {
			return nil, err
		}
		c.log.Infow("keywords saved", "project_id", current.ID, "count", len(current.Keywords))
		return current.Keywords, nil
	})
}

func (c *Coordinator) extractKeywords(ctx context.Context, description string) []string {
	if c.cfg.Generator == nil || strings.TrimSpace(description) == "" {
		return relevance.ExtractKeywords(description)
	}
	text, err := c.cfg.Generator.Generate(ctx, ai.KeywordPrompt(description))
	if err != nil {
		c.log.Warnw("keyword generation failed, using fallback", "error", err)
		return relevance.ExtractKeywords(description)
	}
	keywords, err := ai.ParseStringList(text)
	if err != nil {
		c.log.Warnw("keyword response unparseable, using fallback", "error", err)
		return relevance.ExtractKeywords(description)
	}
	return keywords
}

// PublishResponse posts an item's draft as a reply from the linked account
// and marks the item posted
func (c *Coordinator) PublishResponse(ctx context.Context, userID, projectID, itemID string) (*types.FeedItem, error) {
	if c.cfg.Publisher == nil || c.cfg.Anonymous {
		return nil, fmt.Errorf("%w: publishing requires a linked account", ErrConfiguration)
	}
	if _, err := c.loadProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	item, err := c.loadFeedItem(ctx, projectID, itemID)
	if err != nil {
		return nil, err
	}
	if item.AIResponse == nil || strings.TrimSpace(*item.AIResponse) == "" {
		return nil, fmt.Errorf("%w: item %s has no draft", ErrConfiguration, itemID)
	}
	if item.Status == types.StatusPosted {
		return item, nil
	}

	profile, err := c.repos.Profiles.Get(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if profile == nil || profile.Reddit == nil {
		return nil, fmt.Errorf("%w: no linked account", ErrReconnectRequired)
	}
	token, err := c.userToken(ctx, userID, profile.Reddit)
	if err != nil {
		return nil, err
	}

	parent := "t3_" + item.ExternalID
	if item.Kind == types.KindComment {
		parent = "t1_" + item.ExternalID
	}
	comment, err := c.cfg.Publisher.SubmitComment(ctx, token, parent, *item.AIResponse)
	if err != nil {
		return nil, upstream(fmt.Errorf("failed to publish response: %w", err))
	}

	item.Status = types.StatusPosted
	if err := c.repos.Feed.Update(ctx, item); err != nil {
		return nil, err
	}
	c.log.Infow("response published", "project_id", projectID, "feed_item_id", itemID, "comment", comment.Fullname)
	return item, nil
}

// SetStatus moves a feed item through the review workflow
func (c *Coordinator) SetStatus(ctx context.Context, userID, projectID, itemID string, status types.FeedStatus) (*types.FeedItem, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrConfiguration, status)
	}
	if _, err := c.loadProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	item, err := c.loadFeedItem(ctx, projectID, itemID)
	if err != nil {
		return nil, err
	}
	item.Status = status
	if err := c.repos.Feed.Update(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Feed returns a project's items in the requested order
func (c *Coordinator) Feed(ctx context.Context, userID, projectID string, order storage.SortOrder) ([]*types.FeedItem, error) {
	if _, err := c.loadProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	items, err := c.repos.Feed.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	storage.Sort(items, order)
	return items, nil
}
