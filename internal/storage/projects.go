package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/steveyegge/pubhub/internal/logger"
	"github.com/steveyegge/pubhub/internal/types"
)

// ErrProjectLimit is returned when a user already has as many projects as their tier allows
var ErrProjectLimit = errors.New("project limit reached for tier")

// Projects stores projects under their owner
type Projects struct {
	store    Store
	profiles *Profiles
	feed     *FeedStore
}

// NewProjects creates a project repository. Deleting a project cascades
// through feed to its items.
func NewProjects(store Store, profiles *Profiles, feed *FeedStore) *Projects {
	return &Projects{store: store, profiles: profiles, feed: feed}
}

// Get returns one project, or an error wrapping ErrNotFound
func (r *Projects) Get(ctx context.Context, userID, projectID string) (*types.Project, error) {
	var project types.Project
	found, err := getJSON(ctx, r.store, ProjectKey(userID, projectID), &project)
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", projectID, err)
	}
	if !found {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return &project, nil
}

// List returns the user's projects, oldest first
func (r *Projects) List(ctx context.Context, userID string) ([]*types.Project, error) {
	projects, skipped, err := listJSON[types.Project](ctx, r.store, ProjectPrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list projects for %s: %w", userID, err)
	}
	if skipped > 0 {
		logger.Get("storage").Warnw("skipped undecodable projects", "user_id", userID, "count", skipped)
	}
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

// Create stores a new project for its owner. ID, CreatedAt, Settings and
// Tier are filled in when empty; the owner's tier caps the project count.
func (r *Projects) Create(ctx context.Context, project *types.Project) error {
	if project.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	tier := project.Tier
	profile, err := r.profiles.Get(ctx, project.UserID)
	switch {
	case err == nil:
		tier = profile.Tier
	case !isNotFound(err):
		return err
	}
	if !tier.IsValid() {
		tier = types.TierFree
	}

	if limit := tier.ProjectLimit(); limit > 0 {
		keys, err := r.store.List(ctx, ProjectPrefix(project.UserID))
		if err != nil {
			return fmt.Errorf("failed to count projects: %w", err)
		}
		if len(keys) >= limit {
			return fmt.Errorf("%w: %s allows %d", ErrProjectLimit, tier, limit)
		}
	}

	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	if project.Settings == (types.ProjectSettings{}) {
		project.Settings = types.DefaultProjectSettings()
	}
	project.Tier = tier
	project.Keywords = types.NormalizeKeywords(project.Keywords)
	project.Forums = normalizeForums(project.Forums)

	if err := project.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	if err := setJSON(ctx, r.store, ProjectKey(project.UserID, project.ID), project); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Update replaces an existing project
func (r *Projects) Update(ctx context.Context, project *types.Project) error {
	if _, err := r.Get(ctx, project.UserID, project.ID); err != nil {
		return err
	}
	project.Keywords = types.NormalizeKeywords(project.Keywords)
	project.Forums = normalizeForums(project.Forums)
	if err := project.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	if err := setJSON(ctx, r.store, ProjectKey(project.UserID, project.ID), project); err != nil {
		return fmt.Errorf("failed to update project %s: %w", project.ID, err)
	}
	return nil
}

// Delete removes the project together with its feed items, dedup index,
// watermark and events
func (r *Projects) Delete(ctx context.Context, userID, projectID string) error {
	if _, err := r.Get(ctx, userID, projectID); err != nil {
		return err
	}
	if err := r.feed.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if err := deletePrefix(ctx, r.store, EventPrefix(projectID)); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	if err := r.store.Delete(ctx, WatermarkKey(projectID)); err != nil {
		return fmt.Errorf("failed to delete watermark: %w", err)
	}
	if err := r.store.Delete(ctx, ProjectKey(userID, projectID)); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", projectID, err)
	}
	return nil
}

// normalizeForums trims an optional r/ prefix and drops blanks and duplicates
func normalizeForums(forums []string) []string {
	seen := make(map[string]bool, len(forums))
	out := make([]string, 0, len(forums))
	for _, f := range forums {
		f = strings.TrimSpace(f)
		f = strings.TrimPrefix(strings.TrimPrefix(f, "/"), "r/")
		key := strings.ToLower(f)
		if f == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

func deletePrefix(ctx context.Context, store Store, prefix string) error {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
