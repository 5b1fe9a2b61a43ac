package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/steveyegge/pubhub/internal/logger"
	"github.com/steveyegge/pubhub/internal/types"
)

// FeedStore persists matched feed items per project and keeps the
// feed_ext:{projectId}:{externalId} index that makes inserts idempotent.
type FeedStore struct {
	store Store

	// locks serializes check-then-insert per project within this process.
	// Across processes the item key write is conditional, see Insert.
	locks sync.Map // projectID -> *sync.Mutex
}

// feedItemNamespace seeds item ids derived from external ids
var feedItemNamespace = uuid.MustParse("8f5b4c1e-2d7a-5e3b-9c41-6a0f2e7d9b13")

// NewFeedStore creates a feed repository over store
func NewFeedStore(store Store) *FeedStore {
	return &FeedStore{store: store}
}

func (f *FeedStore) lock(projectID string) func() {
	mu, _ := f.locks.LoadOrStore(projectID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// ItemIDFor is the id an item with externalID gets in projectID. Every
// writer derives the same id, so replicas racing on one post collide on
// one key.
func ItemIDFor(projectID, externalID string) string {
	return uuid.NewSHA1(feedItemNamespace, []byte(projectID+"\x00"+externalID)).String()
}

// Insert stores item unless the project already holds an item with the same
// external id. It reports whether a new item was written. An empty ID is
// derived from the external id (random without one) and an empty status
// defaults to pending.
func (f *FeedStore) Insert(ctx context.Context, item *types.FeedItem) (bool, error) {
	if item.ID == "" {
		if item.ExternalID != "" {
			item.ID = ItemIDFor(item.ProjectID, item.ExternalID)
		} else {
			item.ID = uuid.New().String()
		}
	}
	if item.Status == "" {
		item.Status = types.StatusPending
	}
	if err := item.Validate(); err != nil {
		return false, fmt.Errorf("invalid feed item: %w", err)
	}

	unlock := f.lock(item.ProjectID)
	defer unlock()

	if item.ExternalID != "" {
		exists, err := f.ExistsByExternalID(ctx, item.ProjectID, item.ExternalID)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}

		// Index first, then item: a crash in between leaves a dangling index
		// entry, which lookups treat as absent, so a retry rewrites both.
		ref, _ := json.Marshal(item.ID)
		if err := f.store.Set(ctx, FeedExternalKey(item.ProjectID, item.ExternalID), ref); err != nil {
			return false, fmt.Errorf("failed to index feed item: %w", err)
		}
	}

	data, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("failed to encode feed item: %w", err)
	}
	// Conditional so that another process inserting the same post between
	// our check and this write wins alone
	inserted, err := f.store.SetIfAbsent(ctx, FeedKey(item.ProjectID, item.ID), data)
	if err != nil {
		return false, fmt.Errorf("failed to insert feed item: %w", err)
	}
	return inserted, nil
}

// Get returns one feed item, or an error wrapping ErrNotFound
func (f *FeedStore) Get(ctx context.Context, projectID, itemID string) (*types.FeedItem, error) {
	var item types.FeedItem
	found, err := getJSON(ctx, f.store, FeedKey(projectID, itemID), &item)
	if err != nil {
		return nil, fmt.Errorf("failed to get feed item %s: %w", itemID, err)
	}
	if !found {
		return nil, fmt.Errorf("feed item %s: %w", itemID, ErrNotFound)
	}
	return &item, nil
}

// Update replaces an existing feed item. The external id cannot change.
func (f *FeedStore) Update(ctx context.Context, item *types.FeedItem) error {
	existing, err := f.Get(ctx, item.ProjectID, item.ID)
	if err != nil {
		return err
	}
	if existing.ExternalID != item.ExternalID {
		return fmt.Errorf("external id of feed item %s cannot change", item.ID)
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid feed item: %w", err)
	}
	if err := setJSON(ctx, f.store, FeedKey(item.ProjectID, item.ID), item); err != nil {
		return fmt.Errorf("failed to update feed item %s: %w", item.ID, err)
	}
	return nil
}

// List returns every feed item of a project in storage order.
// Callers sort with Sort.
func (f *FeedStore) List(ctx context.Context, projectID string) ([]*types.FeedItem, error) {
	items, skipped, err := listJSON[types.FeedItem](ctx, f.store, FeedPrefix(projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to list feed for %s: %w", projectID, err)
	}
	if skipped > 0 {
		logger.Get("storage").Warnw("skipped undecodable feed items", "project_id", projectID, "count", skipped)
	}
	return items, nil
}

// FindByExternalID returns the item indexed under externalID, or nil when
// there is none
func (f *FeedStore) FindByExternalID(ctx context.Context, projectID, externalID string) (*types.FeedItem, error) {
	var itemID string
	found, err := getJSON(ctx, f.store, FeedExternalKey(projectID, externalID), &itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", externalID, err)
	}
	if !found {
		return nil, nil
	}
	item, err := f.Get(ctx, projectID, itemID)
	if isNotFound(err) {
		return nil, nil
	}
	return item, err
}

// ExistsByExternalID reports whether the project already holds externalID
func (f *FeedStore) ExistsByExternalID(ctx context.Context, projectID, externalID string) (bool, error) {
	item, err := f.FindByExternalID(ctx, projectID, externalID)
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

// DeleteProject removes every feed item and index entry of a project
func (f *FeedStore) DeleteProject(ctx context.Context, projectID string) error {
	unlock := f.lock(projectID)
	defer unlock()

	if err := deletePrefix(ctx, f.store, FeedPrefix(projectID)); err != nil {
		return fmt.Errorf("failed to delete feed items: %w", err)
	}
	if err := deletePrefix(ctx, f.store, FeedExternalPrefix(projectID)); err != nil {
		return fmt.Errorf("failed to delete feed index: %w", err)
	}
	return nil
}

// SortOrder selects how feed items are ordered for display
type SortOrder string

const (
	SortRecent     SortOrder = "recent"
	SortEngagement SortOrder = "engagement"
	SortRelevance  SortOrder = "relevance"
)

// ParseSortOrder maps a query value to a SortOrder; empty means recent
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(s) {
	case "", SortRecent:
		return SortRecent, nil
	case SortEngagement:
		return SortEngagement, nil
	case SortRelevance:
		return SortRelevance, nil
	}
	return "", fmt.Errorf("unknown sort order %q (want recent, engagement, or relevance)", s)
}

// Sort orders items in place. Ties on the primary key fall back to
// newest first, then to id so the order is total.
func Sort(items []*types.FeedItem, order SortOrder) {
	newer := func(a, b *types.FeedItem) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch order {
		case SortEngagement:
			if a.Engagement() != b.Engagement() {
				return a.Engagement() > b.Engagement()
			}
		case SortRelevance:
			if a.RelevanceScore != b.RelevanceScore {
				return a.RelevanceScore > b.RelevanceScore
			}
		}
		return newer(a, b)
	})
}
