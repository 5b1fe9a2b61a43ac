package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/steveyegge/pubhub/internal/events"
	"github.com/steveyegge/pubhub/internal/logger"
)

// Events persists scan events under event:{projectId}:{nanos}-{eventId},
// so key order is chronological
type Events struct {
	store Store
}

var _ events.Recorder = (*Events)(nil)

// NewEvents creates an event repository over store
func NewEvents(store Store) *Events {
	return &Events{store: store}
}

func eventKey(e *events.ScanEvent) string {
	return EventKey(e.ProjectID, fmt.Sprintf("%020d-%s", e.Timestamp.UnixNano(), e.ID))
}

// Record stores event
func (r *Events) Record(ctx context.Context, event *events.ScanEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if err := setJSON(ctx, r.store, eventKey(event), event); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// List returns the project's events newest first, at most limit (0 = all)
func (r *Events) List(ctx context.Context, projectID string, limit int) ([]*events.ScanEvent, error) {
	list, skipped, err := listJSON[events.ScanEvent](ctx, r.store, EventPrefix(projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to list events for %s: %w", projectID, err)
	}
	if skipped > 0 {
		logger.Get("storage").Warnw("skipped undecodable events", "project_id", projectID, "count", skipped)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Prune keeps the newest keep events of a project and deletes the rest.
// It returns the number of deleted events.
func (r *Events) Prune(ctx context.Context, projectID string, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be non-negative (got %d)", keep)
	}
	keys, err := r.store.List(ctx, EventPrefix(projectID))
	if err != nil {
		return 0, fmt.Errorf("failed to list events for %s: %w", projectID, err)
	}
	if len(keys) <= keep {
		return 0, nil
	}
	// Keys sort oldest first
	stale := keys[:len(keys)-keep]
	for _, key := range stale {
		if err := r.store.Delete(ctx, key); err != nil {
			return 0, fmt.Errorf("failed to delete event %s: %w", key, err)
		}
	}
	return len(stale), nil
}
