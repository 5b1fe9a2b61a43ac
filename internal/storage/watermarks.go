package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/pubhub/internal/types"
)

// Watermarks stores the last-scan instant of each project
type Watermarks struct {
	store Store
}

// NewWatermarks creates a watermark repository over store
func NewWatermarks(store Store) *Watermarks {
	return &Watermarks{store: store}
}

// Get returns the project's watermark, or def when none has been written
func (w *Watermarks) Get(ctx context.Context, projectID string, def time.Time) (time.Time, error) {
	var mark types.ScanWatermark
	found, err := getJSON(ctx, w.store, WatermarkKey(projectID), &mark)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get watermark for %s: %w", projectID, err)
	}
	if !found || mark.Timestamp.IsZero() {
		return def, nil
	}
	return mark.Timestamp, nil
}

// Set writes the project's watermark
func (w *Watermarks) Set(ctx context.Context, projectID string, at time.Time) error {
	mark := types.ScanWatermark{ProjectID: projectID, Timestamp: at.UTC()}
	if err := setJSON(ctx, w.store, WatermarkKey(projectID), mark); err != nil {
		return fmt.Errorf("failed to set watermark for %s: %w", projectID, err)
	}
	return nil
}
