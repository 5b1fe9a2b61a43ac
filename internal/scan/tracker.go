package scan

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/pubhub/internal/events"
	"github.com/steveyegge/pubhub/internal/telemetry"
)

// tracker walks one project scan through the state machine and records an
// event for every transition. Event persistence failures are logged only.
type tracker struct {
	recorder  events.Recorder
	projectID string
	runID     string
	state     events.State
	started   time.Time
	log       *zap.SugaredLogger
}

func (c *Coordinator) newTracker(projectID, runID string) *tracker {
	return &tracker{
		recorder:  c.repos.Events,
		projectID: projectID,
		runID:     runID,
		started:   c.clock.Now(),
		log:       c.log.With("project_id", projectID, "run_id", runID),
	}
}

func (t *tracker) record(ctx context.Context, event *events.ScanEvent) {
	if err := t.recorder.Record(ctx, event); err != nil {
		t.log.Warnw("failed to record scan event", "type", event.Type, "error", err)
	}
}

func (t *tracker) start(ctx context.Context, message string) {
	t.record(ctx, events.NewScanEvent(events.EventTypeScanStarted, t.projectID, t.runID, message))
	t.log.Infow("scan started", "kind", message)
}

// advance moves to next if the state machine allows it
func (t *tracker) advance(ctx context.Context, next events.State) {
	if t.state == "" {
		if next != events.StateLoadingProject {
			t.log.Warnw("scan must start in loading_project", "state", next)
			return
		}
	} else if !t.state.CanTransition(next) {
		t.log.Warnw("illegal scan transition", "from", t.state, "to", next)
		return
	}
	t.state = next
	t.record(ctx, events.NewStateEvent(t.projectID, t.runID, next))
	t.log.Debugw("scan state", "state", next)
}

// forumFailed records a skipped forum
func (t *tracker) forumFailed(ctx context.Context, op, forum string, err error) {
	telemetry.ForumErrors.WithLabelValues(op).Inc()
	class := Classify(err)
	t.log.Warnw("skipping forum", "forum", forum, "op", op, "class", class, "error", err)

	event, evErr := events.NewForumFailedEvent(t.projectID, t.runID, events.ForumFailedData{
		Forum: forum,
		Class: string(class),
		Error: err.Error(),
	})
	if evErr != nil {
		t.log.Warnw("failed to build forum event", "error", evErr)
		return
	}
	t.record(ctx, event)
}

// fail moves to failed, records the error, and returns it
func (t *tracker) fail(ctx context.Context, err error) error {
	class := Classify(err)
	if t.state == "" || t.state.CanTransition(events.StateFailed) {
		t.state = events.StateFailed
		t.record(ctx, events.NewFailedEvent(t.projectID, t.runID, string(class), err))
	}
	t.log.Errorw("scan failed", "class", class, "error", err)
	return err
}

// complete moves to done and records the summary
func (t *tracker) complete(ctx context.Context, eventType events.EventType, data events.ScanCompletedData) {
	if !t.state.CanTransition(events.StateDone) {
		t.log.Warnw("illegal scan transition", "from", t.state, "to", events.StateDone)
		return
	}
	t.state = events.StateDone
	event, err := events.NewCompletedEvent(eventType, t.projectID, t.runID, data)
	if err != nil {
		t.log.Warnw("failed to build completion event", "error", err)
		return
	}
	t.record(ctx, event)
	t.log.Infow("scan completed", "scanned", data.Scanned, "new_items", data.NewItems,
		"failed_forums", len(data.FailedForums), "duration_ms", data.DurationMs)
}
