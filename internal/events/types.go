package events

import (
	"context"
	"fmt"
	"time"
)

// EventType represents the type of scan event.
type EventType string

const (
	// EventTypeScanStarted is emitted once when a deep scan or monitor pass begins for a project
	EventTypeScanStarted EventType = "scan_started"
	// EventTypeScanState is emitted on every state transition of a scan
	EventTypeScanState EventType = "scan_state"
	// EventTypeForumFailed is emitted when one forum is skipped after an error
	EventTypeForumFailed EventType = "forum_failed"
	// EventTypeScanCompleted is emitted when a scan finishes, possibly with skipped forums
	EventTypeScanCompleted EventType = "scan_completed"
	// EventTypeScanFailed is emitted when a whole scan aborts
	EventTypeScanFailed EventType = "scan_failed"
	// EventTypeMonitorCompleted is emitted once per project at the end of a monitor pass
	EventTypeMonitorCompleted EventType = "monitor_completed"
)

// IsValid checks if the event type is known
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeScanStarted, EventTypeScanState, EventTypeForumFailed,
		EventTypeScanCompleted, EventTypeScanFailed, EventTypeMonitorCompleted:
		return true
	}
	return false
}

// State is a step of the scan state machine:
// loading_project -> resolving_token -> fetching -> scoring -> persisting -> done | failed
type State string

const (
	StateLoadingProject State = "loading_project"
	StateResolvingToken State = "resolving_token"
	StateFetching       State = "fetching"
	StateScoring        State = "scoring"
	StatePersisting     State = "persisting"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

var stateOrder = map[State]int{
	StateLoadingProject: 0,
	StateResolvingToken: 1,
	StateFetching:       2,
	StateScoring:        3,
	StatePersisting:     4,
	StateDone:           5,
	StateFailed:         5,
}

// IsTerminal reports whether no further transitions follow s
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether moving from s to next follows the state machine.
// Any non-terminal state may fail; otherwise states only move forward one step.
func (s State) CanTransition(next State) bool {
	from, ok := stateOrder[s]
	if !ok || s.IsTerminal() {
		return false
	}
	to, ok := stateOrder[next]
	if !ok {
		return false
	}
	if next == StateFailed {
		return true
	}
	return to == from+1
}

// ScanEvent records one step of a scan for a project.
type ScanEvent struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// ProjectID is the project being scanned
	ProjectID string `json:"project_id"`
	// RunID groups all events of a single scan or monitor pass
	RunID string `json:"run_id"`
	// Type is the type of event
	Type EventType `json:"type"`
	// State is the scan state at the time of the event, if any
	State State `json:"state,omitempty"`
	// Message is a human-readable description of the event
	Message string `json:"message"`
	// Data contains structured, type-specific data (must be JSON-serializable)
	Data map[string]interface{} `json:"data,omitempty"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks if the event has valid field values
func (e *ScanEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type: %s", e.Type)
	}
	if e.Type == EventTypeScanState && e.State == "" {
		return fmt.Errorf("scan_state events require a state")
	}
	return nil
}

// ForumFailedData contains structured data for forum_failed events.
type ForumFailedData struct {
	// Forum is the community that was skipped
	Forum string `json:"forum"`
	// Class is the error classification (reconnect_required, transient, configuration, unknown)
	Class string `json:"class"`
	// Error is the error text
	Error string `json:"error"`
}

// ScanCompletedData contains structured data for scan_completed and monitor_completed events.
type ScanCompletedData struct {
	Scanned      int      `json:"scanned"`
	NewItems     int      `json:"new_items"`
	FailedForums []string `json:"failed_forums,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
}

// Recorder persists scan events.
type Recorder interface {
	// Record stores a new event
	Record(ctx context.Context, event *ScanEvent) error

	// List returns the most recent events for a project, newest first, up to limit (0 = all)
	List(ctx context.Context, projectID string, limit int) ([]*ScanEvent, error)
}
