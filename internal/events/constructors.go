package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewScanEvent creates a new ScanEvent with a fresh ID and the current time.
func NewScanEvent(eventType EventType, projectID, runID, message string) *ScanEvent {
	return &ScanEvent{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		RunID:     runID,
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewStateEvent creates a scan_state event for a transition into state.
func NewStateEvent(projectID, runID string, state State) *ScanEvent {
	event := NewScanEvent(EventTypeScanState, projectID, runID, fmt.Sprintf("scan entered %s", state))
	event.State = state
	return event
}

// NewForumFailedEvent creates a forum_failed event with type-safe data.
func NewForumFailedEvent(projectID, runID string, data ForumFailedData) (*ScanEvent, error) {
	event := NewScanEvent(EventTypeForumFailed, projectID, runID,
		fmt.Sprintf("skipped r/%s: %s", data.Forum, data.Class))
	if err := event.SetForumFailedData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewCompletedEvent creates a scan_completed or monitor_completed event with type-safe data.
func NewCompletedEvent(eventType EventType, projectID, runID string, data ScanCompletedData) (*ScanEvent, error) {
	if eventType != EventTypeScanCompleted && eventType != EventTypeMonitorCompleted {
		return nil, fmt.Errorf("invalid completion event type: %s", eventType)
	}
	event := NewScanEvent(eventType, projectID, runID,
		fmt.Sprintf("scanned %d items, %d new", data.Scanned, data.NewItems))
	event.State = StateDone
	if err := event.SetCompletedData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewFailedEvent creates a scan_failed event carrying the error text and its class.
func NewFailedEvent(projectID, runID, class string, err error) *ScanEvent {
	event := NewScanEvent(EventTypeScanFailed, projectID, runID, fmt.Sprintf("scan failed: %v", err))
	event.State = StateFailed
	event.Data = map[string]interface{}{
		"class": class,
		"error": err.Error(),
	}
	return event
}

// SetForumFailedData sets the Data field with ForumFailedData in a type-safe way.
func (e *ScanEvent) SetForumFailedData(data ForumFailedData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert ForumFailedData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetForumFailedData retrieves ForumFailedData from the Data field.
func (e *ScanEvent) GetForumFailedData() (*ForumFailedData, error) {
	var data ForumFailedData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse ForumFailedData: %w", err)
	}
	return &data, nil
}

// SetCompletedData sets the Data field with ScanCompletedData in a type-safe way.
func (e *ScanEvent) SetCompletedData(data ScanCompletedData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert ScanCompletedData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetCompletedData retrieves ScanCompletedData from the Data field.
func (e *ScanEvent) GetCompletedData() (*ScanCompletedData, error) {
	var data ScanCompletedData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse ScanCompletedData: %w", err)
	}
	return &data, nil
}

// structToMap converts a struct to map[string]interface{} using JSON marshaling.
func structToMap(data interface{}) (map[string]interface{}, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(bytes, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// mapToStruct converts a map[string]interface{} to a struct using JSON unmarshaling.
func mapToStruct(dataMap map[string]interface{}, target interface{}) error {
	bytes, err := json.Marshal(dataMap)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, target)
}
