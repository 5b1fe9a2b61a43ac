// Package jobs is the in-process background execution substrate: named
// event handlers with memoized steps, retries, per-key rate limits, and
// cron triggers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRateLimited is returned by Send when the function's rate limit for the
// event's key is exhausted
var ErrRateLimited = errors.New("rate limited")

// ErrNoHandler is returned by Send when no function listens for the event
var ErrNoHandler = errors.New("no function registered for event")

// Event is a named payload that triggers a registered function
type Event struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"ts"`
}

// NewEvent encodes data as the payload of a fresh event
func NewEvent(name string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s payload: %w", name, err)
	}
	return Event{
		ID:        uuid.New().String(),
		Name:      name,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Name, err)
	}
	return nil
}

// field returns a top-level string field of the payload, or "" if absent
func (e Event) field(name string) string {
	var fields map[string]interface{}
	if err := json.Unmarshal(e.Data, &fields); err != nil {
		return ""
	}
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// RateLimit caps how often a function runs per key within a period
type RateLimit struct {
	Limit  int
	Period time.Duration
	// Key names the payload field that partitions the limit (e.g. "user_id").
	// Empty means one limit shared by every event.
	Key string
}

// HandlerFunc runs one attempt of a function. Steps taken through sc survive
// across attempts of the same run.
type HandlerFunc func(ctx context.Context, ev Event, sc *StepContext) (interface{}, error)

// Function is a handler bound to an event name
type Function struct {
	Name      string
	Event     string
	Retries   int
	RateLimit *RateLimit
	Handler   HandlerFunc
}

// Validate checks the function definition
func (f Function) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("function name is required")
	}
	if f.Event == "" {
		return fmt.Errorf("function %s: event is required", f.Name)
	}
	if f.Handler == nil {
		return fmt.Errorf("function %s: handler is required", f.Name)
	}
	if f.Retries < 0 || f.Retries > 10 {
		return fmt.Errorf("function %s: retries must be between 0 and 10 (got %d)", f.Name, f.Retries)
	}
	if rl := f.RateLimit; rl != nil && (rl.Limit < 1 || rl.Period <= 0) {
		return fmt.Errorf("function %s: rate limit needs a positive limit and period", f.Name)
	}
	return nil
}

// Run records one execution of a function for an event
type Run struct {
	ID         string
	Function   string
	Event      Event
	Attempts   int
	Output     interface{}
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// permanentError stops the retry loop
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
