package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// StepContext memoizes step results for one run. A step that succeeded in
// an earlier attempt returns its recorded result without running again.
type StepContext struct {
	runID string
	log   *zap.SugaredLogger

	mu    sync.Mutex
	memo  map[string]json.RawMessage
	execs map[string]int
}

func newStepContext(runID string, log *zap.SugaredLogger) *StepContext {
	return &StepContext{
		runID: runID,
		log:   log,
		memo:  make(map[string]json.RawMessage),
		execs: make(map[string]int),
	}
}

// RunID identifies the run the steps belong to
func (sc *StepContext) RunID() string {
	return sc.runID
}

// Executions reports how many times the named step actually ran
func (sc *StepContext) Executions(name string) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.execs[name]
}

func (sc *StepContext) lookup(name string) (json.RawMessage, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	raw, ok := sc.memo[name]
	return raw, ok
}

func (sc *StepContext) record(name string, raw json.RawMessage) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.memo[name] = raw
}

func (sc *StepContext) countExec(name string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.execs[name]++
}

// Step runs fn once per run under name and memoizes its result as JSON.
// Failed steps are not recorded, so the next attempt runs them again.
func Step[T any](ctx context.Context, sc *StepContext, name string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	if raw, ok := sc.lookup(name); ok {
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("step %s: failed to restore result: %w", name, err)
		}
		sc.log.Debugw("step replayed", "run_id", sc.runID, "step", name)
		return out, nil
	}

	sc.countExec(name)
	out, err := fn(ctx)
	if err != nil {
		return out, fmt.Errorf("step %s: %w", name, err)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return out, fmt.Errorf("step %s: failed to record result: %w", name, err)
	}
	sc.record(name, raw)
	sc.log.Debugw("step completed", "run_id", sc.runID, "step", name)
	return out, nil
}

// Do runs a step that has no result
func (sc *StepContext) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	_, err := Step(ctx, sc, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
