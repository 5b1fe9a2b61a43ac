package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/pubhub/internal/jobs"
	"github.com/steveyegge/pubhub/internal/types"
)

// Event names handled by the registered functions
const (
	EventDeepScanRequested = "reddit/scan.requested"
	EventResponseRequested = "ai/response.generate"
	EventKeywordsRequested = "project/keywords.generate"
	EventMonitorTick       = "reddit/monitor.tick"
)

// DefaultMonitorSchedule fires a monitor pass every 15 minutes
const DefaultMonitorSchedule = "*/15 * * * *"

// FunctionConfig holds retry and rate-limit settings for the scan functions
type FunctionConfig struct {
	DeepScanRetries  int
	DeepScansPerHour int // per user, 0 = unlimited
	ResponseRetries  int
	ResponsesPerHour int // per user, 0 = unlimited
	KeywordRetries   int
	MonitorRetries   int
	MonitorSchedule  string // empty disables the cron trigger
}

// DefaultFunctionConfig returns the production settings
func DefaultFunctionConfig() FunctionConfig {
	return FunctionConfig{
		DeepScanRetries:  2,
		DeepScansPerHour: 10,
		ResponseRetries:  2,
		ResponsesPerHour: 50,
		KeywordRetries:   1,
		MonitorRetries:   1,
		MonitorSchedule:  DefaultMonitorSchedule,
	}
}

// perUserHourly limits a function per user_id; limit <= 0 means unlimited
func perUserHourly(limit int) *jobs.RateLimit {
	if limit <= 0 {
		return nil
	}
	return &jobs.RateLimit{Limit: limit, Period: time.Hour, Key: "user_id"}
}

// Triggers sends scan events through the job runner and returns their results
type Triggers struct {
	runner *jobs.Runner
}

// Register binds the coordinator's operations to runner events and, when a
// schedule is set, the monitor pass to cron
func Register(runner *jobs.Runner, c *Coordinator, cfg FunctionConfig) (*Triggers, error) {
	functions := []jobs.Function{
		{
			Name:      "reddit-scan-forums",
			Event:     EventDeepScanRequested,
			Retries:   cfg.DeepScanRetries,
			RateLimit: perUserHourly(cfg.DeepScansPerHour),
			Handler: func(ctx context.Context, ev jobs.Event, sc *jobs.StepContext) (interface{}, error) {
				var req DeepScanRequest
				if err := ev.Decode(&req); err != nil {
					return nil, jobs.Permanent(err)
				}
				res, err := c.deepScan(ctx, req, sc)
				return res, retryable(err)
			},
		},
		{
			Name:      "ai-generate-response",
			Event:     EventResponseRequested,
			Retries:   cfg.ResponseRetries,
			RateLimit: perUserHourly(cfg.ResponsesPerHour),
			Handler: func(ctx context.Context, ev jobs.Event, sc *jobs.StepContext) (interface{}, error) {
				var req ResponseRequest
				if err := ev.Decode(&req); err != nil {
					return nil, jobs.Permanent(err)
				}
				item, err := c.attachResponse(ctx, req, sc)
				return item, retryable(err)
			},
		},
		{
			Name:    "project-generate-keywords",
			Event:   EventKeywordsRequested,
			Retries: cfg.KeywordRetries,
			Handler: func(ctx context.Context, ev jobs.Event, sc *jobs.StepContext) (interface{}, error) {
				var req KeywordsRequest
				if err := ev.Decode(&req); err != nil {
					return nil, jobs.Permanent(err)
				}
				keywords, err := c.generateKeywords(ctx, req, sc)
				return keywords, retryable(err)
			},
		},
		{
			Name:    "reddit-monitor-forums",
			Event:   EventMonitorTick,
			Retries: cfg.MonitorRetries,
			Handler: func(ctx context.Context, ev jobs.Event, sc *jobs.StepContext) (interface{}, error) {
				res, err := c.monitorPass(ctx, sc)
				return res, retryable(err)
			},
		},
	}
	for _, fn := range functions {
		if err := runner.Register(fn); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", fn.Name, err)
		}
	}

	t := &Triggers{runner: runner}
	if cfg.MonitorSchedule != "" {
		if _, err := runner.Cron(cfg.MonitorSchedule, "reddit-monitor-forums", func(ctx context.Context) error {
			_, err := t.Monitor(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Triggers) send(ctx context.Context, name string, payload interface{}) (interface{}, error) {
	ev, err := jobs.NewEvent(name, payload)
	if err != nil {
		return nil, err
	}
	run, err := t.runner.Send(ctx, ev)
	if err != nil {
		return nil, err
	}
	return run.Output, nil
}

// TriggerDeepScan runs a deep scan as a job, subject to the per-user rate limit
func (t *Triggers) TriggerDeepScan(ctx context.Context, req DeepScanRequest) (*DeepScanResult, error) {
	out, err := t.send(ctx, EventDeepScanRequested, req)
	if err != nil {
		return nil, err
	}
	res, ok := out.(*DeepScanResult)
	if !ok {
		return nil, fmt.Errorf("unexpected deep scan output %T", out)
	}
	return res, nil
}

// GenerateResponse runs draft generation as a job, subject to the per-user rate limit
func (t *Triggers) GenerateResponse(ctx context.Context, req ResponseRequest) (*types.FeedItem, error) {
	out, err := t.send(ctx, EventResponseRequested, req)
	if err != nil {
		return nil, err
	}
	item, ok := out.(*types.FeedItem)
	if !ok {
		return nil, fmt.Errorf("unexpected response output %T", out)
	}
	return item, nil
}

// GenerateKeywords runs keyword generation as a job
func (t *Triggers) GenerateKeywords(ctx context.Context, req KeywordsRequest) ([]string, error) {
	out, err := t.send(ctx, EventKeywordsRequested, req)
	if err != nil {
		return nil, err
	}
	keywords, ok := out.([]string)
	if !ok {
		return nil, fmt.Errorf("unexpected keywords output %T", out)
	}
	return keywords, nil
}

// Monitor runs one monitor pass as a job
func (t *Triggers) Monitor(ctx context.Context) (*MonitorResult, error) {
	out, err := t.send(ctx, EventMonitorTick, struct{}{})
	if err != nil {
		return nil, err
	}
	res, ok := out.(*MonitorResult)
	if !ok {
		return nil, fmt.Errorf("unexpected monitor output %T", out)
	}
	return res, nil
}
