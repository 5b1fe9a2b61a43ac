package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/steveyegge/pubhub/internal/logger"
	"github.com/steveyegge/pubhub/internal/telemetry"
)

// Options configures a Runner
type Options struct {
	InitialBackoff time.Duration // default 1s
	MaxBackoff     time.Duration // default 30s
	Logger         *zap.SugaredLogger
}

// DefaultOptions returns the default runner options
func DefaultOptions() Options {
	return Options{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Runner executes registered functions for events and cron schedules
type Runner struct {
	opts  Options
	log   *zap.SugaredLogger
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	functions map[string]Function // by event name
	limiters  map[string]*rate.Limiter

	cron    *cron.Cron
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewRunner creates a runner; zero option fields take their defaults
func NewRunner(opts Options) *Runner {
	def := DefaultOptions()
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get("jobs")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		opts:      opts,
		log:       log,
		sleep:     sleepContext,
		functions: make(map[string]Function),
		limiters:  make(map[string]*rate.Limiter),
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{log}),
			cron.SkipIfStillRunning(cronLogger{log}),
		)),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register binds fn to its event. One function per event.
func (r *Runner) Register(fn Function) error {
	if err := fn.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.functions[fn.Event]; ok {
		return fmt.Errorf("event %s already handled by %s", fn.Event, existing.Name)
	}
	r.functions[fn.Event] = fn
	return nil
}

// allow applies the function's rate limit to ev
func (r *Runner) allow(fn Function, ev Event) bool {
	if fn.RateLimit == nil {
		return true
	}
	key := fn.Name + "|"
	if fn.RateLimit.Key != "" {
		key += ev.field(fn.RateLimit.Key)
	}

	r.mu.Lock()
	limiter, ok := r.limiters[key]
	if !ok {
		// Limit events per Period: the bucket holds Limit tokens and refills
		// one token every Period/Limit
		every := fn.RateLimit.Period / time.Duration(fn.RateLimit.Limit)
		limiter = rate.NewLimiter(rate.Every(every), fn.RateLimit.Limit)
		r.limiters[key] = limiter
	}
	r.mu.Unlock()

	return limiter.Allow()
}

// Send runs the function registered for ev.Name and blocks until the run
// finishes. Failed attempts are retried with exponential backoff up to the
// function's Retries, unless the error is Permanent. The returned Run is
// non-nil whenever the function was found.
func (r *Runner) Send(ctx context.Context, ev Event) (*Run, error) {
	r.mu.Lock()
	fn, ok := r.functions[ev.Name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, ev.Name)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	if !r.allow(fn, ev) {
		telemetry.JobRuns.WithLabelValues(fn.Name, "rate_limited").Inc()
		r.log.Warnw("event rate limited", "function", fn.Name, "event_id", ev.ID)
		return nil, fmt.Errorf("%s: %w", fn.Name, ErrRateLimited)
	}

	run := &Run{
		ID:        uuid.New().String(),
		Function:  fn.Name,
		Event:     ev,
		StartedAt: time.Now(),
	}
	sc := newStepContext(run.ID, r.log)
	backoff := r.opts.InitialBackoff
	succeeded := false

	for attempt := 0; attempt <= fn.Retries; attempt++ {
		run.Attempts = attempt + 1
		out, err := r.attempt(ctx, fn, ev, sc)
		if err == nil {
			run.Output = out
			run.Err = nil
			succeeded = true
			break
		}
		run.Err = err

		if IsPermanent(err) || attempt == fn.Retries || ctx.Err() != nil {
			break
		}

		r.log.Infow("function failed, retrying",
			"function", fn.Name, "run_id", run.ID, "attempt", run.Attempts,
			"max_attempts", fn.Retries+1, "delay", backoff, "error", err)
		if err := r.sleep(ctx, backoff); err != nil {
			run.Err = fmt.Errorf("canceled during backoff: %w", err)
			break
		}
		backoff *= 2
		if backoff > r.opts.MaxBackoff {
			backoff = r.opts.MaxBackoff
		}
	}
	run.FinishedAt = time.Now()

	if succeeded {
		telemetry.JobRuns.WithLabelValues(fn.Name, "success").Inc()
		r.log.Infow("function completed", "function", fn.Name, "run_id", run.ID,
			"attempts", run.Attempts, "duration", run.FinishedAt.Sub(run.StartedAt))
		return run, nil
	}

	telemetry.JobRuns.WithLabelValues(fn.Name, "failure").Inc()
	r.log.Errorw("function failed", "function", fn.Name, "run_id", run.ID,
		"attempts", run.Attempts, "error", run.Err)
	return run, run.Err
}

// attempt runs the handler once, converting a panic into a permanent error
func (r *Runner) attempt(ctx context.Context, fn Function, ev Event, sc *StepContext) (out interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Permanent(fmt.Errorf("function %s panicked: %v", fn.Name, p))
		}
	}()
	return fn.Handler(ctx, ev, sc)
}

// Cron registers fn on a standard 5-field cron schedule. Overlapping runs
// of the same entry are skipped.
func (r *Runner) Cron(spec, name string, fn func(ctx context.Context) error) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		r.RunNow(name, fn)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to schedule %s (%q): %w", name, spec, err)
	}
	r.log.Infow("scheduled job", "name", name, "spec", spec)
	return id, nil
}

// RunNow executes a cron job body immediately with the runner's context
func (r *Runner) RunNow(name string, fn func(ctx context.Context) error) {
	start := time.Now()
	if err := fn(r.baseCtx); err != nil {
		telemetry.JobRuns.WithLabelValues(name, "failure").Inc()
		r.log.Errorw("scheduled job failed", "name", name, "error", err)
		return
	}
	telemetry.JobRuns.WithLabelValues(name, "success").Inc()
	r.log.Infow("scheduled job completed", "name", name, "duration", time.Since(start))
}

// Entries lists scheduled cron entries
func (r *Runner) Entries() []cron.Entry {
	return r.cron.Entries()
}

// Start begins firing cron schedules
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the scheduler, cancels in-flight cron jobs, and waits for them to return
func (r *Runner) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
