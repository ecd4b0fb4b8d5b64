package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultInterval is the cadence between successful cycles.
	DefaultInterval = 20 * time.Minute

	// DefaultRetryDelay is the fixed wait after a failed cycle.
	DefaultRetryDelay = 5 * time.Minute

	// DefaultProgressInterval bounds how long a stop request can go
	// unobserved during the wait phase.
	DefaultProgressInterval = 60 * time.Second
)

// Config configures an Engine.
type Config struct {
	Driver Driver
	Store  CycleStore

	Interval         time.Duration
	RetryDelay       time.Duration
	ProgressInterval time.Duration

	// Schedule optionally pins wake-ups to a UTC cron grid instead of
	// window end + interval. Empty means interval scheduling.
	Schedule string

	Now    func() time.Time
	Logger *slog.Logger
	Events EventHandler
}

// Engine runs the eternal cycle loop: execute one workflow pass, record
// the outcome, then suspend until the next due time. Workflow errors
// never escape the loop; only an operator stop request ends it.
type Engine struct {
	workflow *Workflow
	store    CycleStore
	retry    RetryPolicy
	interval time.Duration
	progress time.Duration
	aligned  cron.Schedule
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	state  RunState
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine. The driver is required; everything else has a
// usable default.
func New(cfg Config) (*Engine, error) {
	if cfg.Driver == nil {
		return nil, errors.New("engine driver is nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryCycleStore(0)
	}

	var aligned cron.Schedule
	if cfg.Schedule != "" {
		parsed, err := parseScheduleUTC(cfg.Schedule)
		if err != nil {
			return nil, err
		}
		aligned = parsed
	}

	workflow, err := NewWorkflow(WorkflowConfig{
		Driver:   cfg.Driver,
		Interval: cfg.Interval,
		Now:      cfg.Now,
		Logger:   cfg.Logger,
		Events:   cfg.Events,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		workflow: workflow,
		store:    cfg.Store,
		retry:    RetryPolicy{Delay: cfg.RetryDelay},
		interval: cfg.Interval,
		progress: cfg.ProgressInterval,
		aligned:  aligned,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}, nil
}

// Start launches the background loop. A second Start while the loop is
// active is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done

	started := e.now()
	e.state = RunState{
		Running:   true,
		StartedAt: &started,
	}
	e.mu.Unlock()

	e.logger.Info("engine started", "interval", e.interval, "retry_delay", e.retry.Delay)

	go func() {
		defer close(done)
		e.loop(loopCtx)
	}()
	return nil
}

// Stop requests the loop to exit and waits for it. The in-flight driver
// call, if any, is not interrupted; the loop exits at its next suspend
// point. Stopping a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// Status returns a snapshot of the run state plus the latest cycle record.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	status := Status{RunState: state}
	latest, found, err := e.store.Latest(ctx)
	if err != nil {
		return Status{}, err
	}
	if found {
		status.LastCycle = &latest
	}
	return status, nil
}

// History returns up to limit cycle records, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]CycleRecord, error) {
	return e.store.Recent(ctx, limit)
}

// RecentFailures returns the failure reasons of up to limit recent
// failed cycles, newest first.
func (e *Engine) RecentFailures(ctx context.Context, limit int) ([]CycleRecord, error) {
	recs, err := e.store.Recent(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]CycleRecord, 0, limit)
	for _, rec := range recs {
		if !rec.Failed() {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RunOnce executes a single cycle outside the loop and records it. Used
// by the once command and by operators probing a configured driver.
func (e *Engine) RunOnce(ctx context.Context) (CycleRecord, error) {
	e.mu.Lock()
	e.state.CycleNumber++
	cycle := e.state.CycleNumber
	e.mu.Unlock()

	rec := e.workflow.Run(ctx, cycle)
	if err := e.store.Append(context.Background(), rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (e *Engine) loop(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.state.Running = false
		e.state.NextRunAt = nil
		e.mu.Unlock()
		e.logger.Info("engine stopped")
	}()

	cycle := 0
	for {
		if ctx.Err() != nil {
			return
		}

		cycle++
		e.mu.Lock()
		e.state.CycleNumber = cycle
		e.mu.Unlock()

		rec := e.workflow.Run(ctx, cycle)

		// Append on a fresh context so a stop request issued mid-cycle
		// does not lose the record.
		if err := e.store.Append(context.Background(), rec); err != nil {
			e.logger.Error("persist cycle record", "cycle", cycle, "error", err)
		}

		now := e.now()
		wake := e.nextWake(rec, now)

		e.mu.Lock()
		e.state.LastCycleAt = &rec.FinishedAt
		e.state.LastError = rec.FailureReason
		e.state.NextRunAt = &wake
		e.mu.Unlock()

		if rec.Failed() {
			e.logger.Warn("cycle failed, retrying on fixed delay",
				"cycle", cycle,
				"reason", rec.FailureReason,
				"retry_at", wake,
			)
		} else {
			e.logger.Info("next cycle scheduled", "cycle", cycle, "next_run_at", wake)
		}

		if !e.waitUntil(ctx, wake) {
			return
		}
	}
}

// nextWake resolves when the loop should run again. Failed cycles retry
// on the fixed delay regardless of failure kind; successful cycles
// follow the record's schedule, or the aligned cron grid when one is
// configured.
func (e *Engine) nextWake(rec CycleRecord, now time.Time) time.Time {
	if rec.Failed() {
		return now.Add(e.retry.NextDelay(errors.New(rec.FailureReason)))
	}
	if e.aligned != nil {
		return nextAlignedRunUTC(e.aligned, now)
	}
	if rec.NextRunAt != nil && rec.NextRunAt.After(now) {
		return *rec.NextRunAt
	}
	return now
}

// waitUntil suspends until the deadline, waking at the progress interval
// so a stop request is honored within one interval. Returns false when
// the wait was cancelled.
func (e *Engine) waitUntil(ctx context.Context, until time.Time) bool {
	for {
		remaining := until.Sub(e.now())
		if remaining <= 0 {
			return ctx.Err() == nil
		}

		step := e.progress
		if remaining < step {
			step = remaining
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		if remaining > e.progress {
			e.logger.Debug("waiting for next cycle", "remaining", remaining-step)
		}
	}
}
