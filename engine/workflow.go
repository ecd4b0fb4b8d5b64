package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Step names one stage of the workflow cycle.
type Step string

const (
	StepConfirmConnection Step = "confirm_connection"
	StepSetFilter         Step = "set_filter"
	StepExtractRange      Step = "extract_range"
	StepTriggerProcessing Step = "trigger_processing"
	StepFinalize          Step = "finalize"
)

// WorkflowConfig configures a Workflow.
type WorkflowConfig struct {
	Driver   Driver
	Interval time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
	Events   EventHandler
}

// Workflow executes one cycle's ordered steps against the driver. A
// connection or trigger failure aborts the cycle; filter and range
// failures degrade to windows computed locally. Workflow never touches
// engine run state or the cycle store; it only returns the record.
type Workflow struct {
	driver   Driver
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	events   EventHandler
}

// NewWorkflow creates a workflow bound to a driver.
func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	if cfg.Driver == nil {
		return nil, errors.New("workflow driver is nil")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("workflow interval must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Workflow{
		driver:   cfg.Driver,
		interval: cfg.Interval,
		now:      cfg.Now,
		logger:   cfg.Logger,
		events:   cfg.Events,
	}, nil
}

// Run executes one full cycle and returns its record. The record's
// outcome is binary even when individual steps degraded.
func (w *Workflow) Run(ctx context.Context, cycle int) CycleRecord {
	runID := uuid.NewString()
	started := w.now()
	w.emit(Event{Kind: EventCycleStarted, RunID: runID, Cycle: cycle, Time: started})
	w.logger.Info("cycle started", "cycle", cycle, "run_id", runID)

	rec := CycleRecord{
		RunID:       runID,
		CycleNumber: cycle,
		StartedAt:   started,
	}

	if err := w.confirmConnection(ctx, runID, cycle); err != nil {
		return w.fail(rec, err)
	}

	w.setFilter(ctx, runID, cycle)
	window := w.extractRange(ctx, runID, cycle)
	rec.Window = &window

	if err := w.triggerProcessing(ctx, runID, cycle, window); err != nil {
		return w.fail(rec, err)
	}

	w.emit(Event{Kind: EventStepStarted, RunID: runID, Cycle: cycle, Step: StepFinalize, Time: w.now()})
	next := NextRun(window, w.interval)
	rec.NextRunAt = &next
	rec.Outcome = OutcomeSuccess
	rec.FinishedAt = w.now()
	w.emit(Event{Kind: EventStepFinished, RunID: runID, Cycle: cycle, Step: StepFinalize, Time: rec.FinishedAt})
	w.emit(Event{
		Kind:    EventCycleFinished,
		RunID:   runID,
		Cycle:   cycle,
		Outcome: OutcomeSuccess,
		Time:    rec.FinishedAt,
		Elapsed: rec.FinishedAt.Sub(started),
	})
	w.logger.Info("cycle completed",
		"cycle", cycle,
		"window", window.Clock(),
		"next_run_at", next,
	)
	return rec
}

func (w *Workflow) confirmConnection(ctx context.Context, runID string, cycle int) error {
	w.emit(Event{Kind: EventStepStarted, RunID: runID, Cycle: cycle, Step: StepConfirmConnection, Time: w.now()})
	if err := w.driver.ConfirmConnection(ctx); err != nil {
		w.emit(Event{Kind: EventStepFailed, RunID: runID, Cycle: cycle, Step: StepConfirmConnection, Err: err.Error(), Time: w.now()})
		w.logger.Error("connection not confirmed", "cycle", cycle, "error", err)
		return fmt.Errorf("%w: %v", ErrConnectionNotConfirmed, err)
	}
	w.emit(Event{Kind: EventStepFinished, RunID: runID, Cycle: cycle, Step: StepConfirmConnection, Time: w.now()})
	return nil
}

// setFilter is non-fatal: the portal filter is a hint, the extracted or
// computed window is what the cycle actually claims.
func (w *Workflow) setFilter(ctx context.Context, runID string, cycle int) {
	w.emit(Event{Kind: EventStepStarted, RunID: runID, Cycle: cycle, Step: StepSetFilter, Time: w.now()})
	if err := w.driver.ApplyRecentFilter(ctx, w.interval); err != nil {
		err = fmt.Errorf("%w: %v", ErrFilterApply, err)
		w.emit(Event{Kind: EventStepDegraded, RunID: runID, Cycle: cycle, Step: StepSetFilter, Err: err.Error(), Time: w.now()})
		w.logger.Warn("could not apply recent filter, continuing with computed window", "cycle", cycle, "error", err)
		return
	}
	w.emit(Event{Kind: EventStepFinished, RunID: runID, Cycle: cycle, Step: StepSetFilter, Time: w.now()})
}

// extractRange always yields a usable window: the portal-reported one
// when it is present and sane, otherwise one computed from the clock.
func (w *Workflow) extractRange(ctx context.Context, runID string, cycle int) Window {
	w.emit(Event{Kind: EventStepStarted, RunID: runID, Cycle: cycle, Step: StepExtractRange, Time: w.now()})

	window, found, err := w.driver.AppliedWindow(ctx)
	switch {
	case err != nil:
		w.emit(Event{Kind: EventStepDegraded, RunID: runID, Cycle: cycle, Step: StepExtractRange, Err: err.Error(), Time: w.now()})
		w.logger.Warn("could not read applied window, falling back to computed", "cycle", cycle, "error", err)
	case !found:
		w.logger.Debug("portal reports no applied window, using computed", "cycle", cycle)
	case !window.Valid():
		w.emit(Event{Kind: EventStepDegraded, RunID: runID, Cycle: cycle, Step: StepExtractRange, Err: ErrRangeRead.Error(), Time: w.now()})
		w.logger.Warn("portal-reported window is inconsistent, using computed", "cycle", cycle, "window", window)
	default:
		window.Start = window.Start.Truncate(time.Minute)
		window.End = window.End.Truncate(time.Minute)
		w.emit(Event{Kind: EventStepFinished, RunID: runID, Cycle: cycle, Step: StepExtractRange, Time: w.now()})
		w.logger.Info("using portal-reported window", "cycle", cycle, "window", window.Clock())
		return window
	}

	fallback := ComputeWindow(w.now(), w.interval)
	w.logger.Info("using computed window", "cycle", cycle, "window", fallback.Clock())
	return fallback
}

func (w *Workflow) triggerProcessing(ctx context.Context, runID string, cycle int, window Window) error {
	w.emit(Event{Kind: EventStepStarted, RunID: runID, Cycle: cycle, Step: StepTriggerProcessing, Time: w.now()})
	if err := w.driver.TriggerProcessing(ctx, window); err != nil {
		w.emit(Event{Kind: EventStepFailed, RunID: runID, Cycle: cycle, Step: StepTriggerProcessing, Err: err.Error(), Time: w.now()})
		w.logger.Error("could not trigger processing", "cycle", cycle, "error", err)
		return fmt.Errorf("%w: %v", ErrProcessingTrigger, err)
	}
	w.emit(Event{Kind: EventStepFinished, RunID: runID, Cycle: cycle, Step: StepTriggerProcessing, Time: w.now()})
	return nil
}

func (w *Workflow) fail(rec CycleRecord, err error) CycleRecord {
	rec.Outcome = OutcomeFailed
	rec.FailureReason = err.Error()
	rec.FinishedAt = w.now()
	w.emit(Event{
		Kind:    EventCycleFinished,
		RunID:   rec.RunID,
		Cycle:   rec.CycleNumber,
		Outcome: OutcomeFailed,
		Err:     rec.FailureReason,
		Time:    rec.FinishedAt,
		Elapsed: rec.FinishedAt.Sub(rec.StartedAt),
	})
	return rec
}

func (w *Workflow) emit(e Event) {
	if w.events != nil {
		w.events.Handle(e)
	}
}
