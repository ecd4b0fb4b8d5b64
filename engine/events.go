package engine

import "time"

// EventKind identifies the type of event emitted by the engine.
type EventKind string

const (
	// EventCycleStarted is emitted when a workflow cycle begins.
	EventCycleStarted EventKind = "cycle.started"

	// EventStepStarted is emitted when a workflow step begins.
	EventStepStarted EventKind = "step.started"

	// EventStepDegraded is emitted when a step fails but the cycle
	// continues with a fallback value.
	EventStepDegraded EventKind = "step.degraded"

	// EventStepFailed is emitted when a step failure aborts the cycle.
	EventStepFailed EventKind = "step.failed"

	// EventStepFinished is emitted when a step completes successfully.
	EventStepFinished EventKind = "step.finished"

	// EventCycleFinished is emitted when a cycle completes, regardless
	// of outcome.
	EventCycleFinished EventKind = "cycle.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of what happened during cycle execution.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID uniquely identifies the cycle this event belongs to.
	RunID string

	// Cycle is the 1-based cycle number.
	Cycle int

	// Step names the workflow step (empty for cycle-level events).
	Step Step

	// Outcome is set on cycle.finished events.
	Outcome Outcome

	// Err holds the failure reason for failed/degraded events.
	Err string

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration of the step or cycle for finished events.
	Elapsed time.Duration
}

// EventHandler receives engine events. Handlers must be safe for
// concurrent use and must not block; slow consumers should buffer.
type EventHandler interface {
	Handle(Event)
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(Event)

// Handle calls f(e).
func (f EventHandlerFunc) Handle(e Event) { f(e) }

// multiHandler fans one event out to several handlers in order.
type multiHandler []EventHandler

func (m multiHandler) Handle(e Event) {
	for _, h := range m {
		if h != nil {
			h.Handle(e)
		}
	}
}

// CombineHandlers returns a handler that dispatches to each non-nil
// handler in turn. Returns nil when no handlers are given.
func CombineHandlers(handlers ...EventHandler) EventHandler {
	out := make(multiHandler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
