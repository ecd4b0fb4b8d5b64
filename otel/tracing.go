package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mailcycle/mailcycle/engine"
)

// TracingHandler translates engine events into OpenTelemetry spans: one
// span per cycle with a child span per workflow step.
type TracingHandler struct {
	tracer trace.Tracer

	mu         sync.RWMutex
	cycleSpans map[string]trace.Span      // runID -> span
	cycleCtxs  map[string]context.Context // runID -> context (for child spans)
	stepSpans  map[string]trace.Span      // runID:step -> span
}

// NewTracingHandler creates a TracingHandler that uses the given tracer
// to create spans from engine events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:     tracer,
		cycleSpans: make(map[string]trace.Span),
		cycleCtxs:  make(map[string]context.Context),
		stepSpans:  make(map[string]trace.Span),
	}
}

// Handle processes an engine event and creates or ends spans accordingly.
// It implements engine.EventHandler semantics.
func (h *TracingHandler) Handle(e engine.Event) {
	switch e.Kind {
	case engine.EventCycleStarted:
		h.handleCycleStarted(e)
	case engine.EventStepStarted:
		h.handleStepStarted(e)
	case engine.EventStepFinished:
		h.handleStepEnded(e, codes.Ok, "")
	case engine.EventStepDegraded:
		h.handleStepEnded(e, codes.Ok, e.Err)
	case engine.EventStepFailed:
		h.handleStepEnded(e, codes.Error, e.Err)
	case engine.EventCycleFinished:
		h.handleCycleFinished(e)
	}
}

func (h *TracingHandler) handleCycleStarted(e engine.Event) {
	ctx, span := h.tracer.Start(context.Background(), "cycle",
		trace.WithAttributes(
			attribute.String("mailcycle.run_id", e.RunID),
			attribute.Int("mailcycle.cycle", e.Cycle),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.cycleSpans[e.RunID] = span
	h.cycleCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleStepStarted(e engine.Event) {
	h.mu.RLock()
	parentCtx, ok := h.cycleCtxs[e.RunID]
	h.mu.RUnlock()

	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "step:"+string(e.Step),
		trace.WithAttributes(
			attribute.String("mailcycle.step", string(e.Step)),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.stepSpans[e.RunID+":"+string(e.Step)] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleStepEnded(e engine.Event, code codes.Code, errMsg string) {
	key := e.RunID + ":" + string(e.Step)

	h.mu.Lock()
	span, ok := h.stepSpans[key]
	delete(h.stepSpans, key)
	h.mu.Unlock()

	if !ok {
		return
	}

	if errMsg != "" {
		span.SetAttributes(attribute.String("mailcycle.step_error", errMsg))
	}
	if e.Kind == engine.EventStepDegraded {
		span.SetAttributes(attribute.Bool("mailcycle.degraded", true))
	}
	span.SetStatus(code, errMsg)
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleCycleFinished(e engine.Event) {
	h.mu.Lock()
	span, ok := h.cycleSpans[e.RunID]
	delete(h.cycleSpans, e.RunID)
	delete(h.cycleCtxs, e.RunID)
	// Close any step spans still open for this run.
	for key, stepSpan := range h.stepSpans {
		if len(key) > len(e.RunID) && key[:len(e.RunID)] == e.RunID {
			stepSpan.End(trace.WithTimestamp(e.Time))
			delete(h.stepSpans, key)
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	span.SetAttributes(attribute.String("mailcycle.outcome", string(e.Outcome)))
	if e.Outcome == engine.OutcomeFailed {
		span.SetStatus(codes.Error, e.Err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}
