// Package otel provides OpenTelemetry integration for mailcycle engine events.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mailcycle/mailcycle/engine"
)

// MetricsHandler translates engine events into OpenTelemetry metrics:
// counters for cycles and step failures, histograms for cycle duration.
type MetricsHandler struct {
	cycles        metric.Int64Counter
	cycleFailures metric.Int64Counter
	stepFailures  metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording cycle metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	cycles, err := meter.Int64Counter("mailcycle.cycles",
		metric.WithDescription("Number of completed cycles"),
	)
	if err != nil {
		return nil, err
	}

	cycleFailures, err := meter.Int64Counter("mailcycle.cycle.failures",
		metric.WithDescription("Number of failed cycles"),
	)
	if err != nil {
		return nil, err
	}

	stepFailures, err := meter.Int64Counter("mailcycle.step.failures",
		metric.WithDescription("Number of failed or degraded workflow steps"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram("mailcycle.cycle.duration",
		metric.WithDescription("Duration of one workflow cycle in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		cycles:        cycles,
		cycleFailures: cycleFailures,
		stepFailures:  stepFailures,
		cycleDuration: cycleDuration,
	}, nil
}

// Handle processes an engine event and records the appropriate metrics.
// It implements engine.EventHandler semantics.
func (h *MetricsHandler) Handle(e engine.Event) {
	switch e.Kind {
	case engine.EventCycleFinished:
		h.handleCycleFinished(e)
	case engine.EventStepFailed, engine.EventStepDegraded:
		h.handleStepFailure(e)
	}
}

func (h *MetricsHandler) handleCycleFinished(e engine.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("outcome", string(e.Outcome)),
	)
	h.cycles.Add(ctx, 1, attrs)
	h.cycleDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	if e.Outcome == engine.OutcomeFailed {
		h.cycleFailures.Add(ctx, 1)
	}
}

func (h *MetricsHandler) handleStepFailure(e engine.Event) {
	h.stepFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("step", string(e.Step)),
		attribute.Bool("degraded", e.Kind == engine.EventStepDegraded),
	))
}
