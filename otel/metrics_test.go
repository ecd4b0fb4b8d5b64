package otel_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mailcycle/mailcycle/engine"
	mcotel "github.com/mailcycle/mailcycle/otel"
)

// newTestMeter returns a meter backed by a manual reader for collecting metrics in tests.
func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetricsHandler_CycleFinished(t *testing.T) {
	reader, mp := newTestMeter()
	h, err := mcotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	now := time.Now()
	h.Handle(engine.Event{
		Kind:    engine.EventCycleFinished,
		RunID:   "run-1",
		Cycle:   1,
		Outcome: engine.OutcomeSuccess,
		Time:    now,
		Elapsed: 12 * time.Second,
	})
	h.Handle(engine.Event{
		Kind:    engine.EventCycleFinished,
		RunID:   "run-2",
		Cycle:   2,
		Outcome: engine.OutcomeFailed,
		Err:     "processing trigger failed",
		Time:    now.Add(20 * time.Minute),
		Elapsed: 3 * time.Second,
	})

	rm := collectMetrics(t, reader)

	cyclesMetric := findMetric(rm, "mailcycle.cycles")
	if cyclesMetric == nil {
		t.Fatal("mailcycle.cycles metric not found")
	}
	sum, ok := cyclesMetric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data, got %T", cyclesMetric.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Fatalf("cycle count = %d, want 2", total)
	}

	failuresMetric := findMetric(rm, "mailcycle.cycle.failures")
	if failuresMetric == nil {
		t.Fatal("mailcycle.cycle.failures metric not found")
	}
	failSum, ok := failuresMetric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data, got %T", failuresMetric.Data)
	}
	var failures int64
	for _, dp := range failSum.DataPoints {
		failures += dp.Value
	}
	if failures != 1 {
		t.Fatalf("failure count = %d, want 1", failures)
	}

	durationMetric := findMetric(rm, "mailcycle.cycle.duration")
	if durationMetric == nil {
		t.Fatal("mailcycle.cycle.duration metric not found")
	}
	hist, ok := durationMetric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64] data, got %T", durationMetric.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Fatalf("duration samples = %d, want 2", count)
	}
}

func TestMetricsHandler_StepFailures(t *testing.T) {
	reader, mp := newTestMeter()
	h, err := mcotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	now := time.Now()
	h.Handle(engine.Event{
		Kind:  engine.EventStepFailed,
		RunID: "run-1",
		Step:  engine.StepConfirmConnection,
		Err:   "disconnect control not found",
		Time:  now,
	})
	h.Handle(engine.Event{
		Kind:  engine.EventStepDegraded,
		RunID: "run-1",
		Step:  engine.StepSetFilter,
		Err:   "filter option not found",
		Time:  now,
	})
	// Finished steps are not failures.
	h.Handle(engine.Event{
		Kind:  engine.EventStepFinished,
		RunID: "run-1",
		Step:  engine.StepTriggerProcessing,
		Time:  now,
	})

	rm := collectMetrics(t, reader)
	stepMetric := findMetric(rm, "mailcycle.step.failures")
	if stepMetric == nil {
		t.Fatal("mailcycle.step.failures metric not found")
	}
	sum, ok := stepMetric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] data, got %T", stepMetric.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 data points (one per step), got %d", len(sum.DataPoints))
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Fatalf("step failure count = %d, want 2", total)
	}
}
