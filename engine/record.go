package engine

import (
	"encoding/json"
	"time"
)

// Outcome is the binary result of one cycle. Steps may degrade internally,
// but a finished cycle is either a success or a failure.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// CycleRecord is the immutable result of one workflow cycle. Records are
// appended to the cycle store in strictly increasing CycleNumber order and
// never mutated afterwards.
type CycleRecord struct {
	RunID         string     `json:"run_id"`
	CycleNumber   int        `json:"cycle_number"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
	Window        *Window    `json:"window,omitempty"`
	Outcome       Outcome    `json:"outcome"`
	FailureReason string     `json:"failure_reason,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
}

// Duration returns the wall-clock time the cycle took.
func (r CycleRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether the cycle ended with a failure outcome.
func (r CycleRecord) Failed() bool {
	return r.Outcome == OutcomeFailed
}

// MarshalJSON adds the derived duration alongside the stored fields.
func (r CycleRecord) MarshalJSON() ([]byte, error) {
	type alias CycleRecord
	return json.Marshal(struct {
		alias
		DurationSeconds float64 `json:"duration_seconds"`
	}{alias(r), r.Duration().Seconds()})
}
