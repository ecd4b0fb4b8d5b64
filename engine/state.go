package engine

import "time"

// RunState is the operator-visible state of the engine. A single instance
// exists per engine; the scheduler loop is its only writer while running.
// Invariant: Running == false implies NextRunAt == nil.
type RunState struct {
	Running     bool       `json:"running"`
	CycleNumber int        `json:"cycle_number"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	LastCycleAt *time.Time `json:"last_cycle_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Status is the snapshot returned to operators: run state plus the most
// recent cycle record, if any.
type Status struct {
	RunState
	LastCycle *CycleRecord `json:"last_cycle,omitempty"`
}
