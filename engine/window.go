// Package engine provides the cycle scheduler and workflow state machine
// that drive the portal through its processing workflow on a timed cadence.
package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// Window is the time range one cycle claims responsibility for.
// Both bounds carry minute precision; Start is never after End.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ComputeWindow returns the "last interval" window ending at now,
// truncated to the minute.
func ComputeWindow(now time.Time, interval time.Duration) Window {
	end := now.Truncate(time.Minute)
	return Window{
		Start: end.Add(-interval).Truncate(time.Minute),
		End:   end,
	}
}

// NextRun returns the scheduled start of the cycle after w.
func NextRun(w Window, interval time.Duration) time.Time {
	return w.End.Add(interval)
}

// Valid reports whether w is a usable range.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && !w.Start.After(w.End)
}

// Clock returns the window formatted as "HH:MM - HH:MM".
func (w Window) Clock() string {
	return fmt.Sprintf("%s - %s", w.Start.Format("15:04"), w.End.Format("15:04"))
}

// MarshalJSON adds HH:MM convenience fields alongside the RFC3339 bounds.
func (w Window) MarshalJSON() ([]byte, error) {
	type alias Window
	return json.Marshal(struct {
		alias
		StartClock string `json:"start_hhmm"`
		EndClock   string `json:"end_hhmm"`
	}{alias(w), w.Start.Format("15:04"), w.End.Format("15:04")})
}
