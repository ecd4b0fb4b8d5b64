package engine

import "time"

// RetryPolicy decides how long the scheduler waits after a failed cycle.
// The policy is deliberately flat: every failure gets the same fixed delay,
// with no backoff growth and no retry ceiling. The loop never gives up;
// only an operator stop request ends it.
type RetryPolicy struct {
	Delay time.Duration
}

// NextDelay returns the wait before the next attempt. The error is accepted
// so the contract stays visible at call sites, but it never changes the
// answer: all failures are treated as transient.
func (p RetryPolicy) NextDelay(_ error) time.Duration {
	return p.Delay
}
