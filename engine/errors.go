package engine

import "errors"

// Step failure taxonomy. ErrConnectionNotConfirmed and ErrProcessingTrigger
// abort the cycle; filter and range failures degrade to computed windows.
var (
	ErrConnectionNotConfirmed = errors.New("connection not confirmed")
	ErrFilterApply            = errors.New("filter apply failed")
	ErrRangeRead              = errors.New("range read failed")
	ErrProcessingTrigger      = errors.New("processing trigger failed")
	ErrDriverUnavailable      = errors.New("driver unavailable")
)
