package agent

import "errors"

var (
	// ErrMaxSteps is returned when a run exceeds its planner step budget.
	ErrMaxSteps = errors.New("step limit exceeded")

	// ErrAlreadyRunning is returned when a second run is started concurrently.
	ErrAlreadyRunning = errors.New("executor already running")
)
