package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidState   = errors.New("task is not in a valid state for this operation")
)
