package orchestrator

import "errors"

var (
	// ErrTaskNotFound is returned when a task lookup finds nothing.
	ErrTaskNotFound = errors.New("task not found")

	// ErrWorkspaceNotFound is returned when a task's workspace is missing.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrTaskAlreadyActive is returned by StartTask for a task that already has an executor.
	ErrTaskAlreadyActive = errors.New("task already active")

	// ErrTaskCancelled is returned by executors whose run was cancelled. It is not a failure.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrApprovalDenied is returned by RequestApproval when a user denies the request.
	ErrApprovalDenied = errors.New("approval denied")

	// ErrApprovalTimeout is returned by RequestApproval when nobody answered in time.
	ErrApprovalTimeout = errors.New("approval timed out")

	// ErrInvalidStatus is returned for unknown task statuses.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrShuttingDown is returned once Shutdown has started.
	ErrShuttingDown = errors.New("orchestrator shutting down")
)
