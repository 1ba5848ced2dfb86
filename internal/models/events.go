package models

import "encoding/json"

// EventType identifies the kind of task event.
type EventType string

const (
	// EventTaskCreated is emitted when a task is handed to an executor.
	EventTaskCreated EventType = "task_created"
	// EventTaskStatusChanged records a status transition reported by the executor.
	EventTaskStatusChanged EventType = "task_status_changed"
	EventTaskPaused        EventType = "task_paused"
	EventTaskResumed       EventType = "task_resumed"
	EventTaskCancelled     EventType = "task_cancelled"
	EventTaskCompleted     EventType = "task_completed"

	// EventUserMessage is a message from the user, including follow-ups.
	EventUserMessage EventType = "user_message"
	// EventAssistantMessage is a reply produced by the agent loop.
	EventAssistantMessage EventType = "assistant_message"

	// EventToolCall is emitted before a tool runs.
	EventToolCall EventType = "tool_call"
	// EventToolResult carries the output of a tool that ran.
	EventToolResult EventType = "tool_result"
	// EventToolBlocked is emitted when a tool call is suppressed before running.
	EventToolBlocked EventType = "tool_blocked"

	EventApprovalRequested EventType = "approval_requested"
	EventApprovalGranted   EventType = "approval_granted"
	EventApprovalDenied    EventType = "approval_denied"

	// EventError records an execution failure.
	EventError EventType = "error"
)

// TaskCreatedPayload is the payload of EventTaskCreated.
type TaskCreatedPayload struct {
	Title       string `json:"title"`
	Prompt      string `json:"prompt"`
	WorkspaceID string `json:"workspace_id"`
}

// StatusChangedPayload is the payload of EventTaskStatusChanged.
type StatusChangedPayload struct {
	From TaskStatus `json:"from,omitempty"`
	To   TaskStatus `json:"to"`
}

// MessagePayload is the payload of user and assistant message events.
type MessagePayload struct {
	Message string `json:"message"`
}

// ToolCallPayload is the payload of EventToolCall.
type ToolCallPayload struct {
	CallID string          `json:"call_id"`
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
}

// ToolResultPayload is the payload of EventToolResult.
type ToolResultPayload struct {
	CallID  string `json:"call_id"`
	Tool    string `json:"tool"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolBlockedPayload is the payload of EventToolBlocked.
type ToolBlockedPayload struct {
	CallID string          `json:"call_id"`
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
	Reason string          `json:"reason"`
}

// ApprovalPayload is the payload of the approval events.
type ApprovalPayload struct {
	ApprovalID  string          `json:"approval_id"`
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// CompletedPayload is the payload of EventTaskCompleted.
type CompletedPayload struct {
	Summary string `json:"summary,omitempty"`
}

// ErrorPayload is the payload of EventError.
type ErrorPayload struct {
	Message string `json:"message"`
}
