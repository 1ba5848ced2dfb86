package tui

import (
	"encoding/json"
	"time"
)

// TaskItem is a summary of a task for the list view
type TaskItem struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	TaskTitle   string `json:"title"`
	Status      string `json:"status"`
}

// TaskDetail is the full task information
type TaskDetail struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Title       string     `json:"title"`
	Prompt      string     `json:"prompt"`
	Status      string     `json:"status"`
	Error       string     `json:"error"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// EventItem is one entry of a task's event timeline
type EventItem struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ApprovalItem is a pending approval
type ApprovalItem struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Details     json.RawMessage `json:"details"`
	RequestedAt time.Time       `json:"requested_at"`
}

// WorkspaceItem is a registered workspace
type WorkspaceItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}
