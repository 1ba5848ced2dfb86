package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
)

// TaskRepository persists tasks. Lookups return nil, nil when absent.
type TaskRepository interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) error
}

// WorkspaceRepository reads workspaces.
type WorkspaceRepository interface {
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
}

// ApprovalRepository persists approvals.
type ApprovalRepository interface {
	CreateApproval(ctx context.Context, taskID, approvalType, description string, details json.RawMessage) (*models.Approval, error)
	ResolveApproval(ctx context.Context, id string, status models.ApprovalStatus) error
}

// EventRepository is the append-only task event log.
type EventRepository interface {
	AppendEvent(ctx context.Context, taskID string, eventType models.EventType, payload json.RawMessage, ts time.Time) (*models.Event, error)
	ListEvents(ctx context.Context, taskID string) ([]models.Event, error)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	TaskRepository
	WorkspaceRepository
	ApprovalRepository
	EventRepository
}

// Notifier receives every persisted event. Delivery is fire-and-forget.
type Notifier interface {
	Emit(taskID string, eventType models.EventType, payload json.RawMessage, ts time.Time)
}

// Publisher is an optional Notifier extension that receives the persisted
// event, including its id and sequence number.
type Publisher interface {
	Publish(ev models.Event)
}

// Executor runs the agent loop of one task.
type Executor interface {
	// Execute runs the task until it completes, fails or is cancelled.
	Execute(ctx context.Context) error
	// Cancel stops the run and returns once the executor has acknowledged it.
	Cancel(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// SendMessage delivers a follow-up user message.
	SendMessage(ctx context.Context, message string) error
	// RebuildFromEvents restores conversational state from a task's event log.
	RebuildFromEvents(events []models.Event) error
}

// Host is the orchestrator surface an executor calls back into.
type Host interface {
	LogEvent(ctx context.Context, taskID string, eventType models.EventType, payload any) error
	RequestApproval(ctx context.Context, taskID, approvalType, description string, details any) (bool, error)
	CompleteTask(ctx context.Context, taskID string) error
	FailTask(ctx context.Context, taskID string, cause error) error
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) error
}

// ExecutorFactory builds an executor for a task.
type ExecutorFactory func(task *models.Task, ws *models.Workspace, host Host) Executor

type nopNotifier struct{}

func (nopNotifier) Emit(string, models.EventType, json.RawMessage, time.Time) {}
