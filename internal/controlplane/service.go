// Package controlplane provides the HTTP API and service layer for cowork.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesutfelat/cowork-oss-sub009/internal/logger"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"github.com/mesutfelat/cowork-oss-sub009/internal/orchestrator"
	"github.com/mesutfelat/cowork-oss-sub009/internal/store"
	"go.uber.org/zap"
)

// interruptedMessage is recorded on tasks that were running when the daemon stopped.
const interruptedMessage = "interrupted by daemon restart"

// Service provides the control plane business logic.
type Service struct {
	store *store.Store
	orch  *orchestrator.Orchestrator
	log   *logger.Logger
}

// NewService creates a new control plane service.
func NewService(s *store.Store, orch *orchestrator.Orchestrator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store: s,
		orch:  orch,
		log:   log.Component("controlplane"),
	}
}

// Ping checks the database connection.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Recover reconciles persisted state after a restart: approvals nobody can
// answer any more are denied and tasks that were mid-run are failed. Tasks
// keep their event log, so a follow-up message can still continue them.
func (s *Service) Recover(ctx context.Context) error {
	denied, err := s.store.DenyStaleApprovals(ctx)
	if err != nil {
		return fmt.Errorf("deny stale approvals: %w", err)
	}

	interrupted, err := s.store.ListTasksByStatus(ctx,
		models.TaskStatusPlanning,
		models.TaskStatusExecuting,
		models.TaskStatusPaused,
		models.TaskStatusBlocked)
	if err != nil {
		return fmt.Errorf("list interrupted tasks: %w", err)
	}
	for _, t := range interrupted {
		if s.orch.IsActive(t.ID) {
			continue
		}
		if err := s.orch.FailTask(ctx, t.ID, errors.New(interruptedMessage)); err != nil {
			return fmt.Errorf("fail interrupted task %s: %w", t.ID, err)
		}
	}

	if denied > 0 || len(interrupted) > 0 {
		s.log.Info("recovered state",
			zap.Int64("approvals_denied", denied),
			zap.Int("tasks_failed", len(interrupted)))
	}
	return nil
}

// --- Workspace Operations ---

// CreateWorkspace registers a directory as a workspace.
func (s *Service) CreateWorkspace(ctx context.Context, name, path string) (*models.Workspace, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidRequest)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRequest, abs)
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	ws, err := s.store.CreateWorkspace(ctx, name, abs)
	if err != nil {
		return nil, err
	}
	s.log.Info("workspace created", zap.String("workspace_id", ws.ID), zap.String("path", abs))
	return ws, nil
}

// ListWorkspaces returns all workspaces.
func (s *Service) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	return s.store.ListWorkspaces(ctx)
}

// --- Task Operations ---

// CreateTask creates a pending task in a workspace.
func (s *Service) CreateTask(ctx context.Context, workspaceID, title, prompt string) (*models.Task, error) {
	if title == "" && prompt == "" {
		return nil, fmt.Errorf("%w: title or prompt is required", ErrInvalidRequest)
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrWorkspaceNotFound, workspaceID)
	}
	if title == "" {
		title = summarizeTitle(prompt)
	}
	if prompt == "" {
		prompt = title
	}
	return s.store.CreateTask(ctx, workspaceID, title, prompt)
}

func summarizeTitle(prompt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	if len(line) > 60 {
		line = line[:57] + "..."
	}
	return line
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil
}

// ListTasks returns tasks, optionally filtered by status.
func (s *Service) ListTasks(ctx context.Context, status string) ([]models.Task, error) {
	st := models.TaskStatus(status)
	if status != "" && !st.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	return s.store.ListTasks(ctx, st)
}

// StartTask hands a pending task to an executor.
func (s *Service) StartTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusPending {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidState, task.Status)
	}
	if err := s.orch.StartTask(ctx, task); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// CancelTask cancels a running task.
func (s *Service) CancelTask(ctx context.Context, id string) (*models.Task, error) {
	return s.control(ctx, id, s.orch.CancelTask)
}

// PauseTask pauses a running task.
func (s *Service) PauseTask(ctx context.Context, id string) (*models.Task, error) {
	return s.control(ctx, id, s.orch.PauseTask)
}

// ResumeTask resumes a paused task.
func (s *Service) ResumeTask(ctx context.Context, id string) (*models.Task, error) {
	return s.control(ctx, id, s.orch.ResumeTask)
}

// CompleteTask marks a task completed on behalf of the user.
func (s *Service) CompleteTask(ctx context.Context, id string) (*models.Task, error) {
	return s.control(ctx, id, s.orch.CompleteTask)
}

// SendMessage delivers a follow-up message, rebuilding the executor if needed.
func (s *Service) SendMessage(ctx context.Context, id, message string) (*models.Task, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusPending {
		return nil, fmt.Errorf("%w: task has not been started", ErrInvalidState)
	}
	if err := s.orch.SendMessage(ctx, id, message); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

func (s *Service) control(ctx context.Context, id string, op func(context.Context, string) error) (*models.Task, error) {
	if _, err := s.GetTask(ctx, id); err != nil {
		return nil, err
	}
	if err := op(ctx, id); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// ListEvents returns the event log of a task.
func (s *Service) ListEvents(ctx context.Context, taskID string) ([]models.Event, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, taskID)
}

// --- Approval Operations ---

// ListApprovals returns approvals with the given status. Pending approvals
// come from the live index so only answerable ones are listed.
func (s *Service) ListApprovals(ctx context.Context, status string) ([]models.Approval, error) {
	switch models.ApprovalStatus(status) {
	case "", models.ApprovalStatusPending:
		return s.orch.PendingApprovals(), nil
	case models.ApprovalStatusApproved, models.ApprovalStatusDenied:
		return s.store.ListApprovals(ctx, models.ApprovalStatus(status))
	default:
		return nil, fmt.Errorf("%w: unknown approval status %q", ErrInvalidRequest, status)
	}
}

// RespondToApproval answers a pending approval and returns its stored state.
// Answering an already resolved approval changes nothing.
func (s *Service) RespondToApproval(ctx context.Context, id string, approved bool) (*models.Approval, error) {
	a, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: approval %s", ErrNotFound, id)
	}
	if err := s.orch.RespondToApproval(ctx, id, approved); err != nil {
		return nil, err
	}
	return s.store.GetApproval(ctx, id)
}
