package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
)

const taskColumns = `id, workspace_id, title, prompt, status, assigned_agent_role_id, error, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var roleID, errMsg sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(&task.ID, &task.WorkspaceID, &task.Title, &task.Prompt, &task.Status,
		&roleID, &errMsg, &task.CreatedAt, &task.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	task.AssignedAgentRoleID = roleID.String
	task.Error = errMsg.String
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}

// CreateTask inserts a new pending task.
func (s *Store) CreateTask(ctx context.Context, workspaceID, title, prompt string) (*models.Task, error) {
	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Title:       title,
		Prompt:      prompt,
		Status:      models.TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, workspace_id, title, prompt, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.WorkspaceID, task.Title, task.Prompt, task.Status, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetTask retrieves a task by ID. It returns nil, nil if absent.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks returns all tasks, optionally filtered by status, newest first.
func (s *Store) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	return s.queryTasks(ctx, query, args...)
}

// ListTasksByStatus returns tasks in any of the given statuses, oldest first.
func (s *Store) ListTasksByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]models.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status IN (`+placeholders+`) ORDER BY created_at ASC`,
		args...)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...interface{}) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateTask applies the non-nil fields of patch. It returns ErrNotFound if
// the task does not exist.
func (s *Store) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullString(*patch.Error))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, patch.CompletedAt.UTC())
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignAgentRole sets the agent role that owns a task.
func (s *Store) AssignAgentRole(ctx context.Context, id, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET assigned_agent_role_id = ?, updated_at = ? WHERE id = ?`,
		nullString(roleID), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("assign agent role: %w", err)
	}
	return nil
}
