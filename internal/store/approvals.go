package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
)

const approvalColumns = `id, task_id, type, description, details, status, requested_at, resolved_at`

func scanApproval(row rowScanner) (*models.Approval, error) {
	var a models.Approval
	var details sql.NullString
	var resolvedAt sql.NullTime

	if err := row.Scan(&a.ID, &a.TaskID, &a.Type, &a.Description, &details, &a.Status,
		&a.RequestedAt, &resolvedAt); err != nil {
		return nil, err
	}
	if details.Valid && details.String != "" {
		a.Details = json.RawMessage(details.String)
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return &a, nil
}

// CreateApproval inserts a pending approval.
func (s *Store) CreateApproval(ctx context.Context, taskID, approvalType, description string, details json.RawMessage) (*models.Approval, error) {
	a := &models.Approval{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		Type:        approvalType,
		Description: description,
		Details:     details,
		Status:      models.ApprovalStatusPending,
		RequestedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, task_id, type, description, details, status, requested_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.Type, a.Description, nullString(string(details)), a.Status, a.RequestedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert approval: %w", err)
	}
	return a, nil
}

// GetApproval retrieves an approval by ID. It returns nil, nil if absent.
func (s *Store) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query approval: %w", err)
	}
	return a, nil
}

// ListApprovals returns approvals, optionally filtered by status, oldest first.
func (s *Store) ListApprovals(ctx context.Context, status models.ApprovalStatus) ([]models.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY requested_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var out []models.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ResolveApproval moves a pending approval to status. Only a pending row is
// updated; it returns ErrNotFound if no pending approval matched.
func (s *Store) ResolveApproval(ctx context.Context, id string, status models.ApprovalStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		status, time.Now().UTC(), id, models.ApprovalStatusPending,
	)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
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

// DenyStaleApprovals denies every approval still pending, for use at startup
// when no goroutine can be waiting on them. It returns the number denied.
func (s *Store) DenyStaleApprovals(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, resolved_at = ? WHERE status = ?`,
		models.ApprovalStatusDenied, time.Now().UTC(), models.ApprovalStatusPending,
	)
	if err != nil {
		return 0, fmt.Errorf("deny stale approvals: %w", err)
	}
	return res.RowsAffected()
}
