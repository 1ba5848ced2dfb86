package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
)

// CreateWorkspace inserts a new workspace rooted at path.
func (s *Store) CreateWorkspace(ctx context.Context, name, path string) (*models.Workspace, error) {
	ws := &models.Workspace{
		ID:        uuid.New().String(),
		Name:      name,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, path, created_at) VALUES (?, ?, ?, ?)`,
		ws.ID, ws.Name, ws.Path, ws.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert workspace: %w", err)
	}
	return ws, nil
}

// GetWorkspace retrieves a workspace by ID. It returns nil, nil if absent.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	ws := &models.Workspace{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, created_at FROM workspaces WHERE id = ?`, id,
	).Scan(&ws.ID, &ws.Name, &ws.Path, &ws.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query workspace: %w", err)
	}
	return ws, nil
}

// ListWorkspaces returns all workspaces ordered by name.
func (s *Store) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, created_at FROM workspaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer rows.Close()

	var out []models.Workspace
	for rows.Next() {
		var ws models.Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.Path, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}
