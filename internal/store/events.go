package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
)

// AppendEvent appends an event to a task's log and returns it with its
// store-assigned sequence number.
func (s *Store) AppendEvent(ctx context.Context, taskID string, eventType models.EventType, payload json.RawMessage, ts time.Time) (*models.Event, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	ev := &models.Event{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: ts.UTC(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_events (id, task_id, type, payload, timestamp) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.TaskID, ev.Type, string(ev.Payload), ev.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("event seq: %w", err)
	}
	ev.Seq = seq
	return ev, nil
}

// ListEvents returns a task's events in append order.
func (s *Store) ListEvents(ctx context.Context, taskID string) ([]models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT seq, id, task_id, type, payload, timestamp FROM task_events WHERE task_id = ? ORDER BY seq ASC`,
		taskID)
}

// ListEventsSince returns events of all tasks with seq greater than afterSeq,
// in append order, up to limit rows.
func (s *Store) ListEventsSince(ctx context.Context, afterSeq int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.queryEvents(ctx,
		`SELECT seq, id, task_id, type, payload, timestamp FROM task_events WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
		afterSeq, limit)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...interface{}) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var payload string
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.TaskID, &ev.Type, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}
