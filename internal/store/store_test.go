package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTask(t *testing.T, s *Store) (*models.Workspace, *models.Task) {
	t.Helper()
	ctx := context.Background()
	ws, err := s.CreateWorkspace(ctx, "docs", t.TempDir())
	if err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
	task, err := s.CreateTask(ctx, ws.ID, "Test Task", "summarize the docs")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return ws, task
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestWorkspaceCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ws, err := s.CreateWorkspace(ctx, "alpha", "/tmp/alpha")
	if err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}

	got, err := s.GetWorkspace(ctx, ws.ID)
	if err != nil {
		t.Fatalf("GetWorkspace failed: %v", err)
	}
	if got == nil || got.Path != "/tmp/alpha" {
		t.Errorf("Expected workspace at /tmp/alpha, got %+v", got)
	}

	missing, err := s.GetWorkspace(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil, nil for missing workspace, got %v, %v", missing, err)
	}

	if _, err := s.CreateWorkspace(ctx, "beta", "/tmp/beta"); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListWorkspaces(ctx)
	if err != nil {
		t.Fatalf("ListWorkspaces failed: %v", err)
	}
	if len(list) != 2 || list[0].Name != "alpha" {
		t.Errorf("Expected [alpha beta], got %+v", list)
	}
}

func TestTaskCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ws, task := newTestTask(t, s)

	if task.Status != models.TaskStatusPending {
		t.Errorf("Expected status pending, got %s", task.Status)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Title != "Test Task" || got.Prompt != "summarize the docs" || got.WorkspaceID != ws.ID {
		t.Errorf("Unexpected task %+v", got)
	}

	missing, err := s.GetTask(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil, nil for missing task, got %v, %v", missing, err)
	}

	tasks, err := s.ListTasks(ctx, "")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("Expected 1 task, got %d", len(tasks))
	}

	tasks, err = s.ListTasks(ctx, models.TaskStatusCompleted)
	if err != nil {
		t.Fatalf("ListTasks with filter failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("Expected 0 completed tasks, got %d", len(tasks))
	}

	if err := s.AssignAgentRole(ctx, task.ID, "writer"); err != nil {
		t.Fatalf("AssignAgentRole failed: %v", err)
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.AssignedAgentRoleID != "writer" {
		t.Errorf("Expected role writer, got %q", got.AssignedAgentRoleID)
	}
}

func TestUpdateTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := newTestTask(t, s)

	failed := models.TaskStatusFailed
	msg := "boom"
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.UpdateTask(ctx, task.ID, models.TaskPatch{Status: &failed, Error: &msg, CompletedAt: &now}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Errorf("Expected status failed, got %s", got.Status)
	}
	if got.Error != "boom" {
		t.Errorf("Expected error 'boom', got %q", got.Error)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(now) {
		t.Errorf("Expected completed_at %v, got %v", now, got.CompletedAt)
	}

	// Status-only patch leaves other fields alone.
	planning := models.TaskStatusPlanning
	if err := s.UpdateTask(ctx, task.ID, models.TaskPatch{Status: &planning}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.Error != "boom" {
		t.Errorf("Expected error preserved, got %q", got.Error)
	}

	if err := s.UpdateTask(ctx, "nope", models.TaskPatch{Status: &planning}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	active, err := s.ListTasksByStatus(ctx, models.TaskStatusPlanning, models.TaskStatusExecuting)
	if err != nil {
		t.Fatalf("ListTasksByStatus failed: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Expected 1 active task, got %d", len(active))
	}
}

func TestApprovals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := newTestTask(t, s)

	a, err := s.CreateApproval(ctx, task.ID, "run_command", "run go test", json.RawMessage(`{"command":"go"}`))
	if err != nil {
		t.Fatalf("CreateApproval failed: %v", err)
	}
	if a.Status != models.ApprovalStatusPending {
		t.Errorf("Expected pending, got %s", a.Status)
	}

	pending, err := s.ListApprovals(ctx, models.ApprovalStatusPending)
	if err != nil {
		t.Fatalf("ListApprovals failed: %v", err)
	}
	if len(pending) != 1 || string(pending[0].Details) != `{"command":"go"}` {
		t.Errorf("Unexpected pending approvals %+v", pending)
	}

	if err := s.ResolveApproval(ctx, a.ID, models.ApprovalStatusApproved); err != nil {
		t.Fatalf("ResolveApproval failed: %v", err)
	}
	// A resolved approval cannot be resolved again.
	if err := s.ResolveApproval(ctx, a.ID, models.ApprovalStatusDenied); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second resolve, got %v", err)
	}

	got, _ := s.GetApproval(ctx, a.ID)
	if got.Status != models.ApprovalStatusApproved || got.ResolvedAt == nil {
		t.Errorf("Expected approved with resolved_at, got %+v", got)
	}
}

func TestDenyStaleApprovals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := newTestTask(t, s)

	for i := 0; i < 2; i++ {
		if _, err := s.CreateApproval(ctx, task.ID, "delete_file", "rm", nil); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.DenyStaleApprovals(ctx)
	if err != nil {
		t.Fatalf("DenyStaleApprovals failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 denied, got %d", n)
	}
	pending, _ := s.ListApprovals(ctx, models.ApprovalStatusPending)
	if len(pending) != 0 {
		t.Errorf("Expected no pending approvals, got %d", len(pending))
	}
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, task := newTestTask(t, s)
	_, other := newTestTask(t, s)

	now := time.Now()
	types := []models.EventType{models.EventTaskCreated, models.EventUserMessage, models.EventToolCall}
	var lastSeq int64
	for _, typ := range types {
		ev, err := s.AppendEvent(ctx, task.ID, typ, json.RawMessage(`{"n":1}`), now)
		if err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
		if ev.Seq <= lastSeq {
			t.Errorf("Expected increasing seq, got %d after %d", ev.Seq, lastSeq)
		}
		lastSeq = ev.Seq
	}
	if _, err := s.AppendEvent(ctx, other.ID, models.EventTaskCreated, nil, now); err != nil {
		t.Fatal(err)
	}

	events, err := s.ListEvents(ctx, task.ID)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	for i, typ := range types {
		if events[i].Type != typ {
			t.Errorf("Event %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}

	since, err := s.ListEventsSince(ctx, events[1].Seq, 0)
	if err != nil {
		t.Fatalf("ListEventsSince failed: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("Expected 2 events after seq %d, got %d", events[1].Seq, len(since))
	}
	if string(since[1].Payload) != "{}" {
		t.Errorf("Expected empty payload stored as {}, got %s", since[1].Payload)
	}
}
