package controlplane

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/agent"
	"github.com/mesutfelat/cowork-oss-sub009/internal/audit"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"github.com/mesutfelat/cowork-oss-sub009/internal/orchestrator"
	"github.com/mesutfelat/cowork-oss-sub009/internal/store"
)

type testEnv struct {
	store   *store.Store
	orch    *orchestrator.Orchestrator
	service *Service
	server  *Server
	handler http.Handler
	wsPath  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := audit.NewBroadcaster(nil)
	orch := orchestrator.New(st, agent.NewFactory(agent.Deps{}), bus, nil)
	t.Cleanup(func() {
		orch.Shutdown(context.Background())
		orch.Wait()
	})

	service := NewService(st, orch, nil)
	server := NewServer(service, bus, "127.0.0.1:0", nil)
	server.heartbeat = 50 * time.Millisecond
	return &testEnv{
		store:   st,
		orch:    orch,
		service: service,
		server:  server,
		handler: server.Handler(),
		wsPath:  t.TempDir(),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func (e *testEnv) workspace(t *testing.T) models.Workspace {
	t.Helper()
	w := e.do(t, http.MethodPost, "/workspaces", map[string]string{"name": "ws", "path": e.wsPath})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating workspace, got %d: %s", w.Code, w.Body.String())
	}
	return decode[models.Workspace](t, w)
}

func (e *testEnv) createTask(t *testing.T, wsID, prompt string, start bool) models.Task {
	t.Helper()
	w := e.do(t, http.MethodPost, "/tasks", map[string]any{
		"workspace_id": wsID,
		"title":        "Task",
		"prompt":       prompt,
		"start":        start,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating task, got %d: %s", w.Code, w.Body.String())
	}
	return decode[models.Task](t, w)
}

func (e *testEnv) waitStatus(t *testing.T, id string, want models.TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, _ := e.store.GetTask(context.Background(), id)
		if task != nil && task.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for task %s to be %s", id, want)
}

func TestHealthEndpoint_OK(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	health := decode[HealthResponse](t, w)
	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, http.MethodPost, "/health", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	e := newTestEnv(t)
	e.store.Close()

	w := e.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	health := decode[HealthResponse](t, w)
	if health.OK {
		t.Error("Expected health.OK to be false when DB is down")
	}
	if health.DB == "ok" {
		t.Error("Expected DB status to indicate error")
	}
}

func TestWorkspaces(t *testing.T) {
	e := newTestEnv(t)
	ws := e.workspace(t)
	if ws.Path != e.wsPath {
		t.Errorf("Expected path %s, got %s", e.wsPath, ws.Path)
	}

	list := decode[[]models.Workspace](t, e.do(t, http.MethodGet, "/workspaces", nil))
	if len(list) != 1 || list[0].ID != ws.ID {
		t.Errorf("Expected the created workspace to be listed, got %+v", list)
	}

	w := e.do(t, http.MethodPost, "/workspaces", map[string]string{"path": filepath.Join(e.wsPath, "missing")})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a missing directory, got %d", w.Code)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/tasks", map[string]string{"workspace_id": "nope", "prompt": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown workspace, got %d", w.Code)
	}

	ws := e.workspace(t)
	w = e.do(t, http.MethodPost, "/tasks", map[string]string{"workspace_id": ws.ID})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without title or prompt, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid json, got %d", rec.Code)
	}
}

func TestTaskLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ws := e.workspace(t)
	if err := os.WriteFile(filepath.Join(e.wsPath, "notes.md"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	task := e.createTask(t, ws.ID, `/tool read_file {"path":"notes.md"}`, false)
	if task.Status != models.TaskStatusPending {
		t.Errorf("Expected pending, got %s", task.Status)
	}

	list := decode[[]models.Task](t, e.do(t, http.MethodGet, "/tasks?status=pending", nil))
	if len(list) != 1 {
		t.Errorf("Expected 1 pending task, got %d", len(list))
	}
	if w := e.do(t, http.MethodGet, "/tasks?status=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown status, got %d", w.Code)
	}

	w := e.do(t, http.MethodPost, "/tasks/"+task.ID+"/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 starting task, got %d: %s", w.Code, w.Body.String())
	}
	e.waitStatus(t, task.ID, models.TaskStatusCompleted)

	if w := e.do(t, http.MethodPost, "/tasks/"+task.ID+"/start", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 starting a started task, got %d", w.Code)
	}

	w = e.do(t, http.MethodPost, "/tasks/"+task.ID+"/message", map[string]string{"message": "thanks"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 sending message, got %d: %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(3 * time.Second)
	var events []models.Event
	for time.Now().Before(deadline) {
		events = decode[[]models.Event](t, e.do(t, http.MethodGet, "/tasks/"+task.ID+"/events", nil))
		if countType(events, models.EventAssistantMessage) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := countType(events, models.EventAssistantMessage); n != 2 {
		t.Fatalf("Expected 2 assistant messages, got %d", n)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Fatalf("Events out of order at %d", i)
		}
	}
}

func countType(events []models.Event, eventType models.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func TestTaskByID_Errors(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(t, http.MethodGet, "/tasks/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/tasks/missing/cancel", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 cancelling unknown task, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/tasks/missing/explode", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown action, got %d", w.Code)
	}

	ws := e.workspace(t)
	task := e.createTask(t, ws.ID, "hello", false)
	w := e.do(t, http.MethodPost, "/tasks/"+task.ID+"/message", map[string]string{"message": "hi"})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 messaging a pending task, got %d", w.Code)
	}
	w = e.do(t, http.MethodPost, "/tasks/"+task.ID+"/message", map[string]string{"message": " "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty message, got %d", w.Code)
	}
}

func TestApprovalFlow(t *testing.T) {
	e := newTestEnv(t)
	ws := e.workspace(t)
	target := filepath.Join(e.wsPath, "old.log")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	task := e.createTask(t, ws.ID, `/tool delete_file {"path":"old.log"}`, true)

	var pending []models.Approval
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		pending = decode[[]models.Approval](t, e.do(t, http.MethodGet, "/approvals", nil))
		if len(pending) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending approval, got %d", len(pending))
	}
	if pending[0].TaskID != task.ID || pending[0].Type != "delete_file" {
		t.Errorf("Unexpected approval %+v", pending[0])
	}

	path := "/approvals/" + pending[0].ID + "/respond"
	if w := e.do(t, http.MethodPost, path, map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without approved flag, got %d", w.Code)
	}

	w := e.do(t, http.MethodPost, path, map[string]bool{"approved": true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 responding, got %d: %s", w.Code, w.Body.String())
	}
	if a := decode[models.Approval](t, w); a.Status != models.ApprovalStatusApproved {
		t.Errorf("Expected approved, got %s", a.Status)
	}

	e.waitStatus(t, task.ID, models.TaskStatusCompleted)
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("Expected file to be deleted after approval, stat err = %v", err)
	}

	// A second answer is a no-op and reports the stored outcome.
	w = e.do(t, http.MethodPost, path, map[string]bool{"approved": false})
	if a := decode[models.Approval](t, w); a.Status != models.ApprovalStatusApproved {
		t.Errorf("Expected approval to stay approved, got %s", a.Status)
	}

	approved := decode[[]models.Approval](t, e.do(t, http.MethodGet, "/approvals?status=approved", nil))
	if len(approved) != 1 {
		t.Errorf("Expected 1 approved approval, got %d", len(approved))
	}
	if w := e.do(t, http.MethodPost, "/approvals/missing/respond", map[string]bool{"approved": true}); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown approval, got %d", w.Code)
	}
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t)
	ws := e.workspace(t)
	task := e.createTask(t, ws.ID, "stream me", false)

	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/stream?task="+task.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() || !strings.HasPrefix(scanner.Text(), ": connected") {
		t.Fatalf("Expected connection comment, got %q", scanner.Text())
	}

	if _, err := e.service.StartTask(context.Background(), task.ID); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}

	var seen []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			seen = append(seen, strings.TrimPrefix(line, "event: "))
		}
		if line == "event: "+string(models.EventTaskCompleted) {
			break
		}
	}
	if len(seen) == 0 || seen[len(seen)-1] != string(models.EventTaskCompleted) {
		t.Fatalf("Expected stream to deliver task_completed, got %v", seen)
	}
	if seen[0] != string(models.EventTaskStatusChanged) {
		t.Errorf("Expected the first event to be the planning transition, got %s", seen[0])
	}
}

func TestRecover(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	ws := e.workspace(t)

	running, _ := e.store.CreateTask(ctx, ws.ID, "running", "x")
	executing := models.TaskStatusExecuting
	if err := e.store.UpdateTask(ctx, running.ID, models.TaskPatch{Status: &executing}); err != nil {
		t.Fatal(err)
	}
	pending, _ := e.store.CreateTask(ctx, ws.ID, "pending", "x")
	stale, err := e.store.CreateApproval(ctx, running.ID, "delete_file", "Allow?", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := e.service.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	got, _ := e.store.GetTask(ctx, running.ID)
	if got.Status != models.TaskStatusFailed || got.Error != interruptedMessage {
		t.Errorf("Expected interrupted task to fail, got %s %q", got.Status, got.Error)
	}
	got, _ = e.store.GetTask(ctx, pending.ID)
	if got.Status != models.TaskStatusPending {
		t.Errorf("Pending tasks must be left alone, got %s", got.Status)
	}
	a, _ := e.store.GetApproval(ctx, stale.ID)
	if a.Status != models.ApprovalStatusDenied {
		t.Errorf("Expected stale approval denied, got %s", a.Status)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrTaskNotFound, http.StatusNotFound},
		{orchestrator.ErrWorkspaceNotFound, http.StatusNotFound},
		{ErrInvalidRequest, http.StatusBadRequest},
		{ErrInvalidState, http.StatusConflict},
		{orchestrator.ErrTaskAlreadyActive, http.StatusConflict},
		{orchestrator.ErrApprovalDenied, http.StatusForbidden},
		{orchestrator.ErrShuttingDown, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
