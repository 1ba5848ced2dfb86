package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"github.com/mesutfelat/cowork-oss-sub009/internal/store"
)

type fakeExecutor struct {
	task *models.Task
	host Host

	execErr error
	release chan struct{}

	mu        sync.Mutex
	executed  bool
	cancelled int
	paused    int
	resumed   int
	messages  []string
	rebuilt   []models.Event
}

func (f *fakeExecutor) Execute(ctx context.Context) error {
	f.mu.Lock()
	f.executed = true
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.execErr
}

func (f *fakeExecutor) Cancel(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return nil
}

func (f *fakeExecutor) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused++
	return nil
}

func (f *fakeExecutor) Resume(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed++
	return nil
}

func (f *fakeExecutor) SendMessage(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeExecutor) RebuildFromEvents(events []models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilt = append([]models.Event(nil), events...)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeExecutor
	// configure customizes each new executor.
	configure func(*fakeExecutor)
}

func (ff *fakeFactory) New(task *models.Task, _ *models.Workspace, host Host) Executor {
	f := &fakeExecutor{task: task, host: host}
	if ff.configure != nil {
		ff.configure(f)
	}
	ff.mu.Lock()
	ff.created = append(ff.created, f)
	ff.mu.Unlock()
	return f
}

func (ff *fakeFactory) last() *fakeExecutor {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.created) == 0 {
		return nil
	}
	return ff.created[len(ff.created)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingNotifier) Emit(taskID string, eventType models.EventType, payload json.RawMessage, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, models.Event{TaskID: taskID, Type: eventType, Payload: payload, Timestamp: ts})
}

func (r *recordingNotifier) count(eventType models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	store   *store.Store
	factory *fakeFactory
	sink    *recordingNotifier
	orch    *Orchestrator
	ws      *models.Workspace
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ws, err := s.CreateWorkspace(context.Background(), "ws", t.TempDir())
	if err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}

	h := &harness{store: s, factory: &fakeFactory{}, sink: &recordingNotifier{}, ws: ws}
	h.orch = New(s, h.factory.New, h.sink, nil, opts...)
	return h
}

func (h *harness) newTask(t *testing.T) *models.Task {
	t.Helper()
	task, err := h.store.CreateTask(context.Background(), h.ws.ID, "Task", "do things")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return task
}

func (h *harness) task(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := h.store.GetTask(context.Background(), id)
	if err != nil || task == nil {
		t.Fatalf("GetTask(%s) = %v, %v", id, task, err)
	}
	return task
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestStartTask_WorkspaceNotFound(t *testing.T) {
	h := newHarness(t)
	task := h.newTask(t)
	task.WorkspaceID = "missing"

	err := h.orch.StartTask(context.Background(), task)
	if !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("Expected ErrWorkspaceNotFound, got %v", err)
	}
	if h.orch.IsActive(task.ID) {
		t.Error("Executor should not be registered")
	}
}

func TestStartTask_RegistersAndPlans(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.factory.configure = func(f *fakeExecutor) { f.release = release }
	task := h.newTask(t)

	if err := h.orch.StartTask(context.Background(), task); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	if !h.orch.IsActive(task.ID) {
		t.Error("Expected executor registered")
	}
	if got := h.task(t, task.ID).Status; got != models.TaskStatusPlanning {
		t.Errorf("Expected status planning, got %s", got)
	}
	if h.sink.count(models.EventTaskCreated) != 1 {
		t.Error("Expected one task_created event")
	}

	if err := h.orch.StartTask(context.Background(), task); !errors.Is(err, ErrTaskAlreadyActive) {
		t.Errorf("Expected ErrTaskAlreadyActive, got %v", err)
	}

	close(release)
	h.orch.Wait()
	if !h.factory.created[0].executed {
		t.Error("Expected Execute to be called")
	}
}

func TestStartTask_CreatedEventComesFirst(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.factory.configure = func(f *fakeExecutor) { f.release = release }
	task := h.newTask(t)

	if err := h.orch.StartTask(context.Background(), task); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	defer func() {
		close(release)
		h.orch.Wait()
	}()

	events, err := h.store.ListEvents(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("Expected at least 2 events, got %d", len(events))
	}
	if events[0].Type != models.EventTaskCreated {
		t.Errorf("Expected first event %s, got %s", models.EventTaskCreated, events[0].Type)
	}
	if events[1].Type != models.EventTaskStatusChanged {
		t.Errorf("Expected second event %s, got %s", models.EventTaskStatusChanged, events[1].Type)
	}

	var p models.StatusChangedPayload
	if err := events[1].DecodePayload(&p); err != nil {
		t.Fatal(err)
	}
	if p.To != models.TaskStatusPlanning {
		t.Errorf("Expected transition to planning, got %s", p.To)
	}
}

func TestExecuteFailure_FailsAndEvicts(t *testing.T) {
	h := newHarness(t)
	h.factory.configure = func(f *fakeExecutor) { f.execErr = errors.New("model exploded") }
	task := h.newTask(t)

	if err := h.orch.StartTask(context.Background(), task); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	h.orch.Wait()

	got := h.task(t, task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Errorf("Expected status failed, got %s", got.Status)
	}
	if got.Error != "model exploded" {
		t.Errorf("Expected error message, got %q", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}
	if h.orch.IsActive(task.ID) {
		t.Error("Failed task's executor should be evicted")
	}
	if h.sink.count(models.EventError) != 1 {
		t.Error("Expected one error event")
	}
}

func TestExecuteCancelled_IsNotFailure(t *testing.T) {
	h := newHarness(t)
	h.factory.configure = func(f *fakeExecutor) { f.execErr = ErrTaskCancelled }
	task := h.newTask(t)

	if err := h.orch.StartTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	h.orch.Wait()

	if got := h.task(t, task.ID).Status; got == models.TaskStatusFailed {
		t.Error("A cancelled run must not mark the task failed")
	}
}

func TestCompleteTask_RetainsExecutor(t *testing.T) {
	h := newHarness(t)
	task := h.newTask(t)
	if err := h.orch.StartTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	h.orch.Wait()

	if err := h.orch.CompleteTask(context.Background(), task.ID); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}

	got := h.task(t, task.ID)
	if got.Status != models.TaskStatusCompleted || got.CompletedAt == nil {
		t.Errorf("Expected completed with completed_at, got %s %v", got.Status, got.CompletedAt)
	}
	if !h.orch.IsActive(task.ID) {
		t.Error("Completing a task must keep its executor registered")
	}
	if h.sink.count(models.EventTaskCompleted) != 1 {
		t.Error("Expected one task_completed event")
	}

	// Follow-ups go to the retained executor without a rebuild.
	if err := h.orch.SendMessage(context.Background(), task.ID, "and one more thing"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(h.factory.created) != 1 {
		t.Errorf("Expected no new executor, got %d", len(h.factory.created))
	}
	if msgs := h.factory.created[0].messages; len(msgs) != 1 || msgs[0] != "and one more thing" {
		t.Errorf("Unexpected messages %v", msgs)
	}

	if err := h.orch.CompleteTask(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestCancelTask_Evicts(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	defer close(release)
	h.factory.configure = func(f *fakeExecutor) { f.release = release }
	task := h.newTask(t)

	if err := h.orch.StartTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.CancelTask(context.Background(), task.ID); err != nil {
		t.Fatalf("CancelTask failed: %v", err)
	}
	if h.factory.last().cancelled != 1 {
		t.Error("Expected executor Cancel to be called once")
	}
	if h.orch.IsActive(task.ID) {
		t.Error("Cancelled task's executor should be evicted")
	}

	// Unknown or already cancelled tasks are a no-op.
	if err := h.orch.CancelTask(context.Background(), task.ID); err != nil {
		t.Errorf("Expected no-op, got %v", err)
	}
	if err := h.orch.CancelTask(context.Background(), "missing"); err != nil {
		t.Errorf("Expected no-op, got %v", err)
	}
}

func TestPauseResume_Delegate(t *testing.T) {
	h := newHarness(t)
	task := h.newTask(t)
	if err := h.orch.StartTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	h.orch.Wait()

	ctx := context.Background()
	if err := h.orch.PauseTask(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.ResumeTask(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	f := h.factory.last()
	if f.paused != 1 || f.resumed != 1 {
		t.Errorf("Expected 1 pause and 1 resume, got %d and %d", f.paused, f.resumed)
	}

	if err := h.orch.PauseTask(ctx, "missing"); err != nil {
		t.Errorf("Expected no-op, got %v", err)
	}
	if err := h.orch.ResumeTask(ctx, "missing"); err != nil {
		t.Errorf("Expected no-op, got %v", err)
	}
}

func TestSendMessage_RehydratesFromEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.newTask(t)

	// Events from an earlier process.
	if err := h.orch.LogEvent(ctx, task.ID, models.EventTaskCreated, models.TaskCreatedPayload{Prompt: task.Prompt}); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.LogEvent(ctx, task.ID, models.EventAssistantMessage, models.MessagePayload{Message: "done"}); err != nil {
		t.Fatal(err)
	}

	restarted := New(h.store, h.factory.New, h.sink, nil)
	if err := restarted.SendMessage(ctx, task.ID, "continue please"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	f := h.factory.last()
	if f == nil {
		t.Fatal("Expected a rehydrated executor")
	}
	if len(f.rebuilt) != 2 || f.rebuilt[1].Type != models.EventAssistantMessage {
		t.Errorf("Expected the 2 persisted events replayed, got %+v", f.rebuilt)
	}
	if len(f.messages) != 1 || f.messages[0] != "continue please" {
		t.Errorf("Unexpected messages %v", f.messages)
	}
	if !restarted.IsActive(task.ID) {
		t.Error("Rehydrated executor should be registered")
	}
}

func TestSendMessage_NotFound(t *testing.T) {
	h := newHarness(t)
	if err := h.orch.SendMessage(context.Background(), "missing", "hi"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func requestAsync(h *harness, ctx context.Context, taskID string) <-chan approvalOutcome {
	ch := make(chan approvalOutcome, 1)
	go func() {
		ok, err := h.orch.RequestApproval(ctx, taskID, "run_command", "run go test", map[string]any{"command": "go"})
		ch <- approvalOutcome{approved: ok, err: err}
	}()
	return ch
}

func waitPending(t *testing.T, h *harness) models.Approval {
	t.Helper()
	waitFor(t, "pending approval", func() bool { return len(h.orch.PendingApprovals()) == 1 })
	return h.orch.PendingApprovals()[0]
}

func outcome(t *testing.T, ch <-chan approvalOutcome) approvalOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for approval outcome")
		return approvalOutcome{}
	}
}

func TestApproval_Approved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.newTask(t)

	ch := requestAsync(h, ctx, task.ID)
	a := waitPending(t, h)
	if string(a.Details) != `{"command":"go"}` {
		t.Errorf("Unexpected details %s", a.Details)
	}

	if err := h.orch.RespondToApproval(ctx, a.ID, true); err != nil {
		t.Fatalf("RespondToApproval failed: %v", err)
	}
	out := outcome(t, ch)
	if !out.approved || out.err != nil {
		t.Errorf("Expected (true, nil), got (%v, %v)", out.approved, out.err)
	}

	// A second response is a no-op.
	if err := h.orch.RespondToApproval(ctx, a.ID, false); err != nil {
		t.Errorf("Expected no-op, got %v", err)
	}

	stored, _ := h.store.GetApproval(ctx, a.ID)
	if stored.Status != models.ApprovalStatusApproved {
		t.Errorf("Expected approved, got %s", stored.Status)
	}
	if h.sink.count(models.EventApprovalGranted) != 1 || h.sink.count(models.EventApprovalDenied) != 0 {
		t.Error("Expected exactly one resolution event")
	}
}

func TestApproval_Denied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.newTask(t)

	ch := requestAsync(h, ctx, task.ID)
	a := waitPending(t, h)
	if err := h.orch.RespondToApproval(ctx, a.ID, false); err != nil {
		t.Fatal(err)
	}

	out := outcome(t, ch)
	if out.approved || !errors.Is(out.err, ErrApprovalDenied) {
		t.Errorf("Expected (false, ErrApprovalDenied), got (%v, %v)", out.approved, out.err)
	}
	stored, _ := h.store.GetApproval(ctx, a.ID)
	if stored.Status != models.ApprovalStatusDenied {
		t.Errorf("Expected denied, got %s", stored.Status)
	}
}

func TestApproval_Timeout(t *testing.T) {
	h := newHarness(t, WithApprovalTimeout(30*time.Millisecond))
	ctx := context.Background()
	task := h.newTask(t)

	ch := requestAsync(h, ctx, task.ID)
	out := outcome(t, ch)
	if out.approved || !errors.Is(out.err, ErrApprovalTimeout) {
		t.Errorf("Expected (false, ErrApprovalTimeout), got (%v, %v)", out.approved, out.err)
	}

	approvals, _ := h.store.ListApprovals(ctx, "")
	if len(approvals) != 1 || approvals[0].Status != models.ApprovalStatusDenied {
		t.Fatalf("Expected one denied approval, got %+v", approvals)
	}
	if len(h.orch.PendingApprovals()) != 0 {
		t.Error("Expired approval should leave the pending index")
	}

	// A late response is a no-op.
	if err := h.orch.RespondToApproval(ctx, approvals[0].ID, true); err != nil {
		t.Errorf("Expected no-op, got %v", err)
	}
	if h.sink.count(models.EventApprovalDenied) != 1 || h.sink.count(models.EventApprovalGranted) != 0 {
		t.Error("Expected exactly one denial event")
	}
}

func TestApproval_ConcurrentResponsesResolveOnce(t *testing.T) {
	h := newHarness(t, WithApprovalTimeout(150*time.Millisecond))
	ctx := context.Background()
	task := h.newTask(t)

	ch := requestAsync(h, ctx, task.ID)
	a := waitPending(t, h)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.orch.RespondToApproval(ctx, a.ID, i%2 == 0)
		}(i)
	}
	wg.Wait()
	outcome(t, ch)

	// Let a racing timer fire if it was going to.
	time.Sleep(200 * time.Millisecond)

	resolved := h.sink.count(models.EventApprovalGranted) + h.sink.count(models.EventApprovalDenied)
	if resolved != 1 {
		t.Errorf("Expected exactly one resolution, got %d", resolved)
	}
}

func TestApproval_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	task := h.newTask(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch := requestAsync(h, ctx, task.ID)
	a := waitPending(t, h)
	cancel()

	out := outcome(t, ch)
	if out.approved || !errors.Is(out.err, context.Canceled) {
		t.Errorf("Expected (false, context.Canceled), got (%v, %v)", out.approved, out.err)
	}
	stored, _ := h.store.GetApproval(context.Background(), a.ID)
	if stored.Status != models.ApprovalStatusDenied {
		t.Errorf("Expected denied, got %s", stored.Status)
	}
}

func TestShutdown(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	defer close(release)
	h.factory.configure = func(f *fakeExecutor) { f.release = release }
	ctx := context.Background()

	task := h.newTask(t)
	if err := h.orch.StartTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	ch := requestAsync(h, ctx, task.ID)
	waitPending(t, h)

	h.orch.Shutdown(ctx)

	if h.factory.last().cancelled != 1 {
		t.Error("Expected executor cancelled on shutdown")
	}
	if len(h.orch.ActiveTaskIDs()) != 0 {
		t.Error("Expected empty registry after shutdown")
	}
	out := outcome(t, ch)
	if out.approved || !errors.Is(out.err, ErrShuttingDown) {
		t.Errorf("Expected (false, ErrShuttingDown), got (%v, %v)", out.approved, out.err)
	}

	if err := h.orch.StartTask(ctx, h.newTask(t)); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}
}

func TestLogEvent_PersistsAndBroadcastsInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.newTask(t)

	types := []models.EventType{models.EventUserMessage, models.EventToolCall, models.EventToolResult}
	for _, typ := range types {
		if err := h.orch.LogEvent(ctx, task.ID, typ, nil); err != nil {
			t.Fatalf("LogEvent failed: %v", err)
		}
	}

	persisted, err := h.store.ListEvents(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 3 || len(h.sink.events) != 3 {
		t.Fatalf("Expected 3 persisted and 3 broadcast events, got %d and %d", len(persisted), len(h.sink.events))
	}
	for i, typ := range types {
		if persisted[i].Type != typ || h.sink.events[i].Type != typ {
			t.Errorf("Event %d: expected %s, got %s / %s", i, typ, persisted[i].Type, h.sink.events[i].Type)
		}
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.newTask(t)

	if err := h.orch.UpdateTaskStatus(ctx, task.ID, models.TaskStatusExecuting); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	if got := h.task(t, task.ID).Status; got != models.TaskStatusExecuting {
		t.Errorf("Expected executing, got %s", got)
	}
	// Same status twice emits only one change event.
	if err := h.orch.UpdateTaskStatus(ctx, task.ID, models.TaskStatusExecuting); err != nil {
		t.Fatal(err)
	}
	if h.sink.count(models.EventTaskStatusChanged) != 1 {
		t.Errorf("Expected 1 status change event, got %d", h.sink.count(models.EventTaskStatusChanged))
	}

	if err := h.orch.UpdateTaskStatus(ctx, task.ID, "sleeping"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("Expected ErrInvalidStatus, got %v", err)
	}
}
