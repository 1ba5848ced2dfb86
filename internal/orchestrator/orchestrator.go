// Package orchestrator owns task lifecycle: the registry of live executors,
// task state transitions, the approval broker and the event log.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/logger"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"go.uber.org/zap"
)

// DefaultApprovalTimeout is how long RequestApproval waits for a response.
const DefaultApprovalTimeout = 5 * time.Minute

// Orchestrator coordinates task executors.
type Orchestrator struct {
	store   Store
	factory ExecutorFactory
	sink    Notifier
	log     *logger.Logger

	approvalTimeout time.Duration
	now             func() time.Time

	// runCtx outlives the requests that start tasks.
	runCtx context.Context

	mu       sync.Mutex
	active   map[string]Executor
	pending  map[string]*pendingApproval
	shutdown bool

	// eventMu keeps persist-then-broadcast atomic so listeners see store order.
	eventMu sync.Mutex

	wg sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithApprovalTimeout overrides DefaultApprovalTimeout.
func WithApprovalTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.approvalTimeout = d
		}
	}
}

// WithClock overrides the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. sink and log may be nil.
func New(store Store, factory ExecutorFactory, sink Notifier, log *logger.Logger, opts ...Option) *Orchestrator {
	if sink == nil {
		sink = nopNotifier{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	o := &Orchestrator{
		store:           store,
		factory:         factory,
		sink:            sink,
		log:             log.Component("orchestrator"),
		approvalTimeout: DefaultApprovalTimeout,
		now:             time.Now,
		runCtx:          context.Background(),
		active:          make(map[string]Executor),
		pending:         make(map[string]*pendingApproval),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartTask creates and registers an executor for task, moves the task to
// planning and runs the executor in the background. It does not wait for
// the run to finish; a failed run is recorded on the task instead.
func (o *Orchestrator) StartTask(ctx context.Context, task *models.Task) error {
	if task == nil {
		return ErrTaskNotFound
	}
	ws, err := o.store.GetWorkspace(ctx, task.WorkspaceID)
	if err != nil {
		return fmt.Errorf("get workspace: %w", err)
	}
	if ws == nil {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, task.WorkspaceID)
	}

	exec := o.factory(task, ws, o)

	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	if _, ok := o.active[task.ID]; ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskAlreadyActive, task.ID)
	}
	o.active[task.ID] = exec
	o.mu.Unlock()

	if err := o.LogEvent(ctx, task.ID, models.EventTaskCreated, models.TaskCreatedPayload{
		Title:       task.Title,
		Prompt:      task.Prompt,
		WorkspaceID: task.WorkspaceID,
	}); err != nil {
		o.evict(task.ID, exec)
		return err
	}
	if err := o.setStatus(ctx, task.ID, models.TaskStatusPlanning, models.TaskPatch{}); err != nil {
		o.evict(task.ID, exec)
		return err
	}

	o.log.Info("task started", zap.String("task_id", task.ID), zap.String("workspace_id", ws.ID))

	o.wg.Add(1)
	go o.run(task.ID, exec)
	return nil
}

func (o *Orchestrator) run(taskID string, exec Executor) {
	defer o.wg.Done()

	err := exec.Execute(o.runCtx)
	if err == nil || errors.Is(err, ErrTaskCancelled) || errors.Is(err, context.Canceled) {
		return
	}
	o.fail(o.runCtx, taskID, exec, err)
}

// CompleteTask marks a task completed. The executor stays registered so
// follow-up messages continue the same conversation.
func (o *Orchestrator) CompleteTask(ctx context.Context, taskID string) error {
	now := o.now().UTC()
	if err := o.setStatus(ctx, taskID, models.TaskStatusCompleted, models.TaskPatch{CompletedAt: &now}); err != nil {
		return err
	}
	o.log.Info("task completed", zap.String("task_id", taskID))
	return o.LogEvent(ctx, taskID, models.EventTaskCompleted, models.CompletedPayload{})
}

// FailTask records an executor-reported failure and evicts the executor.
func (o *Orchestrator) FailTask(ctx context.Context, taskID string, cause error) error {
	return o.fail(ctx, taskID, nil, cause)
}

// fail evicts exec (or whatever is registered when exec is nil) and records
// the failure on the task.
func (o *Orchestrator) fail(ctx context.Context, taskID string, exec Executor, cause error) error {
	if exec == nil {
		o.mu.Lock()
		delete(o.active, taskID)
		o.mu.Unlock()
	} else {
		o.evict(taskID, exec)
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	o.log.Error("task failed", zap.String("task_id", taskID), zap.String("error", msg))

	now := o.now().UTC()
	if err := o.setStatus(ctx, taskID, models.TaskStatusFailed, models.TaskPatch{Error: &msg, CompletedAt: &now}); err != nil {
		o.log.Error("persist task failure", zap.String("task_id", taskID), zap.Error(err))
		return err
	}
	return o.LogEvent(ctx, taskID, models.EventError, models.ErrorPayload{Message: msg})
}

// UpdateTaskStatus records a status reported by an executor.
func (o *Orchestrator) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	return o.setStatus(ctx, taskID, status, models.TaskPatch{})
}

// setStatus persists status plus the extra patch fields and emits
// task_status_changed when the status actually changed.
func (o *Orchestrator) setStatus(ctx context.Context, taskID string, status models.TaskStatus, patch models.TaskPatch) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	patch.Status = &status
	if err := o.store.UpdateTask(ctx, taskID, patch); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if task.Status == status {
		return nil
	}
	return o.LogEvent(ctx, taskID, models.EventTaskStatusChanged, models.StatusChangedPayload{
		From: task.Status,
		To:   status,
	})
}

// CancelTask cancels the registered executor and removes it. It is a no-op
// when no executor is registered.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) error {
	exec := o.executor(taskID)
	if exec == nil {
		return nil
	}

	err := exec.Cancel(ctx)
	o.evict(taskID, exec)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	o.log.Info("task cancelled", zap.String("task_id", taskID))
	return nil
}

// PauseTask pauses the registered executor. No-op when none is registered.
func (o *Orchestrator) PauseTask(ctx context.Context, taskID string) error {
	exec := o.executor(taskID)
	if exec == nil {
		return nil
	}
	if err := exec.Pause(ctx); err != nil {
		return fmt.Errorf("pause task: %w", err)
	}
	return nil
}

// ResumeTask resumes the registered executor. No-op when none is registered.
func (o *Orchestrator) ResumeTask(ctx context.Context, taskID string) error {
	exec := o.executor(taskID)
	if exec == nil {
		return nil
	}
	if err := exec.Resume(ctx); err != nil {
		return fmt.Errorf("resume task: %w", err)
	}
	return nil
}

// SendMessage forwards a follow-up message to the task's executor. If none
// is registered, a fresh executor is rebuilt from the task's event log and
// registered first.
func (o *Orchestrator) SendMessage(ctx context.Context, taskID, message string) error {
	exec := o.executor(taskID)
	if exec == nil {
		var err error
		exec, err = o.rehydrate(ctx, taskID)
		if err != nil {
			return err
		}
	}

	if err := exec.SendMessage(ctx, message); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (o *Orchestrator) rehydrate(ctx context.Context, taskID string) (Executor, error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	ws, err := o.store.GetWorkspace(ctx, task.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	if ws == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, task.WorkspaceID)
	}

	exec := o.factory(task, ws, o)

	events, err := o.store.ListEvents(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if len(events) > 0 {
		if err := exec.RebuildFromEvents(events); err != nil {
			return nil, fmt.Errorf("rebuild executor: %w", err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shutdown {
		return nil, ErrShuttingDown
	}
	// Another caller may have registered one while we were rebuilding.
	if existing, ok := o.active[taskID]; ok {
		return existing, nil
	}
	o.active[taskID] = exec
	o.log.Info("executor rehydrated", zap.String("task_id", taskID), zap.Int("events", len(events)))
	return exec, nil
}

// LogEvent persists an event and broadcasts it. payload may be a
// json.RawMessage or any JSON-encodable value.
func (o *Orchestrator) LogEvent(ctx context.Context, taskID string, eventType models.EventType, payload any) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	o.eventMu.Lock()
	defer o.eventMu.Unlock()

	ev, err := o.store.AppendEvent(ctx, taskID, eventType, raw, o.now())
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if pub, ok := o.sink.(Publisher); ok {
		pub.Publish(*ev)
	} else {
		o.sink.Emit(ev.TaskID, ev.Type, ev.Payload, ev.Timestamp)
	}
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

// IsActive reports whether an executor is registered for taskID.
func (o *Orchestrator) IsActive(taskID string) bool {
	return o.executor(taskID) != nil
}

// ActiveTaskIDs returns the ids of registered executors, sorted.
func (o *Orchestrator) ActiveTaskIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every registered executor, clears the registry and denies
// every pending approval. It does not wait for runs to unwind.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	o.shutdown = true
	execs := o.active
	o.active = make(map[string]Executor)
	pending := make([]*pendingApproval, 0, len(o.pending))
	for id, p := range o.pending {
		p.timer.Stop()
		pending = append(pending, p)
		delete(o.pending, id)
	}
	o.mu.Unlock()

	for _, p := range pending {
		o.resolve(ctx, p, false, "daemon shutting down", ErrShuttingDown)
	}
	for id, exec := range execs {
		if err := exec.Cancel(ctx); err != nil {
			o.log.Warn("cancel executor on shutdown", zap.String("task_id", id), zap.Error(err))
		}
	}
	o.log.Info("orchestrator shut down", zap.Int("executors", len(execs)), zap.Int("approvals", len(pending)))
}

// Wait blocks until every background run started by StartTask has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) executor(taskID string) Executor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[taskID]
}

// evict removes exec only if it is still the registered executor for taskID.
func (o *Orchestrator) evict(taskID string, exec Executor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.active[taskID]; ok && cur == exec {
		delete(o.active, taskID)
	}
}
