// Package agent runs the tool loop of a single task.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mesutfelat/cowork-oss-sub009/internal/connectors"
	"github.com/mesutfelat/cowork-oss-sub009/internal/dedup"
	"github.com/mesutfelat/cowork-oss-sub009/internal/filetracker"
	"github.com/mesutfelat/cowork-oss-sub009/internal/logger"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"github.com/mesutfelat/cowork-oss-sub009/internal/orchestrator"
	"github.com/mesutfelat/cowork-oss-sub009/internal/tools"
	"go.uber.org/zap"
)

// DefaultMaxSteps bounds planner steps in one run.
const DefaultMaxSteps = 50

// Executor implements orchestrator.Executor for one task.
type Executor struct {
	taskID string
	prompt string
	host   orchestrator.Host

	planner  Planner
	registry *tools.Registry
	env      tools.Env
	dedup    *dedup.Deduplicator
	tracker  *filetracker.Tracker
	maxSteps int
	log      *logger.Logger

	mu       sync.Mutex
	conv     []Message
	running  bool
	runs     int
	stopped  bool
	cancel   context.CancelFunc
	runDone  chan struct{}
	paused   bool
	resumeCh chan struct{}
	// pending is set by SendMessage and cleared when a step snapshots the
	// conversation; closing is set once the loop has decided to complete.
	pending bool
	closing bool
}

var _ orchestrator.Executor = (*Executor)(nil)

// Option configures an Executor.
type Option func(*Executor)

// WithDeduplicator sets the tool-call deduplicator.
func WithDeduplicator(d *dedup.Deduplicator) Option {
	return func(e *Executor) { e.dedup = d }
}

// WithTracker sets the file operation tracker.
func WithTracker(t *filetracker.Tracker) Option {
	return func(e *Executor) { e.tracker = t }
}

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithConnector sets the command connector used by run_command.
func WithConnector(c connectors.Connector) Option {
	return func(e *Executor) { e.env.Exec = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an executor for task running in ws.
func New(task *models.Task, ws *models.Workspace, host orchestrator.Host, planner Planner, registry *tools.Registry, opts ...Option) *Executor {
	e := &Executor{
		taskID:   task.ID,
		prompt:   task.Prompt,
		host:     host,
		planner:  planner,
		registry: registry,
		env:      tools.Env{Root: ws.Path},
		maxSteps: DefaultMaxSteps,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dedup == nil {
		e.dedup = dedup.New(dedup.DefaultConfig())
	}
	if e.tracker == nil {
		e.tracker = filetracker.New(filetracker.DefaultConfig())
	}
	e.log = e.log.WithFields(zap.String("component", "executor"), zap.String("task_id", task.ID))
	return e
}

// Conversation returns a copy of the current conversation.
func (e *Executor) Conversation() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Message(nil), e.conv...)
}

// Execute runs the task from its prompt, or from the restored conversation.
func (e *Executor) Execute(ctx context.Context) error {
	e.mu.Lock()
	if len(e.conv) == 0 {
		e.conv = []Message{{Role: RoleUser, Content: e.prompt}}
	}
	e.mu.Unlock()
	return e.run(ctx)
}

// RebuildFromEvents replaces the conversation with the one recorded in events.
func (e *Executor) RebuildFromEvents(events []models.Event) error {
	conv, err := Rebuild(events)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.conv = conv
	e.mu.Unlock()
	return nil
}

// SendMessage appends a user message. A running loop picks it up on its next
// step; otherwise a new run starts in the background.
func (e *Executor) SendMessage(ctx context.Context, message string) error {
	if err := e.host.LogEvent(ctx, e.taskID, models.EventUserMessage, models.MessagePayload{Message: message}); err != nil {
		return err
	}

	e.mu.Lock()
	e.conv = append(e.conv, Message{Role: RoleUser, Content: message})
	e.pending = true
	running := e.running
	e.mu.Unlock()

	if running {
		return nil
	}

	go e.followUp()
	return nil
}

func (e *Executor) followUp() {
	err := e.run(context.Background())
	if err == nil || errors.Is(err, orchestrator.ErrTaskCancelled) || errors.Is(err, ErrAlreadyRunning) {
		return
	}
	if ferr := e.host.FailTask(context.Background(), e.taskID, err); ferr != nil {
		e.log.Error("report follow-up failure", zap.Error(ferr))
	}
}

// Pause parks the loop before its next step. No-op unless running and not
// already completing.
func (e *Executor) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.closing || e.paused {
		return nil
	}
	e.paused = true
	e.resumeCh = make(chan struct{})

	// Held under mu so a concurrent completion is written after it.
	e.setStatus(ctx, models.TaskStatusPaused)
	return e.host.LogEvent(ctx, e.taskID, models.EventTaskPaused, nil)
}

// Resume releases a paused loop.
func (e *Executor) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused || !e.running || e.closing {
		return nil
	}

	// Written before the loop is released so a fast completion wins.
	e.setStatus(ctx, models.TaskStatusExecuting)
	err := e.host.LogEvent(ctx, e.taskID, models.EventTaskResumed, nil)
	e.paused = false
	close(e.resumeCh)
	return err
}

// Cancel aborts the current run, waits for it to stop and marks the task
// cancelled. An executor whose last run already finished is left alone.
func (e *Executor) Cancel(ctx context.Context) error {
	e.mu.Lock()
	cancel, done, running := e.cancel, e.runDone, e.running
	idle := !running && e.runs > 0
	e.stopped = true
	e.releasePause()
	e.mu.Unlock()

	if idle {
		return nil
	}
	if running {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.setStatus(ctx, models.TaskStatusCancelled)
	return e.host.LogEvent(ctx, e.taskID, models.EventTaskCancelled, nil)
}

func (e *Executor) run(parent context.Context) (err error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	if e.stopped {
		e.mu.Unlock()
		return orchestrator.ErrTaskCancelled
	}
	e.runs++
	ctx, cancel := context.WithCancel(parent)
	e.running = true
	e.cancel = cancel
	e.runDone = make(chan struct{})
	done := e.runDone
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.closing = false
		e.releasePause()
		// A message sent after the final decision starts another run.
		again := err == nil && e.pending && !e.stopped
		e.mu.Unlock()
		cancel()
		close(done)
		if again {
			go e.followUp()
		}
	}()

	e.setStatus(ctx, models.TaskStatusExecuting)

	for step := 0; step < e.maxSteps; step++ {
		if err := e.waitIfPaused(ctx); err != nil {
			return orchestrator.ErrTaskCancelled
		}

		next, err := e.planner.Next(ctx, e.snapshot())
		if ctx.Err() != nil {
			return orchestrator.ErrTaskCancelled
		}
		if err != nil {
			return fmt.Errorf("plan step: %w", err)
		}

		if next.Call == nil {
			more, err := e.reply(ctx, next.Reply)
			if err != nil || !more {
				return err
			}
			continue
		}

		call := *next.Call
		if call.ID == "" {
			call.ID = uuid.New().String()
		}
		if len(call.Args) == 0 {
			call.Args = json.RawMessage("{}")
		}
		if err := e.handleToolCall(ctx, call); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %d steps", ErrMaxSteps, e.maxSteps)
}

// snapshot copies the conversation for a planner step and marks every
// message sent so far as seen.
func (e *Executor) snapshot() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = false
	return append([]Message(nil), e.conv...)
}

// reply records the assistant's answer. It reports true when user messages
// arrived during the step and the loop must continue; otherwise the task is
// completed.
func (e *Executor) reply(ctx context.Context, text string) (bool, error) {
	if err := e.host.LogEvent(ctx, e.taskID, models.EventAssistantMessage, models.MessagePayload{Message: text}); err != nil {
		return false, err
	}

	e.mu.Lock()
	e.conv = append(e.conv, Message{Role: RoleAssistant, Content: text})
	if e.pending {
		e.mu.Unlock()
		return true, nil
	}
	e.closing = true
	e.releasePause()
	e.mu.Unlock()

	return false, e.host.CompleteTask(ctx, e.taskID)
}

// releasePause drops a pending pause. Callers hold mu.
func (e *Executor) releasePause() {
	if e.paused {
		e.paused = false
		close(e.resumeCh)
	}
}

func (e *Executor) waitIfPaused(ctx context.Context) error {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return ctx.Err()
	}
	ch := e.resumeCh
	e.mu.Unlock()

	select {
	case <-ch:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) handleToolCall(ctx context.Context, call ToolCall) error {
	if err := e.host.LogEvent(ctx, e.taskID, models.EventToolCall, models.ToolCallPayload{
		CallID: call.ID,
		Tool:   call.Tool,
		Args:   call.Args,
	}); err != nil {
		return err
	}
	e.appendMessage(Message{Role: RoleToolCall, Call: &call})

	tool, ok := e.registry.Get(call.Tool)
	if !ok {
		return e.recordResult(ctx, call, tools.Result{Output: fmt.Sprintf("unknown tool %q", call.Tool), IsError: true})
	}

	if reason, blocked := e.checkCaches(call); blocked {
		e.log.Debug("tool call suppressed", zap.String("tool", call.Tool), zap.String("reason", reason))
		if err := e.host.LogEvent(ctx, e.taskID, models.EventToolBlocked, models.ToolBlockedPayload{
			CallID: call.ID,
			Tool:   call.Tool,
			Args:   call.Args,
			Reason: reason,
		}); err != nil {
			return err
		}
		e.appendMessage(Message{
			Role:    RoleToolResult,
			Content: blockedOutput(reason),
			Call:    &ToolCall{ID: call.ID, Tool: call.Tool},
			IsError: true,
		})
		return nil
	}

	if tool.RequiresApproval {
		e.setStatus(ctx, models.TaskStatusBlocked)
		approved, err := e.host.RequestApproval(ctx, e.taskID, call.Tool,
			fmt.Sprintf("Allow %s?", call.Tool), call.Args)
		if ctx.Err() != nil {
			return orchestrator.ErrTaskCancelled
		}
		e.setStatus(ctx, models.TaskStatusExecuting)
		if !approved {
			reason := "approval denied"
			if err != nil {
				reason = err.Error()
			}
			return e.recordResult(ctx, call, tools.Result{Output: reason, IsError: true})
		}
	}

	res, err := e.registry.Run(ctx, e.env, call.Tool, call.Args)
	if ctx.Err() != nil {
		return orchestrator.ErrTaskCancelled
	}
	if err != nil {
		res = tools.Result{Output: err.Error(), IsError: true}
	}
	e.updateCaches(call, res, err == nil && !res.IsError)
	return e.recordResult(ctx, call, res)
}

// checkCaches reports whether call repeats work whose result is already in
// the conversation. File reads and listings go through the tracker, every
// other tool through the deduplicator.
func (e *Executor) checkCaches(call ToolCall) (string, bool) {
	switch call.Tool {
	case tools.ReadFile:
		path, err := tools.PathArg(e.env.Root, call.Args)
		if err != nil {
			return "", false
		}
		c := e.tracker.CheckFileRead(path)
		return c.Reason, c.Blocked

	case tools.ListDirectory:
		path, err := tools.PathArg(e.env.Root, call.Args)
		if err != nil {
			return "", false
		}
		c := e.tracker.CheckDirectoryListing(path)
		return c.Reason, c.Blocked
	}

	r := e.dedup.CheckDuplicate(call.Tool, call.Args)
	if !r.IsDuplicate {
		return "", false
	}
	return fmt.Sprintf("identical %s call already made %d time(s) since %s",
		call.Tool, r.Count, r.LastSeen.Format("15:04:05")), true
}

// updateCaches records a finished call and invalidates whatever a mutating
// tool may have changed. Invalidation happens even when the tool failed.
func (e *Executor) updateCaches(call ToolCall, res tools.Result, succeeded bool) {
	if succeeded {
		switch call.Tool {
		case tools.ReadFile:
			e.tracker.RecordFileRead(res.Path, res.Output)
		case tools.ListDirectory:
			e.tracker.RecordDirectoryListing(res.Path, res.Entries)
		default:
			e.dedup.RecordCall(call.Tool, call.Args, res.JSON())
		}
	}

	if tools.IsReadOnly(call.Tool) {
		return
	}

	switch {
	case call.Tool == tools.RunCommand || !succeeded:
		// Unknown effects: forget every read.
		e.tracker.Clear()
	default:
		for _, p := range res.Affected {
			e.tracker.InvalidateTree(p)
		}
	}
	if n := e.dedup.ClearReadOnlyHistory(); n > 0 {
		e.log.Debug("cleared read-only call history", zap.String("tool", call.Tool), zap.Int("entries", n))
	}
}

func (e *Executor) recordResult(ctx context.Context, call ToolCall, res tools.Result) error {
	if err := e.host.LogEvent(ctx, e.taskID, models.EventToolResult, models.ToolResultPayload{
		CallID:  call.ID,
		Tool:    call.Tool,
		Output:  res.Output,
		IsError: res.IsError,
	}); err != nil {
		return err
	}
	e.appendMessage(Message{
		Role:    RoleToolResult,
		Content: res.Output,
		Call:    &ToolCall{ID: call.ID, Tool: call.Tool},
		IsError: res.IsError,
	})
	return nil
}

func (e *Executor) appendMessage(m Message) {
	e.mu.Lock()
	e.conv = append(e.conv, m)
	e.mu.Unlock()
}

func (e *Executor) setStatus(ctx context.Context, status models.TaskStatus) {
	if err := e.host.UpdateTaskStatus(ctx, e.taskID, status); err != nil {
		e.log.Warn("update task status", zap.String("status", string(status)), zap.Error(err))
	}
}
