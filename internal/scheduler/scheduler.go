package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/logger"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"github.com/mesutfelat/cowork-oss-sub009/internal/orchestrator"
	"go.uber.org/zap"
)

// runningStatuses are the statuses that occupy a concurrency slot.
var runningStatuses = []models.TaskStatus{
	models.TaskStatusPlanning,
	models.TaskStatusExecuting,
	models.TaskStatusPaused,
	models.TaskStatusBlocked,
}

// TaskLister reads tasks by status, oldest first.
type TaskLister interface {
	ListTasksByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]models.Task, error)
}

// Starter hands a task to an executor.
type Starter interface {
	StartTask(ctx context.Context, task *models.Task) error
}

// Scheduler starts pending tasks while global and per-workspace limits allow.
type Scheduler struct {
	tasks   TaskLister
	starter Starter
	config  *Config
	log     *logger.Logger

	mu         sync.Mutex
	dispatched int
	failed     int
	lastPoll   time.Time

	// pollMu serializes polls so a task is never started twice.
	pollMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler.
func New(tasks TaskLister, starter Starter, cfg *Config, log *logger.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:   tasks,
		starter: starter,
		config:  cfg,
		log:     log.Component("scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.schedulerLoop()
	sch.log.Info("scheduler started",
		zap.Int("global_max", sch.config.GlobalMax),
		zap.Int("per_workspace", sch.config.PerWorkspace),
		zap.Duration("poll_interval", sch.interval()))
}

// Stop stops the loop and waits for an in-flight poll.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.log.Info("scheduler stopped")
}

func (sch *Scheduler) interval() time.Duration {
	if sch.config.PollInterval > 0 {
		return sch.config.PollInterval
	}
	return time.Second
}

func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.interval())
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			if _, err := sch.Poll(sch.ctx); err != nil && !errors.Is(err, context.Canceled) {
				sch.log.Warn("poll pending tasks", zap.Error(err))
			}
		}
	}
}

// Poll starts as many pending tasks as the limits allow and returns how many
// were started. Tasks are considered oldest first; a task whose workspace is
// full is skipped without blocking younger tasks of other workspaces.
func (sch *Scheduler) Poll(ctx context.Context) (int, error) {
	sch.pollMu.Lock()
	defer sch.pollMu.Unlock()

	sch.mu.Lock()
	sch.lastPoll = time.Now()
	sch.mu.Unlock()

	running, err := sch.tasks.ListTasksByStatus(ctx, runningStatuses...)
	if err != nil {
		return 0, err
	}
	if len(running) >= sch.config.GlobalMax {
		return 0, nil
	}

	pending, err := sch.tasks.ListTasksByStatus(ctx, models.TaskStatusPending)
	if err != nil {
		return 0, err
	}

	total := len(running)
	perWorkspace := make(map[string]int)
	for _, t := range running {
		perWorkspace[t.WorkspaceID]++
	}

	started := 0
	for i := range pending {
		if total >= sch.config.GlobalMax {
			break
		}
		if err := ctx.Err(); err != nil {
			return started, err
		}

		task := &pending[i]
		if perWorkspace[task.WorkspaceID] >= sch.config.GetWorkspaceLimit(task.WorkspaceID) {
			continue
		}

		if err := sch.starter.StartTask(ctx, task); err != nil {
			if errors.Is(err, orchestrator.ErrTaskAlreadyActive) {
				continue
			}
			sch.mu.Lock()
			sch.failed++
			sch.mu.Unlock()
			sch.log.Error("dispatch task",
				zap.String("task_id", task.ID),
				zap.String("workspace_id", task.WorkspaceID),
				zap.Error(err))
			if errors.Is(err, orchestrator.ErrShuttingDown) {
				return started, err
			}
			continue
		}

		total++
		perWorkspace[task.WorkspaceID]++
		started++

		sch.mu.Lock()
		sch.dispatched++
		sch.mu.Unlock()

		sch.log.Info("dispatched task",
			zap.String("task_id", task.ID),
			zap.String("title", task.Title),
			zap.String("workspace_id", task.WorkspaceID))
	}
	return started, nil
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Enabled      bool      `json:"enabled"`
	GlobalMax    int       `json:"global_max"`
	PerWorkspace int       `json:"per_workspace"`
	Dispatched   int       `json:"dispatched"`
	Failed       int       `json:"failed"`
	LastPoll     time.Time `json:"last_poll,omitempty"`
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	return Stats{
		Enabled:      sch.config.Enabled,
		GlobalMax:    sch.config.GlobalMax,
		PerWorkspace: sch.config.PerWorkspace,
		Dispatched:   sch.dispatched,
		Failed:       sch.failed,
		LastPoll:     sch.lastPoll,
	}
}
