package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imgbatch/imgbatch/internal/bus"
	"github.com/imgbatch/imgbatch/internal/domain"
	"github.com/imgbatch/imgbatch/internal/generation"
	"github.com/imgbatch/imgbatch/internal/metrics"
	"github.com/imgbatch/imgbatch/internal/store"
)

// DownloadSink receives successful results for automatic persistence.
// The download queue implements it; a nil sink disables auto-download.
type DownloadSink interface {
	// Enqueue accepts one result for download. It returns false when an
	// identical source reference is already queued or in flight.
	Enqueue(task *domain.BatchTask, result *domain.TaskResult) bool
}

// taskState pairs a task aggregate with its scheduling bookkeeping.
// The mutex guards the aggregate and the retry timers; it is the only
// lock ever held while a task is mutated.
type taskState struct {
	mu      sync.Mutex
	task    *domain.BatchTask
	backend generation.Backend

	// timers holds the pending failed→pending retry timers by item ID.
	timers map[uuid.UUID]*time.Timer

	// pending holds snapshots queued by publishLocked, delivered by
	// flushEvents once the mutex is released.
	pending []*domain.BatchTask
}

// Scheduler drives batch tasks through their state machine with bounded
// concurrency per task. All exported methods are safe for concurrent use.
type Scheduler struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*taskState

	store     store.TaskStore
	backends  *generation.Registry
	events    *bus.TaskEvents
	downloads DownloadSink
	logger    *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a scheduler. downloads may be nil to disable auto-download
// handoff. Call Recover before accepting work so tasks interrupted by a
// previous run are resolved.
func New(
	taskStore store.TaskStore,
	backends *generation.Registry,
	events *bus.TaskEvents,
	downloads DownloadSink,
	logger *slog.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:      make(map[uuid.UUID]*taskState),
		store:      taskStore,
		backends:   backends,
		events:     events,
		downloads:  downloads,
		logger:     logger.With("component", "scheduler"),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// CreateTask validates and persists a new batch task. The task starts in
// pending state; nothing executes until StartTask. If the configured
// generate count is above one, every given item is expanded into that
// many independent items. A persistence failure rolls the task back: it
// is neither kept in memory nor returned.
func (s *Scheduler) CreateTask(
	ctx context.Context,
	name string,
	taskType domain.TaskType,
	items []*domain.TaskItem,
	config domain.BatchTaskConfig,
) (*domain.BatchTask, error) {
	backend, err := s.backends.Resolve(config.ModelFamily)
	if err != nil {
		return nil, err
	}

	task, err := domain.NewBatchTask(name, taskType, expandItems(items, config.GenerateCount), config)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	state := &taskState{
		task:    task,
		backend: backend,
		timers:  make(map[uuid.UUID]*time.Timer),
	}
	s.mu.Lock()
	s.tasks[task.ID] = state
	s.mu.Unlock()

	s.logger.Info("task created",
		"task_id", task.ID,
		"task_name", task.Name,
		"item_count", task.TotalItems,
		"model_family", config.ModelFamily)
	s.publish(task)

	return task.Clone(), nil
}

// expandItems duplicates each item generateCount times so that multiple
// generations per prompt become independent units of scheduling.
func expandItems(items []*domain.TaskItem, generateCount int) []*domain.TaskItem {
	if generateCount <= 1 {
		return items
	}

	expanded := make([]*domain.TaskItem, 0, len(items)*generateCount)
	for _, item := range items {
		expanded = append(expanded, item)
		for i := 1; i < generateCount; i++ {
			dup := item.Clone()
			dup.ID = uuid.New()
			expanded = append(expanded, dup)
		}
	}
	return expanded
}

// StartTask moves a pending task to processing and begins dispatching
// items. Starting a task in any other state is a no-op.
func (s *Scheduler) StartTask(ctx context.Context, taskID uuid.UUID) error {
	state, err := s.state(taskID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer s.flushEvents(state)
	defer state.mu.Unlock()

	t := state.task
	if t.Status != domain.TaskStatusPending {
		s.logger.Debug("start ignored", "task_id", taskID, "status", t.Status)
		return nil
	}
	if err := s.ensureBackendLocked(state); err != nil {
		return err
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusProcessing
	t.StartedAt = &now
	metrics.TasksActive.Inc()

	s.saveLocked(ctx, t)
	s.publishLocked(state)
	s.logger.Info("task started", "task_id", taskID, "item_count", t.TotalItems)

	s.fillLocked(state)
	return nil
}

// PauseTask suspends a processing task. Items currently in flight are
// returned to pending and their abandoned calls are discarded on
// resolution; the abandoned attempt does not count against the item's
// retry budget.
func (s *Scheduler) PauseTask(ctx context.Context, taskID uuid.UUID) error {
	state, err := s.state(taskID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer s.flushEvents(state)
	defer state.mu.Unlock()

	t := state.task
	if t.Status != domain.TaskStatusProcessing {
		s.logger.Debug("pause ignored", "task_id", taskID, "status", t.Status)
		return nil
	}

	for _, item := range t.Items {
		if item.Status == domain.ItemStatusProcessing {
			item.Status = domain.ItemStatusPending
			item.AttemptCount--
		}
	}
	t.Status = domain.TaskStatusPaused
	t.RecalculateProgress()
	metrics.TasksActive.Dec()

	s.saveLocked(ctx, t)
	s.publishLocked(state)
	s.logger.Info("task paused", "task_id", taskID)
	return nil
}

// ResumeTask restarts a paused task. Counters are recomputed from item
// states and failed items with attempts remaining re-enter the pending
// pool immediately, without waiting out their retry delay.
func (s *Scheduler) ResumeTask(ctx context.Context, taskID uuid.UUID) error {
	state, err := s.state(taskID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer s.flushEvents(state)
	defer state.mu.Unlock()

	t := state.task
	if t.Status != domain.TaskStatusPaused {
		s.logger.Debug("resume ignored", "task_id", taskID, "status", t.Status)
		return nil
	}
	if err := s.ensureBackendLocked(state); err != nil {
		return err
	}

	maxAttempts := t.Config.MaxAttempts()
	for _, item := range t.Items {
		if item.Status == domain.ItemStatusFailed && item.AttemptCount < maxAttempts {
			item.Status = domain.ItemStatusPending
		}
	}
	t.Status = domain.TaskStatusProcessing
	t.RecalculateProgress()
	metrics.TasksActive.Inc()

	s.saveLocked(ctx, t)
	s.publishLocked(state)
	s.logger.Info("task resumed", "task_id", taskID)

	s.fillLocked(state)
	return nil
}

// StopTask cancels a processing or paused task. Not-yet-started items are
// cancelled; in-flight calls are abandoned and their results discarded.
func (s *Scheduler) StopTask(ctx context.Context, taskID uuid.UUID) error {
	state, err := s.state(taskID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer s.flushEvents(state)
	defer state.mu.Unlock()

	t := state.task
	if t.Status != domain.TaskStatusProcessing && t.Status != domain.TaskStatusPaused {
		s.logger.Debug("stop ignored", "task_id", taskID, "status", t.Status)
		return nil
	}
	wasProcessing := t.Status == domain.TaskStatusProcessing

	stopTimersLocked(state)
	for _, item := range t.Items {
		switch item.Status {
		case domain.ItemStatusPending, domain.ItemStatusProcessing:
			item.Status = domain.ItemStatusCancelled
		}
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusCancelled
	t.CompletedAt = &now
	t.RecalculateProgress()
	if wasProcessing {
		metrics.TasksActive.Dec()
	}

	s.saveLocked(ctx, t)
	s.publishLocked(state)
	s.logger.Info("task stopped", "task_id", taskID)
	return nil
}

// resetScope selects which items a reset touches.
type resetScope int

const (
	resetAll resetScope = iota
	resetFailed
	resetSingle
)

// RetryTask resets every item and counter to initial values and restarts
// the task from scratch.
func (s *Scheduler) RetryTask(ctx context.Context, taskID uuid.UUID) error {
	return s.reset(ctx, taskID, resetAll, uuid.Nil)
}

// RetryFailedItems resets only terminally failed items, leaving completed
// items and their results intact. A task with no failed items is left
// untouched and no event is emitted.
func (s *Scheduler) RetryFailedItems(ctx context.Context, taskID uuid.UUID) error {
	return s.reset(ctx, taskID, resetFailed, uuid.Nil)
}

// RetryTaskItem resets exactly one item.
func (s *Scheduler) RetryTaskItem(ctx context.Context, taskID, itemID uuid.UUID) error {
	return s.reset(ctx, taskID, resetSingle, itemID)
}

// reset is the single parameterized implementation behind the three retry
// operations. It resets the targeted items, recomputes counters and puts
// the task back into processing.
func (s *Scheduler) reset(ctx context.Context, taskID uuid.UUID, scope resetScope, itemID uuid.UUID) error {
	state, err := s.state(taskID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer s.flushEvents(state)
	defer state.mu.Unlock()

	t := state.task
	if t.Status == domain.TaskStatusProcessing {
		return fmt.Errorf("%w: task %s is processing", ErrTaskActive, taskID)
	}
	if err := s.ensureBackendLocked(state); err != nil {
		return err
	}

	stopTimersLocked(state)

	reset := 0
	for _, item := range t.Items {
		switch scope {
		case resetAll:
		case resetFailed:
			if item.Status != domain.ItemStatusFailed {
				continue
			}
		case resetSingle:
			if item.ID != itemID {
				continue
			}
		}
		s.dropResultLocked(t, item.ID)
		item.Reset()
		reset++
	}

	if scope == resetSingle && reset == 0 {
		return fmt.Errorf("%w: item %s in task %s", ErrItemNotFound, itemID, taskID)
	}
	if reset == 0 {
		s.logger.Debug("retry ignored, nothing to reset", "task_id", taskID)
		return nil
	}

	now := time.Now().UTC()
	// Every reachable prior state is inactive here: processing was
	// rejected above and both pause and finalize already decremented.
	t.Status = domain.TaskStatusProcessing
	t.StartedAt = &now
	t.CompletedAt = nil
	t.Error = ""
	t.RecalculateProgress()
	metrics.TasksActive.Inc()

	s.saveLocked(ctx, t)
	s.publishLocked(state)
	s.logger.Info("task reset", "task_id", taskID, "reset_items", reset)

	s.fillLocked(state)
	return nil
}

// dropResultLocked removes the result produced by the given item, if any.
// Resetting an item invalidates its previous artifact.
func (s *Scheduler) dropResultLocked(t *domain.BatchTask, itemID uuid.UUID) {
	for i, r := range t.Results {
		if r.TaskItemID == itemID {
			t.Results = append(t.Results[:i], t.Results[i+1:]...)
			return
		}
	}
}

// ApplyDownloadResult marks a result as downloaded on the task
// aggregate and persists it. The in-memory aggregate is authoritative;
// writing the flag straight to the store would be clobbered by the next
// whole-task save.
func (s *Scheduler) ApplyDownloadResult(ctx context.Context, taskID, resultID uuid.UUID, localPath string) error {
	state, err := s.state(taskID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer s.flushEvents(state)
	defer state.mu.Unlock()

	t := state.task
	result := t.Result(resultID)
	if result == nil {
		return fmt.Errorf("%w: result %s in task %s", ErrItemNotFound, resultID, taskID)
	}
	if result.Downloaded && result.LocalPath == localPath {
		return nil
	}
	result.Downloaded = true
	result.LocalPath = localPath

	s.saveLocked(ctx, t)
	s.publishLocked(state)
	s.logger.Debug("download recorded",
		"task_id", taskID,
		"result_id", resultID,
		"local_path", localPath)
	return nil
}

// WatchDownloads subscribes to the download queue's events and merges
// every completed download back into its task. A job whose task is no
// longer known is logged and skipped.
func (s *Scheduler) WatchDownloads(events *bus.DownloadEvents) {
	events.SubscribeAll(func(job *domain.DownloadJob) {
		if job.Status != domain.JobStatusCompleted {
			return
		}
		if err := s.ApplyDownloadResult(s.ctx, job.TaskID, job.ID, job.LocalPath); err != nil {
			s.logger.Warn("completed download has no matching task result",
				"task_id", job.TaskID,
				"result_id", job.ID,
				"error", err)
		}
	})
}

// DeleteTask stops the task if active and removes it from memory and
// from the store.
func (s *Scheduler) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	state, err := s.state(taskID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	t := state.task
	if t.IsActive() {
		stopTimersLocked(state)
		if t.Status == domain.TaskStatusProcessing {
			metrics.TasksActive.Dec()
		}
		t.Status = domain.TaskStatusCancelled
	}
	state.mu.Unlock()

	s.mu.Lock()
	delete(s.tasks, taskID)
	s.mu.Unlock()

	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	s.logger.Info("task deleted", "task_id", taskID)
	return nil
}

// GetTask returns a snapshot of the task.
func (s *Scheduler) GetTask(taskID uuid.UUID) (*domain.BatchTask, error) {
	state, err := s.state(taskID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.task.Clone(), nil
}

// ListTasks returns snapshots of all tasks, newest first.
func (s *Scheduler) ListTasks() []*domain.BatchTask {
	s.mu.RLock()
	states := make([]*taskState, 0, len(s.tasks))
	for _, st := range s.tasks {
		states = append(states, st)
	}
	s.mu.RUnlock()

	tasks := make([]*domain.BatchTask, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		tasks = append(tasks, st.task.Clone())
		st.mu.Unlock()
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks
}

// CountTasks returns the number of persisted tasks.
func (s *Scheduler) CountTasks(ctx context.Context) (int64, error) {
	return s.store.CountTasks(ctx)
}

// CleanupOldTasks removes the oldest inactive tasks beyond maxKeep, both
// from the store and from memory. Active tasks are never removed.
func (s *Scheduler) CleanupOldTasks(ctx context.Context, maxKeep int) (int64, error) {
	tasks := s.ListTasks()

	var removed int64
	for i := len(tasks) - 1; i >= 0 && len(tasks)-int(removed) > maxKeep; i-- {
		t := tasks[i]
		if t.IsActive() {
			continue
		}
		if err := s.DeleteTask(ctx, t.ID); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("cleaned up old tasks", "removed", removed, "max_keep", maxKeep)
	}
	return removed, nil
}

// ClearTasks deletes every task, active ones included. In-flight calls
// are abandoned the same way DeleteTask abandons them.
func (s *Scheduler) ClearTasks(ctx context.Context) (int64, error) {
	var removed int64
	for _, t := range s.ListTasks() {
		if err := s.DeleteTask(ctx, t.ID); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("cleared all tasks", "removed", removed)
	}
	return removed, nil
}

// Shutdown abandons all in-flight generation calls and waits for their
// goroutines to finish, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancelFunc()

	s.mu.RLock()
	for _, state := range s.tasks {
		state.mu.Lock()
		stopTimersLocked(state)
		state.mu.Unlock()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown interrupted: %w", ctx.Err())
	}
}

// state looks up the bookkeeping entry for a task.
func (s *Scheduler) state(taskID uuid.UUID) (*taskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
	}
	return st, nil
}

// publish emits a snapshot of the task on the notification bus under the
// task's ID. Must not be called with the task lock held: handlers run
// synchronously and may call back into the scheduler.
func (s *Scheduler) publish(t *domain.BatchTask) {
	if s.events == nil {
		return
	}
	s.events.Publish(t.ID.String(), t.Clone())
}

// publishLocked queues a snapshot of the task for delivery once the
// state lock is released. Publishing directly under the lock would
// deadlock any subscriber that reads the task back through GetTask.
func (s *Scheduler) publishLocked(state *taskState) {
	if s.events == nil {
		return
	}
	state.pending = append(state.pending, state.task.Clone())
}

// flushEvents delivers the snapshots queued under the lock, in order.
// Call after state.mu is released; typically deferred before the unlock
// so the LIFO defer order runs it lock-free.
func (s *Scheduler) flushEvents(state *taskState) {
	if s.events == nil {
		return
	}
	state.mu.Lock()
	queued := state.pending
	state.pending = nil
	state.mu.Unlock()

	for _, t := range queued {
		s.events.Publish(t.ID.String(), t)
	}
}

// saveLocked persists the aggregate, logging instead of failing the
// scheduling loop when the store rejects the write. Only the creation
// path propagates persistence errors to the caller.
func (s *Scheduler) saveLocked(ctx context.Context, t *domain.BatchTask) {
	if err := s.store.SaveTask(ctx, t); err != nil {
		s.logger.Error("failed to persist task state",
			"task_id", t.ID,
			"status", t.Status,
			"error", err)
	}
}

// stopTimersLocked cancels all pending retry timers of a task.
func stopTimersLocked(state *taskState) {
	for id, timer := range state.timers {
		timer.Stop()
		delete(state.timers, id)
	}
}
