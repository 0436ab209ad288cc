package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imgbatch/imgbatch/internal/domain"
	"github.com/imgbatch/imgbatch/internal/generation"
	"github.com/imgbatch/imgbatch/internal/metrics"
)

// fillLocked is the scheduling loop body: it dispatches pending items
// into the free concurrency slots, in original list order, then checks
// whether the task can be finalized. Called with state.mu held on every
// trigger: task start, resume, reset, item resolution, retry timer fire.
func (s *Scheduler) fillLocked(state *taskState) {
	t := state.task
	if t.Status != domain.TaskStatusProcessing {
		return
	}

	slots := t.Config.ConcurrentLimit - t.ProcessingCount()
	dispatched := 0
	for _, item := range t.Items {
		if slots <= 0 {
			break
		}
		if item.Status != domain.ItemStatusPending {
			continue
		}

		now := time.Now().UTC()
		item.Status = domain.ItemStatusProcessing
		item.AttemptCount++
		item.ProcessedAt = &now
		item.Error = ""
		item.DebugLogs = append(item.DebugLogs,
			domain.NewRequestLog(t.Config.Model, item.Prompt, item.AttemptCount))

		req := generation.Request{
			Prompt:       item.Prompt,
			Model:        t.Config.Model,
			SourceImages: append([]string(nil), item.SourceImages...),
			Mask:         item.Mask,
			AspectRatio:  t.Config.AspectRatio,
			Size:         t.Config.Size,
			Quality:      t.Config.Quality,
			Timeout:      t.Config.APITimeout,
		}

		slots--
		dispatched++
		metrics.ItemsInFlight.Inc()
		s.wg.Add(1)
		go s.dispatch(state, item.ID, item.AttemptCount, req)
	}

	if dispatched > 0 {
		s.saveLocked(s.ctx, t)
		s.publishLocked(state)
	}

	s.finalizeLocked(state)
}

// dispatch runs one generation call on its own goroutine and hands the
// outcome back to the resolution guard.
func (s *Scheduler) dispatch(state *taskState, itemID uuid.UUID, attempt int, req generation.Request) {
	defer s.wg.Done()
	defer metrics.ItemsInFlight.Dec()

	start := time.Now()
	result, err := state.backend.Generate(s.ctx, req)
	s.resolve(state, itemID, attempt, result, err, time.Since(start))
}

// resolve applies the outcome of a dispatched call. A resolution is only
// applied when the task is still processing, the item is still in
// processing state and the attempt count matches the dispatch; anything
// else means the call was abandoned by a pause, stop or reset and the
// result is discarded.
func (s *Scheduler) resolve(
	state *taskState,
	itemID uuid.UUID,
	attempt int,
	res *generation.Result,
	genErr error,
	duration time.Duration,
) {
	state.mu.Lock()

	t := state.task
	item := t.Item(itemID)
	if t.Status != domain.TaskStatusProcessing ||
		item == nil ||
		item.Status != domain.ItemStatusProcessing ||
		item.AttemptCount != attempt {
		state.mu.Unlock()
		s.logger.Debug("discarding stale resolution",
			"task_id", t.ID,
			"item_id", itemID,
			"attempt", attempt)
		return
	}

	family := t.Config.ModelFamily
	status := "success"
	if genErr != nil {
		status = "failure"
	}
	metrics.GenerationDuration.WithLabelValues(family, status).Observe(duration.Seconds())

	var handoff *domain.TaskResult
	if genErr != nil {
		s.failLocked(state, item, genErr, duration)
	} else {
		item.Status = domain.ItemStatusCompleted
		item.DebugLogs = append(item.DebugLogs, domain.NewResponseLog(res.ImageRef, duration))

		result := domain.NewTaskResult(item.ID, res.ImageRef, duration)
		t.Results = append(t.Results, result)
		metrics.ItemsCompleted.WithLabelValues(family).Inc()

		if t.Config.AutoDownload && s.downloads != nil {
			handoff = result.Clone()
		}
	}

	t.RecalculateProgress()
	s.saveLocked(s.ctx, t)
	s.publishLocked(state)
	s.fillLocked(state)

	var snapshot *domain.BatchTask
	if handoff != nil {
		snapshot = t.Clone()
	}
	state.mu.Unlock()
	s.flushEvents(state)

	if handoff != nil {
		s.downloads.Enqueue(snapshot, handoff)
	}
}

// failLocked records a failed attempt. Items with attempts remaining get
// a retry timer that returns them to the pending pool after the retry
// delay; exhausted items stay terminally failed.
func (s *Scheduler) failLocked(state *taskState, item *domain.TaskItem, genErr error, duration time.Duration) {
	t := state.task
	family := t.Config.ModelFamily

	item.Status = domain.ItemStatusFailed
	item.Error = genErr.Error()
	item.DebugLogs = append(item.DebugLogs, domain.NewErrorLog(genErr.Error(), "", duration))

	maxAttempts := t.Config.MaxAttempts()
	if errors.Is(genErr, generation.ErrContentBlocked) {
		// A safety block will not succeed on retry; exhaust the budget.
		item.AttemptCount = maxAttempts
	}

	if item.AttemptCount < maxAttempts {
		metrics.ItemsRetried.WithLabelValues(family).Inc()
		s.scheduleRetryLocked(state, item)
		s.logger.Debug("item failed, retry scheduled",
			"task_id", t.ID,
			"item_id", item.ID,
			"attempt", item.AttemptCount,
			"retry_delay", t.Config.RetryDelay,
			"error", genErr)
		return
	}

	metrics.ItemsFailed.WithLabelValues(family).Inc()
	s.logger.Info("item failed permanently",
		"task_id", t.ID,
		"item_id", item.ID,
		"attempts", item.AttemptCount,
		"error", genErr)
}

// scheduleRetryLocked arms the failed→pending timer for one item. The
// flip only happens if the task is still processing and the item is
// still in the exact failed state the timer was armed for.
func (s *Scheduler) scheduleRetryLocked(state *taskState, item *domain.TaskItem) {
	itemID := item.ID
	attempt := item.AttemptCount
	delay := state.task.Config.RetryDelay

	state.timers[itemID] = time.AfterFunc(delay, func() {
		state.mu.Lock()
		defer s.flushEvents(state)
		defer state.mu.Unlock()
		delete(state.timers, itemID)

		t := state.task
		it := t.Item(itemID)
		if t.Status != domain.TaskStatusProcessing ||
			it == nil ||
			it.Status != domain.ItemStatusFailed ||
			it.AttemptCount != attempt {
			return
		}

		it.Status = domain.ItemStatusPending
		s.fillLocked(state)
	})
}

// finalizeLocked closes out a processing task once every item has reached
// a terminal state: completed if at least one item succeeded, failed
// otherwise.
func (s *Scheduler) finalizeLocked(state *taskState) {
	t := state.task
	if t.Status != domain.TaskStatusProcessing {
		return
	}

	maxAttempts := t.Config.MaxAttempts()
	for _, item := range t.Items {
		if !item.IsTerminal(maxAttempts) {
			return
		}
	}

	now := time.Now().UTC()
	t.CompletedAt = &now
	if t.CompletedItems > 0 {
		t.Status = domain.TaskStatusCompleted
		t.Error = ""
	} else {
		t.Status = domain.TaskStatusFailed
		t.Error = fmt.Sprintf("all %d items failed", t.FailedItems)
	}
	metrics.TasksActive.Dec()

	s.saveLocked(s.ctx, t)
	s.publishLocked(state)
	s.logger.Info("task finalized",
		"task_id", t.ID,
		"status", t.Status,
		"completed_items", t.CompletedItems,
		"failed_items", t.FailedItems)
}

// Recover loads all persisted tasks into memory and resolves the state of
// tasks interrupted by an abnormal shutdown: any task or item still in
// processing state is forced to failed with a distinguishable error,
// never resumed silently. Call once, before accepting work.
func (s *Scheduler) Recover(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted tasks: %w", err)
	}

	interrupted := 0
	for _, t := range tasks {
		changed := false
		maxAttempts := t.Config.MaxAttempts()
		for _, item := range t.Items {
			if item.Status == domain.ItemStatusProcessing {
				item.Status = domain.ItemStatusFailed
				item.Error = "interrupted by restart"
				if item.AttemptCount < maxAttempts {
					item.AttemptCount = maxAttempts
				}
				changed = true
			}
		}
		if t.Status == domain.TaskStatusProcessing {
			now := time.Now().UTC()
			t.Status = domain.TaskStatusFailed
			t.Error = "interrupted by restart"
			t.CompletedAt = &now
			changed = true
		}

		if changed {
			t.RecalculateProgress()
			if err := s.store.SaveTask(ctx, t); err != nil {
				return fmt.Errorf("failed to persist recovered task %s: %w", t.ID, err)
			}
			interrupted++
		}

		state := &taskState{
			task:   t,
			timers: make(map[uuid.UUID]*time.Timer),
		}
		if backend, err := s.backends.Resolve(t.Config.ModelFamily); err == nil {
			state.backend = backend
		} else {
			s.logger.Warn("recovered task has no registered backend",
				"task_id", t.ID,
				"model_family", t.Config.ModelFamily)
		}

		s.mu.Lock()
		s.tasks[t.ID] = state
		s.mu.Unlock()
	}

	s.logger.Info("recovered persisted tasks",
		"task_count", len(tasks),
		"interrupted_count", interrupted)
	return nil
}

// ensureBackendLocked re-resolves the backend for tasks recovered before
// their model family was registered.
func (s *Scheduler) ensureBackendLocked(state *taskState) error {
	if state.backend != nil {
		return nil
	}
	backend, err := s.backends.Resolve(state.task.Config.ModelFamily)
	if err != nil {
		return err
	}
	state.backend = backend
	return nil
}
