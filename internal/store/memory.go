package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/imgbatch/imgbatch/internal/domain"
)

// MemoryTaskStore is an in-memory TaskStore implementation. It is the
// default backend for single-process deployments and the store used by
// tests. All aggregates are deep-copied on the way in and out so callers
// can never alias store-owned state.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.BatchTask
}

// NewMemoryTaskStore creates an empty in-memory store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[uuid.UUID]*domain.BatchTask),
	}
}

// ListTasks returns all tasks, newest first.
func (s *MemoryTaskStore) ListTasks(ctx context.Context) ([]*domain.BatchTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*domain.BatchTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// GetTask returns a copy of the task with the given ID.
func (s *MemoryTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.BatchTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// SaveTask inserts or replaces the task aggregate.
func (s *MemoryTaskStore) SaveTask(ctx context.Context, task *domain.BatchTask) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return nil
}

// DeleteTask removes the task with the given ID.
func (s *MemoryTaskStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// CountTasks returns the number of stored tasks.
func (s *MemoryTaskStore) CountTasks(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.tasks)), nil
}

// CleanupOldTasks removes the oldest tasks beyond maxKeep.
func (s *MemoryTaskStore) CleanupOldTasks(ctx context.Context, maxKeep int) (int64, error) {
	if maxKeep < 0 {
		maxKeep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) <= maxKeep {
		return 0, nil
	}

	tasks := make([]*domain.BatchTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	var removed int64
	for _, t := range tasks[maxKeep:] {
		delete(s.tasks, t.ID)
		removed++
	}
	return removed, nil
}

// Ensure MemoryTaskStore implements TaskStore
var _ TaskStore = (*MemoryTaskStore)(nil)
