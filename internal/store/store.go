package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/imgbatch/imgbatch/internal/domain"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrTaskNotFound indicates that the requested batch task does not exist.
	ErrTaskNotFound = fmt.Errorf("%w: batch task", ErrNotFound)

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrQuotaExceeded is returned when the backing storage refuses a save
	// because a size or quota limit was reached. Callers must surface this
	// to the user rather than silently dropping the task.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// TaskStore is the persistence adapter for batch task aggregates.
// SaveTask is an upsert at aggregate granularity: the whole task, with
// its items and results, is written as one unit, last write wins.
type TaskStore interface {
	// ListTasks returns all persisted tasks, newest first.
	ListTasks(ctx context.Context) ([]*domain.BatchTask, error)

	// GetTask returns the task with the given ID, or ErrTaskNotFound.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.BatchTask, error)

	// SaveTask inserts or replaces the task aggregate.
	SaveTask(ctx context.Context, task *domain.BatchTask) error

	// DeleteTask removes the task, or returns ErrTaskNotFound.
	DeleteTask(ctx context.Context, id uuid.UUID) error

	// CountTasks returns the number of persisted tasks.
	CountTasks(ctx context.Context) (int64, error)

	// CleanupOldTasks deletes the oldest tasks beyond maxKeep, keeping the
	// most recently created ones. Returns the number of tasks removed.
	CleanupOldTasks(ctx context.Context, maxKeep int) (int64, error)
}
