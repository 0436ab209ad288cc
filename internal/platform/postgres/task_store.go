package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/imgbatch/imgbatch/internal/domain"
	"github.com/imgbatch/imgbatch/internal/platform/logger"
	"github.com/imgbatch/imgbatch/internal/store"
)

// DBTX abstracts the database access layer. It is implemented by both
// *sql.DB and *sql.Tx so the store works with a connection or a
// transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TaskStore implements store.TaskStore using PostgreSQL. The aggregate is
// persisted as one row per task with the config, items and results held
// in JSONB columns, written and replaced as a whole.
type TaskStore struct {
	db DBTX
}

// NewTaskStore creates a TaskStore backed by the given database handle.
func NewTaskStore(db DBTX) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `
	id, name, task_type, status, progress,
	total_items, completed_items, failed_items,
	created_at, started_at, completed_at,
	config, items, results, error_text
`

// SaveTask inserts or replaces the task aggregate.
func (s *TaskStore) SaveTask(ctx context.Context, task *domain.BatchTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	configJSON, err := json.Marshal(task.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal task config: %w", err)
	}
	itemsJSON, err := json.Marshal(task.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal task items: %w", err)
	}
	resultsJSON, err := json.Marshal(task.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal task results: %w", err)
	}

	query := `
		INSERT INTO batch_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			task_type = EXCLUDED.task_type,
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			total_items = EXCLUDED.total_items,
			completed_items = EXCLUDED.completed_items,
			failed_items = EXCLUDED.failed_items,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			config = EXCLUDED.config,
			items = EXCLUDED.items,
			results = EXCLUDED.results,
			error_text = EXCLUDED.error_text
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.Name,
		task.Type,
		task.Status,
		task.Progress,
		task.TotalItems,
		task.CompletedItems,
		task.FailedItems,
		task.CreatedAt,
		task.StartedAt,
		task.CompletedAt,
		configJSON,
		itemsJSON,
		resultsJSON,
		task.Error,
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to save batch task",
			"task_id", task.ID,
			"error", err)
		return fmt.Errorf("failed to save batch task: %w", mapError(err))
	}

	return nil
}

// GetTask returns the task with the given ID.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.BatchTask, error) {
	query := `SELECT ` + taskColumns + ` FROM batch_tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get batch task: %w", mapError(err))
	}
	return task, nil
}

// ListTasks returns all tasks, newest first.
func (s *TaskStore) ListTasks(ctx context.Context) ([]*domain.BatchTask, error) {
	query := `SELECT ` + taskColumns + ` FROM batch_tasks ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch tasks: %w", mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.BatchTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batch tasks: %w", err)
	}

	return tasks, nil
}

// DeleteTask removes the task with the given ID.
func (s *TaskStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM batch_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete batch task: %w", mapError(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// CountTasks returns the number of persisted tasks.
func (s *TaskStore) CountTasks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_tasks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count batch tasks: %w", mapError(err))
	}
	return count, nil
}

// CleanupOldTasks deletes the oldest tasks beyond maxKeep.
func (s *TaskStore) CleanupOldTasks(ctx context.Context, maxKeep int) (int64, error) {
	if maxKeep < 0 {
		maxKeep = 0
	}

	query := `
		DELETE FROM batch_tasks
		WHERE id IN (
			SELECT id FROM batch_tasks
			ORDER BY created_at DESC
			OFFSET $1
		)
	`

	result, err := s.db.ExecContext(ctx, query, maxKeep)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old batch tasks: %w", mapError(err))
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one batch_tasks row into a domain aggregate.
func scanTask(row rowScanner) (*domain.BatchTask, error) {
	var (
		task        domain.BatchTask
		startedAt   sql.NullTime
		completedAt sql.NullTime
		configJSON  []byte
		itemsJSON   []byte
		resultsJSON []byte
	)

	err := row.Scan(
		&task.ID,
		&task.Name,
		&task.Type,
		&task.Status,
		&task.Progress,
		&task.TotalItems,
		&task.CompletedItems,
		&task.FailedItems,
		&task.CreatedAt,
		&startedAt,
		&completedAt,
		&configJSON,
		&itemsJSON,
		&resultsJSON,
		&task.Error,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		t := startedAt.Time.UTC()
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		task.CompletedAt = &t
	}
	task.CreatedAt = task.CreatedAt.UTC()

	if err := json.Unmarshal(configJSON, &task.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task config: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &task.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task items: %w", err)
	}
	if err := json.Unmarshal(resultsJSON, &task.Results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task results: %w", err)
	}

	return &task, nil
}

// Ensure TaskStore implements store.TaskStore
var _ store.TaskStore = (*TaskStore)(nil)
