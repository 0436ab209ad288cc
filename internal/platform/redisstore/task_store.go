// Package redisstore provides the Redis implementation of the task store
// interface defined in the internal/store package. Task aggregates are
// held as JSON blobs in a single hash keyed by task ID, written and
// replaced as a whole.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/imgbatch/imgbatch/internal/domain"
	"github.com/imgbatch/imgbatch/internal/store"
)

// tasksKey is the hash holding all task aggregates, field = task ID.
const tasksKey = "imgbatch:tasks"

// TaskStore implements store.TaskStore on Redis.
type TaskStore struct {
	client *redis.Client
}

// NewTaskStore connects to Redis at the given address and verifies the
// connection with a ping.
func NewTaskStore(ctx context.Context, addr string) (*TaskStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &TaskStore{client: client}, nil
}

// SaveTask inserts or replaces the task aggregate.
func (s *TaskStore) SaveTask(ctx context.Context, task *domain.BatchTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal batch task: %w", err)
	}

	if err := s.client.HSet(ctx, tasksKey, task.ID.String(), data).Err(); err != nil {
		return fmt.Errorf("failed to save batch task: %w", mapError(err))
	}
	return nil
}

// GetTask returns the task with the given ID.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.BatchTask, error) {
	data, err := s.client.HGet(ctx, tasksKey, id.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get batch task: %w", err)
	}

	var task domain.BatchTask
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch task: %w", err)
	}
	return &task, nil
}

// ListTasks returns all tasks, newest first.
func (s *TaskStore) ListTasks(ctx context.Context) ([]*domain.BatchTask, error) {
	taskMap, err := s.client.HGetAll(ctx, tasksKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list batch tasks: %w", err)
	}

	tasks := make([]*domain.BatchTask, 0, len(taskMap))
	for _, data := range taskMap {
		var task domain.BatchTask
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batch task: %w", err)
		}
		tasks = append(tasks, &task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// DeleteTask removes the task with the given ID.
func (s *TaskStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	removed, err := s.client.HDel(ctx, tasksKey, id.String()).Result()
	if err != nil {
		return fmt.Errorf("failed to delete batch task: %w", err)
	}
	if removed == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// CountTasks returns the number of stored tasks.
func (s *TaskStore) CountTasks(ctx context.Context) (int64, error) {
	count, err := s.client.HLen(ctx, tasksKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count batch tasks: %w", err)
	}
	return count, nil
}

// CleanupOldTasks deletes the oldest tasks beyond maxKeep.
func (s *TaskStore) CleanupOldTasks(ctx context.Context, maxKeep int) (int64, error) {
	if maxKeep < 0 {
		maxKeep = 0
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return 0, err
	}
	if len(tasks) <= maxKeep {
		return 0, nil
	}

	fields := make([]string, 0, len(tasks)-maxKeep)
	for _, t := range tasks[maxKeep:] {
		fields = append(fields, t.ID.String())
	}

	removed, err := s.client.HDel(ctx, tasksKey, fields...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old batch tasks: %w", err)
	}
	return removed, nil
}

// Close releases the underlying Redis connection.
func (s *TaskStore) Close() error {
	return s.client.Close()
}

// mapError translates Redis out-of-memory refusals into the store's quota
// sentinel so callers can surface them to the user.
func mapError(err error) error {
	if err != nil && strings.Contains(err.Error(), "OOM") {
		return fmt.Errorf("%w: %v", store.ErrQuotaExceeded, err)
	}
	return err
}

// Ensure TaskStore implements store.TaskStore
var _ store.TaskStore = (*TaskStore)(nil)
