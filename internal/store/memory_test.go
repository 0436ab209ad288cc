package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgbatch/imgbatch/internal/domain"
)

func newTask(t *testing.T, name string, createdAt time.Time) *domain.BatchTask {
	t.Helper()
	item, err := domain.NewTaskItem("a prompt", nil, "")
	require.NoError(t, err)

	task, err := domain.NewBatchTask(name, domain.TaskTypeTextToImage,
		[]*domain.TaskItem{item}, domain.BatchTaskConfig{
			Model:           "imagen-3.0",
			ModelFamily:     "gemini",
			ConcurrentLimit: 1,
		})
	require.NoError(t, err)
	task.CreatedAt = createdAt
	return task
}

func TestMemorySaveAndGet(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	task := newTask(t, "roundtrip", time.Now().UTC())

	require.NoError(t, s.SaveTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Name, got.Name)
}

func TestMemoryGetNotFound(t *testing.T) {
	s := NewMemoryTaskStore()
	_, err := s.GetTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	task := newTask(t, "isolation", time.Now().UTC())
	require.NoError(t, s.SaveTask(ctx, task))

	// Mutating the caller's aggregate after save must not leak in.
	task.Items[0].Status = domain.ItemStatusCompleted

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusPending, got.Items[0].Status)

	// Mutating a fetched aggregate must not leak back.
	got.Name = "mutated"
	again, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "isolation", again.Name)
}

func TestMemoryListNewestFirst(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.SaveTask(ctx, newTask(t, "older", base.Add(-time.Hour))))
	require.NoError(t, s.SaveTask(ctx, newTask(t, "newer", base)))

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "newer", tasks[0].Name)
}

func TestMemoryDelete(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	task := newTask(t, "doomed", time.Now().UTC())

	require.NoError(t, s.SaveTask(ctx, task))
	require.NoError(t, s.DeleteTask(ctx, task.ID))
	assert.ErrorIs(t, s.DeleteTask(ctx, task.ID), ErrTaskNotFound)
}

func TestMemoryCountAndCleanup(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveTask(ctx, newTask(t, "task", base.Add(time.Duration(i)*time.Minute))))
	}

	count, err := s.CountTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	removed, err := s.CleanupOldTasks(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	count, err = s.CountTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
