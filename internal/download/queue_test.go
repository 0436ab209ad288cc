package download

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgbatch/imgbatch/internal/bus"
	"github.com/imgbatch/imgbatch/internal/domain"
	"github.com/imgbatch/imgbatch/internal/storage"
	"github.com/imgbatch/imgbatch/internal/store"
)

const waitFor = 3 * time.Second
const tick = 5 * time.Millisecond

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedTask persists a completed task with one result per image ref and
// returns the saved aggregate.
func seedTask(t *testing.T, taskStore store.TaskStore, refs ...string) *domain.BatchTask {
	t.Helper()

	items := make([]*domain.TaskItem, len(refs))
	for i := range refs {
		item, err := domain.NewTaskItem(fmt.Sprintf("prompt-%d", i), nil, "")
		require.NoError(t, err)
		item.Status = domain.ItemStatusCompleted
		items[i] = item
	}

	task, err := domain.NewBatchTask("my task", domain.TaskTypeTextToImage, items, domain.BatchTaskConfig{
		Model:           "m",
		ModelFamily:     "stub",
		ConcurrentLimit: 1,
	})
	require.NoError(t, err)
	task.Status = domain.TaskStatusCompleted
	for i, ref := range refs {
		task.Results = append(task.Results, domain.NewTaskResult(items[i].ID, ref, 0))
	}
	task.RecalculateProgress()
	require.NoError(t, taskStore.SaveTask(context.Background(), task))
	return task
}

type queueEnv struct {
	queue  *Queue
	store  store.TaskStore
	events *bus.DownloadEvents
	dir    string

	mu        sync.Mutex
	completed map[uuid.UUID]*domain.DownloadJob
}

func newTestQueue(t *testing.T, cfg Config, fallback FallbackHandler) *queueEnv {
	t.Helper()

	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	taskStore := store.NewMemoryTaskStore()
	events := bus.New[*domain.DownloadJob](testLogger())

	env := &queueEnv{
		store:     taskStore,
		events:    events,
		dir:       cfg.Dir,
		completed: make(map[uuid.UUID]*domain.DownloadJob),
	}
	events.SubscribeAll(func(job *domain.DownloadJob) {
		if job.Status != domain.JobStatusCompleted {
			return
		}
		env.mu.Lock()
		env.completed[job.ID] = job
		env.mu.Unlock()
	})

	env.queue = New(cfg, taskStore, storage.NewFileSaver(), events, fallback, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = env.queue.Shutdown(ctx)
	})

	return env
}

// waitCompleted blocks until the job for the given result finishes and
// returns its final snapshot.
func waitCompleted(t *testing.T, env *queueEnv, resultID uuid.UUID) *domain.DownloadJob {
	t.Helper()
	var job *domain.DownloadJob
	require.Eventually(t, func() bool {
		env.mu.Lock()
		defer env.mu.Unlock()
		job = env.completed[resultID]
		return job != nil
	}, waitFor, tick)
	return job
}

func TestDownloadSavesArtifact(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 200*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	env := newTestQueue(t, Config{Concurrency: 2, FilenameTemplate: "{taskName}_{index}.png"}, nil)
	task := seedTask(t, env.store, server.URL+"/a.png")

	var progressed atomic.Int32
	unsubscribe := env.events.Subscribe(task.Results[0].ID.String(), func(job *domain.DownloadJob) {
		if job.Status == domain.JobStatusDownloading && job.Progress > 0 {
			progressed.Add(1)
		}
	})
	defer unsubscribe()

	require.True(t, env.queue.Enqueue(task, task.Results[0]))
	job := waitCompleted(t, env, task.Results[0].ID)

	assert.Equal(t, "my_task_1.png", filepath.Base(job.LocalPath))
	assert.Equal(t, float64(1), job.Progress)

	written, err := os.ReadFile(job.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, payload, written)

	// the 200 KiB payload crosses the 64 KiB chunk boundary at least twice
	assert.GreaterOrEqual(t, progressed.Load(), int32(2))
}

func TestDownloadDataURL(t *testing.T) {
	raw := []byte("embedded image bytes")
	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	env := newTestQueue(t, Config{Concurrency: 1, FilenameTemplate: "{index}.png"}, nil)
	task := seedTask(t, env.store, ref)

	require.True(t, env.queue.Enqueue(task, task.Results[0]))
	job := waitCompleted(t, env, task.Results[0].ID)

	written, err := os.ReadFile(job.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, raw, written)
}

func TestEnqueueDeduplicatesSourceRefs(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("img"))
	}))
	defer server.Close()
	defer close(release)

	env := newTestQueue(t, Config{Concurrency: 1}, nil)
	task := seedTask(t, env.store, server.URL+"/same.png")

	// same source ref on a second result
	dup := domain.NewTaskResult(task.Items[0].ID, task.Results[0].ImageRef, 0)
	task.Results = append(task.Results, dup)

	assert.True(t, env.queue.Enqueue(task, task.Results[0]))
	assert.False(t, env.queue.Enqueue(task, task.Results[0]), "identical ref while in flight")
	assert.False(t, env.queue.Enqueue(task, dup), "identical ref from another result")
	assert.Len(t, env.queue.Jobs(), 1)
}

func TestEnqueueSkipsDownloadedResults(t *testing.T) {
	env := newTestQueue(t, Config{Concurrency: 1}, nil)
	task := seedTask(t, env.store, "https://example.com/a.png")
	task.Results[0].Downloaded = true

	assert.False(t, env.queue.Enqueue(task, task.Results[0]))
	assert.Empty(t, env.queue.Jobs())
}

func TestEnqueueBatch(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("img"))
	}))
	defer server.Close()
	defer close(release)

	env := newTestQueue(t, Config{Concurrency: 1}, nil)
	task := seedTask(t, env.store, server.URL+"/1.png", server.URL+"/2.png", server.URL+"/1.png")

	accepted := env.queue.EnqueueBatch(task, task.Results)
	assert.Equal(t, 2, accepted, "duplicate ref rejected")
}

func TestRetryWithBackoffThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("img"))
	}))
	defer server.Close()

	env := newTestQueue(t, Config{Concurrency: 1, Retries: 2}, nil)
	task := seedTask(t, env.store, server.URL+"/flaky.png")

	start := time.Now()
	require.True(t, env.queue.Enqueue(task, task.Results[0]))
	waitCompleted(t, env, task.Results[0].ID)

	assert.EqualValues(t, 3, calls.Load())
	// linear backoff: 300ms after the first failure, 600ms after the second
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestPermanentFailureInvokesFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var mu sync.Mutex
	var fallbackJobs []*domain.DownloadJob
	fallback := func(job *domain.DownloadJob) {
		mu.Lock()
		fallbackJobs = append(fallbackJobs, job)
		mu.Unlock()
	}

	env := newTestQueue(t, Config{Concurrency: 1, Retries: 1}, fallback)
	task := seedTask(t, env.store, server.URL+"/missing.png")

	var failed atomic.Bool
	unsubscribe := env.events.Subscribe(task.Results[0].ID.String(), func(job *domain.DownloadJob) {
		if job.Status == domain.JobStatusFailed {
			failed.Store(true)
		}
	})
	defer unsubscribe()

	require.True(t, env.queue.Enqueue(task, task.Results[0]))
	require.Eventually(t, failed.Load, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fallbackJobs, 1)
	assert.Equal(t, task.Results[0].ImageRef, fallbackJobs[0].SourceRef)
	assert.Equal(t, 1, fallbackJobs[0].RetryCount)
	assert.Contains(t, fallbackJobs[0].Error, "404")

	// the result stays reachable via its original reference
	persisted, err := env.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.False(t, persisted.Results[0].Downloaded)
	assert.Empty(t, persisted.Results[0].LocalPath)

	// a permanently failed ref can be enqueued again by a manual retry
	assert.True(t, env.queue.Enqueue(task, task.Results[0]))
}

func TestConcurrencyBound(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := maxSeen.Load()
			if cur <= seen || maxSeen.CompareAndSwap(seen, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write([]byte("img"))
	}))
	defer server.Close()

	env := newTestQueue(t, Config{Concurrency: 2}, nil)
	refs := make([]string, 6)
	for i := range refs {
		refs[i] = fmt.Sprintf("%s/%d.png", server.URL, i)
	}
	task := seedTask(t, env.store, refs...)

	assert.Equal(t, len(refs), env.queue.EnqueueBatch(task, task.Results))
	for _, r := range task.Results {
		waitCompleted(t, env, r.ID)
	}
	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestRetryFailedAndRetryAll(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("img"))
	}))
	defer server.Close()
	defer close(release)

	env := newTestQueue(t, Config{Concurrency: 1}, nil)
	taskA := seedTask(t, env.store, server.URL+"/a.png")
	taskB := seedTask(t, env.store, server.URL+"/b.png", server.URL+"/c.png")

	// mark one of taskB's results already downloaded
	taskB.Results[0].Downloaded = true
	require.NoError(t, env.store.SaveTask(context.Background(), taskB))

	accepted, err := env.queue.RetryFailed(context.Background(), taskA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)

	accepted, err = env.queue.RetryAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, accepted, "downloaded and in-flight results skipped")

	_, err = env.queue.RetryFailed(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestRenderFilename(t *testing.T) {
	items := []*domain.TaskItem{{ID: uuid.New(), Prompt: "p"}}
	task, err := domain.NewBatchTask("my cool/task", domain.TaskTypeTextToImage, items, domain.BatchTaskConfig{
		Model:           "m",
		ModelFamily:     "f",
		ConcurrentLimit: 1,
	})
	require.NoError(t, err)

	name := renderFilename("{taskName}_{index}_{date}.png", task, 4)
	assert.Equal(t, fmt.Sprintf("my_cool_task_5_%s.png", time.Now().Format("2006-01-02")), name)

	withID := renderFilename("{taskId}.png", task, 0)
	assert.Equal(t, task.ID.String()+".png", withID)
}
