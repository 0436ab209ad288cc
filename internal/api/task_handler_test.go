package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgbatch/imgbatch/internal/bus"
	"github.com/imgbatch/imgbatch/internal/domain"
	"github.com/imgbatch/imgbatch/internal/generation"
	"github.com/imgbatch/imgbatch/internal/scheduler"
	"github.com/imgbatch/imgbatch/internal/store"
)

// stubBackend is a generation.Backend whose behavior is injected per test.
type stubBackend struct {
	generate func(ctx context.Context, req generation.Request) (*generation.Result, error)
}

func (b *stubBackend) Family() string { return "stub" }

func (b *stubBackend) Generate(
	ctx context.Context,
	req generation.Request,
) (*generation.Result, error) {
	if b.generate != nil {
		return b.generate(ctx, req)
	}
	return &generation.Result{ImageRef: "https://img.example/out.png"}, nil
}

// apiEnv wires a real scheduler over an in-memory store behind the router.
type apiEnv struct {
	router    http.Handler
	scheduler *scheduler.Scheduler
	backend   *stubBackend
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	backend := &stubBackend{}
	registry := generation.NewRegistry()
	registry.Register(backend)

	sched := scheduler.New(
		store.NewMemoryTaskStore(),
		registry,
		bus.New[*domain.BatchTask](logger),
		nil,
		logger,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})

	defaults := TaskDefaults{ConcurrentLimit: 2, RetryAttempts: 1, RetryDelay: 5 * time.Millisecond}
	router := NewRouter(RouterDeps{
		Tasks: NewTaskHandler(sched, defaults, logger),
		Downloads: NewDownloadHandler(
			newTestDownloadQueue(t, logger),
			logger,
		),
	})

	return &apiEnv{router: router, scheduler: sched, backend: backend}
}

// testWriter routes log output through the test log.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) *domain.BatchTask {
	t.Helper()

	var task domain.BatchTask
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&task))
	return &task
}

func validCreateBody() CreateTaskRequest {
	return CreateTaskRequest{
		Name: "portraits",
		Type: "text_to_image",
		Items: []CreateTaskItemRequest{
			{Prompt: "a lighthouse at dusk"},
			{Prompt: "a lighthouse at dawn"},
		},
		Config: TaskConfigRequest{
			Model:       "stub-image-1",
			ModelFamily: "stub",
		},
	}
}

func TestCreateTaskEndpoint(t *testing.T) {
	t.Run("creates_pending_task", func(t *testing.T) {
		env := newAPIEnv(t)

		rec := env.do(t, http.MethodPost, "/api/tasks", validCreateBody())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		task := decodeTask(t, rec)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
		assert.Equal(t, 2, task.TotalItems)
		assert.Equal(t, 2, task.Config.ConcurrentLimit, "server default applied")
		assert.NotEqual(t, uuid.Nil, task.ID)
	})

	t.Run("rejects_invalid_body", func(t *testing.T) {
		env := newAPIEnv(t)

		tests := []struct {
			name   string
			mutate func(*CreateTaskRequest)
		}{
			{"missing_name", func(r *CreateTaskRequest) { r.Name = "" }},
			{"unknown_type", func(r *CreateTaskRequest) { r.Type = "video" }},
			{"no_items", func(r *CreateTaskRequest) { r.Items = nil }},
			{"missing_model", func(r *CreateTaskRequest) { r.Config.Model = "" }},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				body := validCreateBody()
				tc.mutate(&body)

				rec := env.do(t, http.MethodPost, "/api/tasks", body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
	})

	t.Run("rejects_malformed_json", func(t *testing.T) {
		env := newAPIEnv(t)

		req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects_unknown_model_family", func(t *testing.T) {
		env := newAPIEnv(t)

		body := validCreateBody()
		body.Config.ModelFamily = "no-such-family"

		rec := env.do(t, http.MethodPost, "/api/tasks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTaskLifecycleEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/tasks", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	taskID := decodeTask(t, rec).ID

	rec = env.do(t, http.MethodPost, "/api/tasks/"+taskID.String()+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/tasks/"+taskID.String(), nil)
		if rec.Code != http.StatusOK {
			return false
		}
		return decodeTask(t, rec).Status == domain.TaskStatusCompleted
	}, 3*time.Second, 5*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/api/tasks/"+taskID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	task := decodeTask(t, rec)
	assert.Equal(t, 2, task.CompletedItems)
	assert.Equal(t, 100, task.Progress)
	assert.Len(t, task.Results, 2)
}

func TestPauseResumeEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	gate := make(chan struct{})
	env.backend.generate = func(ctx context.Context, req generation.Request) (*generation.Result, error) {
		select {
		case <-gate:
			return &generation.Result{ImageRef: "https://img.example/out.png"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	rec := env.do(t, http.MethodPost, "/api/tasks", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	taskID := decodeTask(t, rec).ID

	rec = env.do(t, http.MethodPost, "/api/tasks/"+taskID.String()+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TaskStatusProcessing, decodeTask(t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/tasks/"+taskID.String()+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TaskStatusPaused, decodeTask(t, rec).Status)

	close(gate)

	rec = env.do(t, http.MethodPost, "/api/tasks/"+taskID.String()+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TaskStatusProcessing, decodeTask(t, rec).Status)
}

func TestStopEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	env.backend.generate = func(ctx context.Context, req generation.Request) (*generation.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	rec := env.do(t, http.MethodPost, "/api/tasks", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	taskID := decodeTask(t, rec).ID

	rec = env.do(t, http.MethodPost, "/api/tasks/"+taskID.String()+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/tasks/"+taskID.String()+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TaskStatusCancelled, decodeTask(t, rec).Status)
}

func TestRetryEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	env.backend.generate = func(ctx context.Context, req generation.Request) (*generation.Result, error) {
		return nil, fmt.Errorf("%w: upstream unavailable", generation.ErrTransientFailure)
	}

	body := validCreateBody()
	zero := 0
	body.Config.RetryAttempts = &zero

	rec := env.do(t, http.MethodPost, "/api/tasks", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	task := decodeTask(t, rec)
	taskID := task.ID

	rec = env.do(t, http.MethodPost, "/api/tasks/"+taskID.String()+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/tasks/"+taskID.String(), nil)
		return rec.Code == http.StatusOK &&
			decodeTask(t, rec).Status == domain.TaskStatusFailed
	}, 3*time.Second, 5*time.Millisecond)

	// Restore a working backend, then retry only the failed items.
	env.backend.generate = nil

	rec = env.do(t, http.MethodPost, "/api/tasks/"+taskID.String()+"/retry?scope=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/tasks/"+taskID.String(), nil)
		return rec.Code == http.StatusOK &&
			decodeTask(t, rec).Status == domain.TaskStatusCompleted
	}, 3*time.Second, 5*time.Millisecond)

	// A whole-task retry on the completed task runs it again from scratch.
	rec = env.do(t, http.MethodPost, "/api/tasks/"+taskID.String()+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TaskStatusProcessing, decodeTask(t, rec).Status)

	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/tasks/"+taskID.String(), nil)
		return rec.Code == http.StatusOK &&
			decodeTask(t, rec).Status == domain.TaskStatusCompleted
	}, 3*time.Second, 5*time.Millisecond)

	// Single-item retry with an unknown item ID is a 404.
	rec = env.do(
		t,
		http.MethodPost,
		"/api/tasks/"+taskID.String()+"/items/"+uuid.NewString()+"/retry",
		nil,
	)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCountCleanupEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	for i := 0; i < 3; i++ {
		body := validCreateBody()
		body.Name = fmt.Sprintf("batch-%d", i)
		rec := env.do(t, http.MethodPost, "/api/tasks", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []*domain.BatchTask
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tasks))
	assert.Len(t, tasks, 3)

	rec = env.do(t, http.MethodGet, "/api/tasks/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var count CountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&count))
	assert.Equal(t, int64(3), count.Count)

	rec = env.do(t, http.MethodPost, "/api/tasks/cleanup", CleanupRequest{MaxKeep: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	var cleaned CleanupResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cleaned))
	assert.Equal(t, int64(2), cleaned.Removed)

	rec = env.do(t, http.MethodGet, "/api/tasks/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	count = CountResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&count))
	assert.Equal(t, int64(1), count.Count)
}

func TestClearTasksEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	for i := 0; i < 3; i++ {
		body := validCreateBody()
		body.Name = fmt.Sprintf("batch-%d", i)
		rec := env.do(t, http.MethodPost, "/api/tasks", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodDelete, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cleared CleanupResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cleared))
	assert.Equal(t, int64(3), cleared.Removed)

	rec = env.do(t, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []*domain.BatchTask
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tasks))
	assert.Empty(t, tasks)
}

func TestDeleteTaskEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/tasks", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	taskID := decodeTask(t, rec).ID

	rec = env.do(t, http.MethodDelete, "/api/tasks/"+taskID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/tasks/"+taskID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/tasks/"+taskID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskIDValidation(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/tasks/not-a-uuid/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
