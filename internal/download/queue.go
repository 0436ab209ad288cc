package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imgbatch/imgbatch/internal/bus"
	"github.com/imgbatch/imgbatch/internal/domain"
	"github.com/imgbatch/imgbatch/internal/metrics"
	"github.com/imgbatch/imgbatch/internal/storage"
	"github.com/imgbatch/imgbatch/internal/store"
)

// retryBaseDelay is the unit of the linear backoff between download
// attempts: the n-th retry waits n+1 times this long.
const retryBaseDelay = 300 * time.Millisecond

// ErrUnexpectedStatus is returned when the artifact host answers with a
// non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// Config holds the queue settings.
type Config struct {
	// Dir is the destination directory for downloaded artifacts.
	Dir string

	// Concurrency bounds the number of downloads in flight.
	Concurrency int

	// Retries is the number of automatic retries after a failed attempt.
	Retries int

	// FilenameTemplate names downloaded files. Supported variables:
	// {taskName}, {taskId}, {index}, {timestamp}, {date}.
	FilenameTemplate string
}

// FallbackHandler is invoked when a job fails permanently, so the caller
// can surface the original artifact reference for manual retrieval.
type FallbackHandler func(job *domain.DownloadJob)

// Queue is the bounded-concurrency FIFO download queue. All exported
// methods are safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	pending []*domain.DownloadJob
	active  map[string]*domain.DownloadJob
	running int

	cfg      Config
	store    store.TaskStore
	saver    storage.Saver
	events   *bus.DownloadEvents
	fallback FallbackHandler
	client   *http.Client
	logger   *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a download queue. fallback may be nil.
func New(
	cfg Config,
	taskStore store.TaskStore,
	saver storage.Saver,
	events *bus.DownloadEvents,
	fallback FallbackHandler,
	logger *slog.Logger,
) *Queue {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.FilenameTemplate == "" {
		cfg.FilenameTemplate = "{taskName}_{index}_{timestamp}.png"
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		active:     make(map[string]*domain.DownloadJob),
		cfg:        cfg,
		store:      taskStore,
		saver:      saver,
		events:     events,
		fallback:   fallback,
		client:     &http.Client{},
		logger:     logger.With("component", "download_queue"),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Enqueue adds one result to the queue. It returns false when a job for
// the same source reference is already queued or in flight, or when the
// result is already downloaded.
func (q *Queue) Enqueue(task *domain.BatchTask, result *domain.TaskResult) bool {
	if result.Downloaded || result.ImageRef == "" {
		return false
	}

	q.mu.Lock()
	if _, exists := q.active[result.ImageRef]; exists {
		q.mu.Unlock()
		q.logger.Debug("duplicate source reference rejected",
			"task_id", task.ID,
			"result_id", result.ID)
		return false
	}

	job := &domain.DownloadJob{
		ID:         result.ID,
		TaskID:     task.ID,
		TaskItemID: result.TaskItemID,
		SourceRef:  result.ImageRef,
		Filename:   renderFilename(q.cfg.FilenameTemplate, task, resultIndex(task, result.ID)),
		Status:     domain.JobStatusQueued,
		CreatedAt:  time.Now().UTC(),
	}
	q.pending = append(q.pending, job)
	q.active[job.SourceRef] = job
	q.fillLocked()
	q.mu.Unlock()

	q.publish(job)
	return true
}

// EnqueueBatch enqueues several results and returns how many were
// accepted after deduplication.
func (q *Queue) EnqueueBatch(task *domain.BatchTask, results []*domain.TaskResult) int {
	accepted := 0
	for _, r := range results {
		if q.Enqueue(task, r) {
			accepted++
		}
	}
	return accepted
}

// RetryFailed re-enqueues every result of the given task that is not yet
// marked downloaded. It returns the number of jobs accepted.
func (q *Queue) RetryFailed(ctx context.Context, taskID uuid.UUID) (int, error) {
	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to load task: %w", err)
	}
	return q.EnqueueBatch(task, task.Results), nil
}

// RetryAll re-enqueues all not-yet-downloaded results across all tasks.
func (q *Queue) RetryAll(ctx context.Context) (int, error) {
	tasks, err := q.store.ListTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tasks: %w", err)
	}

	accepted := 0
	for _, task := range tasks {
		accepted += q.EnqueueBatch(task, task.Results)
	}
	return accepted, nil
}

// Jobs returns snapshots of all queued and in-flight jobs.
func (q *Queue) Jobs() []*domain.DownloadJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*domain.DownloadJob, 0, len(q.active))
	for _, job := range q.active {
		jobs = append(jobs, job.Clone())
	}
	return jobs
}

// Shutdown abandons queued work and waits for in-flight downloads to
// finish, bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.cancelFunc()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("download queue shutdown interrupted: %w", ctx.Err())
	}
}

// fillLocked starts queued jobs while concurrency slots are free.
// Called with q.mu held.
func (q *Queue) fillLocked() {
	for q.running < q.cfg.Concurrency && len(q.pending) > 0 {
		job := q.pending[0]
		q.pending = q.pending[1:]
		job.Status = domain.JobStatusDownloading
		q.running++
		metrics.DownloadsInFlight.Inc()

		q.wg.Add(1)
		go q.run(job)
	}
}

// run drives one job through its attempts until success or exhaustion.
func (q *Queue) run(job *domain.DownloadJob) {
	defer q.wg.Done()
	defer metrics.DownloadsInFlight.Dec()

	logger := q.logger.With("job_id", job.ID, "task_id", job.TaskID)
	q.publish(job)

	var lastErr error
	for attempt := 0; ; attempt++ {
		path, err := q.download(job)
		if err == nil {
			q.complete(job, path, logger)
			break
		}

		lastErr = err
		if attempt >= q.cfg.Retries || q.ctx.Err() != nil {
			q.fail(job, lastErr, logger)
			break
		}

		q.mu.Lock()
		job.RetryCount++
		job.Error = err.Error()
		snapshot := job.Clone()
		q.mu.Unlock()
		q.events.Publish(job.ID.String(), snapshot)

		delay := retryBaseDelay * time.Duration(attempt+1)
		logger.Debug("download attempt failed, retrying",
			"attempt", attempt+1,
			"retry_delay", delay,
			"error", err)
		select {
		case <-time.After(delay):
		case <-q.ctx.Done():
		}
	}

	q.mu.Lock()
	delete(q.active, job.SourceRef)
	q.running--
	q.fillLocked()
	q.mu.Unlock()
}

// download fetches the job's artifact and hands the stream to the saver.
// Data URLs are decoded in place; anything else is fetched over HTTP.
func (q *Queue) download(job *domain.DownloadJob) (string, error) {
	dest := filepath.Join(q.cfg.Dir, job.Filename)

	if strings.HasPrefix(job.SourceRef, "data:") {
		data, err := decodeDataURL(job.SourceRef)
		if err != nil {
			return "", err
		}
		path, err := q.saver.Save(q.ctx, q.progressReader(job, bytes.NewReader(data), int64(len(data))), dest)
		if err != nil {
			return "", err
		}
		metrics.DownloadBytes.Add(float64(len(data)))
		return path, nil
	}

	req, err := http.NewRequestWithContext(q.ctx, http.MethodGet, job.SourceRef, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	reader := q.progressReader(job, resp.Body, resp.ContentLength)
	path, err := q.saver.Save(q.ctx, reader, dest)
	if err != nil {
		return "", err
	}
	metrics.DownloadBytes.Add(float64(reader.read))
	return path, nil
}

// complete marks the job done and publishes its final snapshot carrying
// the storage path. The queue never writes the task aggregate itself;
// the scheduler owns it and merges completed jobs off the event bus.
func (q *Queue) complete(job *domain.DownloadJob, path string, logger *slog.Logger) {
	q.mu.Lock()
	job.Status = domain.JobStatusCompleted
	job.Progress = 1
	job.Rate = 0
	job.Error = ""
	job.LocalPath = path
	snapshot := job.Clone()
	q.mu.Unlock()

	metrics.DownloadsCompleted.Inc()
	q.events.Publish(job.ID.String(), snapshot)
	logger.Info("artifact downloaded", "path", path)
}

// fail marks the job permanently failed and hands the original reference
// to the fallback handler. The artifact stays reachable via its source
// reference.
func (q *Queue) fail(job *domain.DownloadJob, cause error, logger *slog.Logger) {
	q.mu.Lock()
	job.Status = domain.JobStatusFailed
	job.Error = cause.Error()
	snapshot := job.Clone()
	q.mu.Unlock()

	metrics.DownloadsFailed.Inc()
	q.events.Publish(job.ID.String(), snapshot)
	logger.Warn("download failed permanently",
		"retry_count", snapshot.RetryCount,
		"error", cause)

	if q.fallback != nil {
		q.fallback(snapshot)
	}
}

// publish emits a snapshot of the job under its ID.
func (q *Queue) publish(job *domain.DownloadJob) {
	q.mu.Lock()
	snapshot := job.Clone()
	q.mu.Unlock()
	q.events.Publish(job.ID.String(), snapshot)
}
