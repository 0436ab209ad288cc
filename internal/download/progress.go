package download

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imgbatch/imgbatch/internal/domain"
)

// progressChunk is how many bytes pass between progress events.
const progressChunk = 64 * 1024

// progressTracker wraps an artifact stream and broadcasts the job's
// completion fraction and instantaneous transfer rate while it is read.
type progressTracker struct {
	q     *Queue
	job   *domain.DownloadJob
	inner io.Reader
	total int64
	read  int64

	lastBytes int64
	lastTime  time.Time
}

func (q *Queue) progressReader(job *domain.DownloadJob, inner io.Reader, total int64) *progressTracker {
	return &progressTracker{
		q:        q,
		job:      job,
		inner:    inner,
		total:    total,
		lastTime: time.Now(),
	}
}

func (r *progressTracker) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.read += int64(n)
		if r.read-r.lastBytes >= progressChunk {
			r.report()
		}
	}
	return n, err
}

func (r *progressTracker) report() {
	now := time.Now()
	rate := 0.0
	if elapsed := now.Sub(r.lastTime).Seconds(); elapsed > 0 {
		rate = float64(r.read-r.lastBytes) / elapsed
	}
	progress := 0.0
	if r.total > 0 {
		progress = float64(r.read) / float64(r.total)
	}

	r.q.mu.Lock()
	r.job.Progress = progress
	r.job.Rate = rate
	snapshot := r.job.Clone()
	r.q.mu.Unlock()
	r.q.events.Publish(r.job.ID.String(), snapshot)

	r.lastBytes = r.read
	r.lastTime = now
}

// renderFilename expands the naming template variables for one result.
// index is zero-based; the rendered {index} is one-based.
func renderFilename(template string, task *domain.BatchTask, index int) string {
	now := time.Now()
	return strings.NewReplacer(
		"{taskName}", sanitizeFilename(task.Name),
		"{taskId}", task.ID.String(),
		"{index}", strconv.Itoa(index+1),
		"{timestamp}", strconv.FormatInt(now.UnixMilli(), 10),
		"{date}", now.Format("2006-01-02"),
	).Replace(template)
}

// resultIndex returns the position of the result within the task.
func resultIndex(task *domain.BatchTask, resultID uuid.UUID) int {
	for i, r := range task.Results {
		if r.ID == resultID {
			return i
		}
	}
	return len(task.Results)
}

// sanitizeFilename replaces characters that are unsafe in file names.
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}

// decodeDataURL extracts the raw bytes of a base64 data URL.
func decodeDataURL(ref string) ([]byte, error) {
	const marker = ";base64,"
	sep := strings.Index(ref, marker)
	if sep < 0 {
		return nil, errors.New("data URL must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(ref[sep+len(marker):])
	if err != nil {
		return nil, fmt.Errorf("invalid base64 artifact data: %w", err)
	}
	return data, nil
}
