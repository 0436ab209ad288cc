package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a download job.
type JobStatus string

// Possible download job status values
const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
)

// DownloadJob is one queued request to persist a task result's artifact.
// It references the originating result by ID only; the queue never owns
// the result, it reports completion on its event bus and the scheduler
// merges the outcome into the task aggregate.
type DownloadJob struct {
	// ID mirrors the TaskResult ID the job persists.
	ID uuid.UUID `json:"id"`

	TaskID     uuid.UUID `json:"task_id"`
	TaskItemID uuid.UUID `json:"task_item_id"`

	// SourceRef is the artifact reference to fetch: an http(s) URL or a
	// data URL with embedded bytes. The queue deduplicates on this value.
	SourceRef string `json:"source_ref"`

	// Filename is rendered from the naming template once, at enqueue time.
	Filename string `json:"filename"`

	Status     JobStatus `json:"status"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error,omitempty"`

	// Progress is the in-flight completion fraction in [0, 1]; Rate is the
	// instantaneous transfer rate in bytes per second. Both are zero when
	// the artifact size is unknown up front.
	Progress float64 `json:"progress"`
	Rate     float64 `json:"rate"`

	// LocalPath is the storage path of the saved artifact, set when the
	// job completes.
	LocalPath string `json:"local_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy of the job.
func (j *DownloadJob) Clone() *DownloadJob {
	c := *j
	return &c
}
