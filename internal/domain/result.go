package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskResult is the artifact produced by one successfully completed task
// item. An item produces at most one result; multiple generations per
// prompt are modeled as multiple items.
type TaskResult struct {
	ID         uuid.UUID `json:"id"`
	TaskItemID uuid.UUID `json:"task_item_id"`

	// ImageRef is the artifact reference returned by the generation
	// backend: an http(s) URL or a data URL with embedded bytes.
	ImageRef string `json:"image_ref"`

	// Downloaded and LocalPath are set by the download queue once the
	// artifact has been persisted to durable storage.
	Downloaded bool   `json:"downloaded"`
	LocalPath  string `json:"local_path,omitempty"`

	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// NewTaskResult creates a result for the given item and artifact reference.
func NewTaskResult(itemID uuid.UUID, imageRef string, duration time.Duration) *TaskResult {
	return &TaskResult{
		ID:         uuid.New(),
		TaskItemID: itemID,
		ImageRef:   imageRef,
		CreatedAt:  time.Now().UTC(),
		Duration:   duration,
	}
}

// Clone returns a copy of the result.
func (r *TaskResult) Clone() *TaskResult {
	c := *r
	return &c
}
