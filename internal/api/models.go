package api

import (
	"time"

	"github.com/imgbatch/imgbatch/internal/domain"
)

// CreateTaskItemRequest is one generation request within a new task.
type CreateTaskItemRequest struct {
	Prompt       string   `json:"prompt"`
	SourceImages []string `json:"source_images,omitempty"`
	Mask         string   `json:"mask,omitempty"`
}

// TaskConfigRequest carries the execution settings for a new task.
// Durations are accepted in milliseconds on the wire. Zero values fall
// back to the server-wide defaults.
type TaskConfigRequest struct {
	Model           string `json:"model"            validate:"required"`
	ModelFamily     string `json:"model_family"     validate:"required"`
	ConcurrentLimit int    `json:"concurrent_limit" validate:"min=0"`
	RetryAttempts   *int   `json:"retry_attempts"   validate:"omitempty,min=0"`
	RetryDelayMs    *int   `json:"retry_delay_ms"   validate:"omitempty,min=0"`
	AutoDownload    bool   `json:"auto_download"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Size            string `json:"size,omitempty"`
	Quality         string `json:"quality,omitempty"`
	GenerateCount   int    `json:"generate_count"   validate:"min=0"`
	APITimeoutMs    int    `json:"api_timeout_ms"   validate:"min=0"`
}

// CreateTaskRequest is the body of POST /tasks.
type CreateTaskRequest struct {
	Name   string                  `json:"name"   validate:"required,max=200"`
	Type   string                  `json:"type"   validate:"required,oneof=text_to_image image_to_image mixed"`
	Items  []CreateTaskItemRequest `json:"items"  validate:"required,min=1,dive"`
	Config TaskConfigRequest       `json:"config" validate:"required"`
}

// TaskDefaults are the server-wide fallbacks applied when a create
// request leaves config fields unset.
type TaskDefaults struct {
	ConcurrentLimit int
	RetryAttempts   int
	RetryDelay      time.Duration
}

// toDomain converts the request config, filling blanks from defaults.
func (c TaskConfigRequest) toDomain(defaults TaskDefaults) domain.BatchTaskConfig {
	cfg := domain.BatchTaskConfig{
		Model:           c.Model,
		ModelFamily:     c.ModelFamily,
		ConcurrentLimit: c.ConcurrentLimit,
		RetryAttempts:   defaults.RetryAttempts,
		RetryDelay:      defaults.RetryDelay,
		AutoDownload:    c.AutoDownload,
		AspectRatio:     c.AspectRatio,
		Size:            c.Size,
		Quality:         c.Quality,
		GenerateCount:   c.GenerateCount,
		APITimeout:      time.Duration(c.APITimeoutMs) * time.Millisecond,
	}
	if cfg.ConcurrentLimit == 0 {
		cfg.ConcurrentLimit = defaults.ConcurrentLimit
	}
	if c.RetryAttempts != nil {
		cfg.RetryAttempts = *c.RetryAttempts
	}
	if c.RetryDelayMs != nil {
		cfg.RetryDelay = time.Duration(*c.RetryDelayMs) * time.Millisecond
	}
	return cfg
}

// CleanupRequest is the body of POST /tasks/cleanup.
type CleanupRequest struct {
	MaxKeep int `json:"max_keep" validate:"min=0"`
}

// CleanupResponse reports how many tasks a cleanup removed.
type CleanupResponse struct {
	Removed int64 `json:"removed"`
}

// CountResponse is the body of GET /tasks/count.
type CountResponse struct {
	Count int64 `json:"count"`
}

// RetryDownloadsRequest is the body of POST /downloads/retry. An empty
// TaskID re-enqueues not-yet-downloaded results across all tasks.
type RetryDownloadsRequest struct {
	TaskID string `json:"task_id,omitempty" validate:"omitempty,uuid"`
}

// RetryDownloadsResponse reports how many jobs were accepted.
type RetryDownloadsResponse struct {
	Accepted int `json:"accepted"`
}
