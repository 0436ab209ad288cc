package domain

import (
	"errors"
	"time"
)

// Common validation errors for BatchTaskConfig
var (
	ErrEmptyModel             = errors.New("model cannot be empty")
	ErrEmptyModelFamily       = errors.New("model family cannot be empty")
	ErrInvalidConcurrentLimit = errors.New("concurrent limit must be at least 1")
	ErrNegativeRetryAttempts  = errors.New("retry attempts cannot be negative")
	ErrNegativeRetryDelay     = errors.New("retry delay cannot be negative")
	ErrInvalidGenerateCount   = errors.New("generate count cannot be negative")
)

// BatchTaskConfig holds the immutable per-task execution settings.
// It is fixed at task creation time and shared by all items of the task.
type BatchTaskConfig struct {
	// Model is the model identifier passed to the generation backend.
	Model string `json:"model"`

	// ModelFamily selects the generation backend (e.g. "gemini", "dalle").
	ModelFamily string `json:"model_family"`

	// ConcurrentLimit bounds the number of in-flight generation calls.
	ConcurrentLimit int `json:"concurrent_limit"`

	// RetryAttempts is the number of automatic retries after the initial
	// attempt of an item fails.
	RetryAttempts int `json:"retry_attempts"`

	// RetryDelay is the wait before a failed item re-enters the pending pool.
	RetryDelay time.Duration `json:"retry_delay"`

	// AutoDownload hands successful results to the download queue.
	AutoDownload bool `json:"auto_download"`

	// Per-request image parameters, passed through to the backend.
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Size        string `json:"size,omitempty"`
	Quality     string `json:"quality,omitempty"`

	// GenerateCount is the number of images requested per prompt. Multiple
	// generations are modeled as multiple task items, so this only informs
	// item expansion at creation time.
	GenerateCount int `json:"generate_count,omitempty"`

	// APITimeout is an optional per-call timeout for the generation client.
	// Zero means the backend default applies.
	APITimeout time.Duration `json:"api_timeout,omitempty"`
}

// Validate checks that the config satisfies its invariants.
func (c BatchTaskConfig) Validate() error {
	if c.Model == "" {
		return ErrEmptyModel
	}
	if c.ModelFamily == "" {
		return ErrEmptyModelFamily
	}
	if c.ConcurrentLimit < 1 {
		return ErrInvalidConcurrentLimit
	}
	if c.RetryAttempts < 0 {
		return ErrNegativeRetryAttempts
	}
	if c.RetryDelay < 0 {
		return ErrNegativeRetryDelay
	}
	if c.GenerateCount < 0 {
		return ErrInvalidGenerateCount
	}
	return nil
}

// MaxAttempts returns the total attempt budget for one item:
// the initial attempt plus the configured retries.
func (c BatchTaskConfig) MaxAttempts() int {
	return c.RetryAttempts + 1
}
