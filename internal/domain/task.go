package domain

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a batch task.
type TaskStatus string

// Possible batch task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusPaused     TaskStatus = "paused"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// ItemStatus represents the lifecycle state of a single task item.
type ItemStatus string

// Possible task item status values
const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusCancelled  ItemStatus = "cancelled"
)

// TaskType describes what kind of generation requests a task holds.
type TaskType string

// Possible batch task types
const (
	TaskTypeTextToImage  TaskType = "text_to_image"
	TaskTypeImageToImage TaskType = "image_to_image"
	TaskTypeMixed        TaskType = "mixed"
)

// Common validation errors for BatchTask
var (
	ErrEmptyTaskID   = errors.New("task ID cannot be empty")
	ErrEmptyTaskName = errors.New("task name cannot be empty")
	ErrNoTaskItems   = errors.New("task must contain at least one item")
	ErrEmptyPrompt   = errors.New("item prompt cannot be empty")
)

// TaskItem is one generation request within a batch task, the unit of
// scheduling. Items are owned exclusively by their parent BatchTask.
type TaskItem struct {
	ID     uuid.UUID `json:"id"`
	Prompt string    `json:"prompt"`

	// SourceImages holds references to input images for image-to-image
	// requests; empty for pure text-to-image items.
	SourceImages []string `json:"source_images,omitempty"`
	Mask         string   `json:"mask,omitempty"`

	// Priority is reserved for future scheduling use. Selection order is
	// strictly FIFO today.
	Priority int `json:"priority"`

	Status       ItemStatus `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	DebugLogs    []DebugLog `json:"debug_logs,omitempty"`
}

// NewTaskItem creates a pending task item for the given prompt.
// Returns an error if the prompt is empty.
func NewTaskItem(prompt string, sourceImages []string, mask string) (*TaskItem, error) {
	if prompt == "" && len(sourceImages) == 0 {
		return nil, ErrEmptyPrompt
	}

	return &TaskItem{
		ID:           uuid.New(),
		Prompt:       prompt,
		SourceImages: append([]string(nil), sourceImages...),
		Mask:         mask,
		Status:       ItemStatusPending,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// IsTerminal reports whether the item can never run again without an
// explicit reset. A failed item with attempts remaining is not terminal.
func (i *TaskItem) IsTerminal(maxAttempts int) bool {
	switch i.Status {
	case ItemStatusCompleted, ItemStatusCancelled:
		return true
	case ItemStatusFailed:
		return i.AttemptCount >= maxAttempts
	default:
		return false
	}
}

// Reset returns the item to its initial pending state.
func (i *TaskItem) Reset() {
	i.Status = ItemStatusPending
	i.AttemptCount = 0
	i.ProcessedAt = nil
	i.Error = ""
	i.DebugLogs = nil
}

// Clone returns a deep copy of the item.
func (i *TaskItem) Clone() *TaskItem {
	c := *i
	c.SourceImages = append([]string(nil), i.SourceImages...)
	if i.ProcessedAt != nil {
		t := *i.ProcessedAt
		c.ProcessedAt = &t
	}
	c.DebugLogs = append([]DebugLog(nil), i.DebugLogs...)
	return &c
}

// BatchTask is the aggregate root: a named collection of generation
// requests executed together under one concurrency and retry policy.
// Items and results are deeply owned and never shared.
type BatchTask struct {
	ID     uuid.UUID  `json:"id"`
	Name   string     `json:"name"`
	Type   TaskType   `json:"type"`
	Status TaskStatus `json:"status"`

	// Progress is derived from item states, never set independently.
	Progress       int `json:"progress"`
	TotalItems     int `json:"total_items"`
	CompletedItems int `json:"completed_items"`
	FailedItems    int `json:"failed_items"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Config  BatchTaskConfig `json:"config"`
	Items   []*TaskItem     `json:"items"`
	Results []*TaskResult   `json:"results"`
	Error   string          `json:"error,omitempty"`
}

// NewBatchTask creates a pending batch task owning the given items.
// Returns an error if the name is empty, the item list is empty, or the
// config fails validation.
func NewBatchTask(name string, taskType TaskType, items []*TaskItem, config BatchTaskConfig) (*BatchTask, error) {
	if name == "" {
		return nil, ErrEmptyTaskName
	}
	if len(items) == 0 {
		return nil, ErrNoTaskItems
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	task := &BatchTask{
		ID:         uuid.New(),
		Name:       name,
		Type:       taskType,
		Status:     TaskStatusPending,
		TotalItems: len(items),
		CreatedAt:  time.Now().UTC(),
		Config:     config,
		Items:      items,
		Results:    make([]*TaskResult, 0),
	}
	task.RecalculateProgress()

	return task, nil
}

// Validate checks the aggregate's structural invariants.
func (t *BatchTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.Name == "" {
		return ErrEmptyTaskName
	}
	if len(t.Items) == 0 {
		return ErrNoTaskItems
	}
	return t.Config.Validate()
}

// Item returns the item with the given ID, or nil if the task does not
// own it.
func (t *BatchTask) Item(itemID uuid.UUID) *TaskItem {
	for _, item := range t.Items {
		if item.ID == itemID {
			return item
		}
	}
	return nil
}

// Result returns the result with the given ID, or nil.
func (t *BatchTask) Result(resultID uuid.UUID) *TaskResult {
	for _, r := range t.Results {
		if r.ID == resultID {
			return r
		}
	}
	return nil
}

// ResultForItem returns the result produced by the given item, or nil.
func (t *BatchTask) ResultForItem(itemID uuid.UUID) *TaskResult {
	for _, r := range t.Results {
		if r.TaskItemID == itemID {
			return r
		}
	}
	return nil
}

// ProcessingCount returns the number of items currently in flight.
func (t *BatchTask) ProcessingCount() int {
	n := 0
	for _, item := range t.Items {
		if item.Status == ItemStatusProcessing {
			n++
		}
	}
	return n
}

// RecalculateProgress rederives the completed/failed counters and the
// progress percentage from the current item states. Only terminally
// failed items count as failed; an item awaiting a retry does not.
func (t *BatchTask) RecalculateProgress() {
	maxAttempts := t.Config.MaxAttempts()
	completed, failed := 0, 0
	for _, item := range t.Items {
		switch item.Status {
		case ItemStatusCompleted:
			completed++
		case ItemStatusFailed:
			if item.AttemptCount >= maxAttempts {
				failed++
			}
		}
	}

	t.TotalItems = len(t.Items)
	t.CompletedItems = completed
	t.FailedItems = failed
	if t.TotalItems == 0 {
		t.Progress = 0
		return
	}
	t.Progress = int(math.Round(100 * float64(completed+failed) / float64(t.TotalItems)))
}

// IsActive reports whether the task is in a state the scheduler drives.
func (t *BatchTask) IsActive() bool {
	return t.Status == TaskStatusProcessing || t.Status == TaskStatusPaused
}

// IsTerminal reports whether the task has reached a final state.
func (t *BatchTask) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of the task. The scheduler publishes clones
// on the notification bus so observers can never mutate live state.
func (t *BatchTask) Clone() *BatchTask {
	c := *t
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	c.Items = make([]*TaskItem, len(t.Items))
	for i, item := range t.Items {
		c.Items[i] = item.Clone()
	}
	c.Results = make([]*TaskResult, len(t.Results))
	for i, r := range t.Results {
		c.Results[i] = r.Clone()
	}
	return &c
}
