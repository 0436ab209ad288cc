package scheduler

import "errors"

// Common scheduler errors
var (
	// ErrTaskActive is returned when a retry operation targets a task that
	// is still processing.
	ErrTaskActive = errors.New("task is still active")

	// ErrItemNotFound is returned when an item-scoped operation references
	// an item the task does not own.
	ErrItemNotFound = errors.New("task item not found")
)
