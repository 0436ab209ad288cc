package bus

import (
	"github.com/imgbatch/imgbatch/internal/domain"
)

// TaskEvents broadcasts batch task snapshots keyed by task ID. The
// scheduler publishes a fresh Clone on every state change.
type TaskEvents = Bus[*domain.BatchTask]

// DownloadEvents broadcasts download job snapshots keyed by job ID,
// including in-flight progress and transfer rate updates.
type DownloadEvents = Bus[*domain.DownloadJob]
