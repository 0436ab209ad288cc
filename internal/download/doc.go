// Package download implements the artifact download queue. Successful
// generation results are enqueued as download jobs, fetched with bounded
// concurrency and persisted to durable storage; progress and transfer
// rate are broadcast on the notification bus while a job is in flight.
//
// Jobs are deduplicated by source reference: at most one queued or
// in-flight job exists per distinct reference at any time. On permanent
// failure the queue falls back to handing the original reference to a
// configurable handler so the artifact can still be saved manually.
package download
