// Package store provides abstractions and implementations for persisting
// batch task aggregates. The TaskStore interface is the persistence
// adapter both the scheduler and the download queue write through; the
// package ships a mutex-guarded in-memory store, a PostgreSQL store and a
// Redis store behind the same interface.
//
// Stores always exchange deep copies of aggregates. Callers must re-fetch
// an aggregate before mutating it, since the scheduler and the download
// queue may both write the same task between reads.
package store
