// Package scheduler implements the batch task execution engine. It owns
// the collection of batch tasks, runs a bounded-concurrency loop over
// their items, applies the retry policy, aggregates progress and emits
// lifecycle events on the notification bus.
//
// All mutation of a task aggregate happens under a per-task mutex. Calls
// to the generation backend are dispatched on their own goroutines; a
// resolution is applied only if the task and item are still in the state
// they were dispatched from, otherwise it is discarded. This makes
// pause, stop and retry safe against late-arriving results from
// abandoned calls.
package scheduler
