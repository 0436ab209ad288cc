// Package bus provides a minimal in-process publish/subscribe mechanism.
// The scheduler and the download queue broadcast state-change snapshots
// through it so observers never couple to either component directly.
package bus

import (
	"log/slog"
	"sync"
)

// subscriberAll is the internal subject under which SubscribeAll handlers
// are registered.
const subscriberAll = "*"

// Bus dispatches events of type E to handlers keyed by subject (a task or
// job ID). Delivery is synchronous on the publisher's goroutine;
// publishers must only ever publish snapshots, never live mutable state.
type Bus[E any] struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]func(E)
	logger   *slog.Logger
}

// New creates an empty bus.
func New[E any](logger *slog.Logger) *Bus[E] {
	return &Bus[E]{
		handlers: make(map[string]map[int]func(E)),
		logger:   logger.With("component", "bus"),
	}
}

// Subscribe registers fn for events published under the given subject.
// The returned function removes the subscription; calling it more than
// once is harmless.
func (b *Bus[E]) Subscribe(subject string, fn func(E)) func() {
	return b.add(subject, fn)
}

// SubscribeAll registers fn for every event regardless of subject.
func (b *Bus[E]) SubscribeAll(fn func(E)) func() {
	return b.add(subscriberAll, fn)
}

func (b *Bus[E]) add(subject string, fn func(E)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.handlers[subject] == nil {
		b.handlers[subject] = make(map[int]func(E))
	}
	b.handlers[subject][id] = fn
	b.logger.Debug("subscriber registered", "subject", subject, "subscriber_count", len(b.handlers[subject]))

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.handlers[subject]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.handlers, subject)
			}
		}
	}
}

// Publish delivers the event to all handlers registered for the subject
// and to all SubscribeAll handlers. Handlers run synchronously on the
// caller's goroutine; a panicking handler is recovered and logged so one
// misbehaving observer cannot take down the publisher.
func (b *Bus[E]) Publish(subject string, event E) {
	b.mu.RLock()
	fns := make([]func(E), 0, len(b.handlers[subject])+len(b.handlers[subscriberAll]))
	for _, fn := range b.handlers[subject] {
		fns = append(fns, fn)
	}
	for _, fn := range b.handlers[subscriberAll] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.deliver(subject, fn, event)
	}
}

func (b *Bus[E]) deliver(subject string, fn func(E), event E) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("subscriber panicked", "subject", subject, "panic", p)
		}
	}()
	fn(event)
}

// SubscriberCount returns the number of handlers registered for a subject,
// not counting SubscribeAll handlers.
func (b *Bus[E]) SubscriberCount(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[subject])
}
