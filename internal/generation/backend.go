package generation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Request carries one image-generation call to a backend.
type Request struct {
	// Prompt is the text prompt. May be empty for pure image-to-image
	// requests that carry source images.
	Prompt string

	// Model is the provider-specific model identifier.
	Model string

	// SourceImages are optional input image references (URLs or data URLs)
	// for image-to-image generation. Mask optionally restricts edits.
	SourceImages []string
	Mask         string

	// Image shape and quality parameters, passed through verbatim.
	AspectRatio string
	Size        string
	Quality     string

	// Timeout bounds the provider call. Zero means no explicit deadline
	// beyond the caller's context.
	Timeout time.Duration
}

// Result is the outcome of a successful generation call.
type Result struct {
	// ImageRef is an http(s) URL or a data URL with embedded image bytes.
	ImageRef string

	// Duration is how long the provider call took.
	Duration time.Duration
}

// Backend generates images for one model family. Implementations live in
// internal/platform and must be safe for concurrent use: the scheduler
// calls Generate from many goroutines at once.
type Backend interface {
	// Family returns the model family this backend serves (e.g. "gemini").
	Family() string

	// Generate performs one generation call. Errors should wrap the
	// sentinel errors of this package so the scheduler can distinguish
	// transient failures from permanent ones.
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Registry holds the available backends keyed by model family. The
// scheduler resolves a task's backend once, at task creation time, and
// invokes it uniformly for every item afterwards.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend for its family, replacing any previous one.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Family()] = b
}

// Resolve returns the backend for the given model family.
func (r *Registry) Resolve(family string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[family]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	return b, nil
}

// Families returns the registered family names.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	families := make([]string, 0, len(r.backends))
	for f := range r.backends {
		families = append(families, f)
	}
	return families
}
