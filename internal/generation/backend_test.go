package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	family string
}

func (s *stubBackend) Family() string { return s.family }

func (s *stubBackend) Generate(ctx context.Context, req Request) (*Result, error) {
	return &Result{ImageRef: "stub://" + req.Prompt}, nil
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	gemini := &stubBackend{family: "gemini"}
	dalle := &stubBackend{family: "dalle"}
	r.Register(gemini)
	r.Register(dalle)

	got, err := r.Resolve("gemini")
	require.NoError(t, err)
	assert.Same(t, gemini, got)

	got, err = r.Resolve("dalle")
	require.NoError(t, err)
	assert.Same(t, dalle, got)
}

func TestRegistryResolveUnknownFamily(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("midjourney")
	assert.ErrorIs(t, err, ErrUnknownFamily)
}

func TestRegistryRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	first := &stubBackend{family: "gemini"}
	second := &stubBackend{family: "gemini"}
	r.Register(first)
	r.Register(second)

	got, err := r.Resolve("gemini")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Len(t, r.Families(), 1)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTransientFailure))
	assert.False(t, IsTransient(ErrGenerationFailed))
	assert.False(t, IsTransient(nil))
}
