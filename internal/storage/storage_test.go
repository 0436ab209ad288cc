package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSaverSave(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSaver()

	path := filepath.Join(dir, "nested", "image.png")
	finalPath, err := s.Save(context.Background(), strings.NewReader("fake png bytes"), path)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(finalPath))

	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, "fake png bytes", string(data))
}

func TestFileSaverCancelledContext(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSaver()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(dir, "image.png")
	_, err := s.Save(ctx, strings.NewReader("bytes"), path)
	require.Error(t, err)

	// The partial file must not be left behind.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileSaverOverwrites(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSaver()
	path := filepath.Join(dir, "image.png")

	_, err := s.Save(context.Background(), strings.NewReader("first"), path)
	require.NoError(t, err)
	final, err := s.Save(context.Background(), strings.NewReader("second"), path)
	require.NoError(t, err)

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}
