// Package storage provides the durable write primitive the download queue
// persists artifacts through. The interface is deliberately small so tests
// and alternative environments can substitute their own implementation.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Saver writes artifact bytes to durable storage.
type Saver interface {
	// Save streams r to the given path and returns the final absolute
	// path of the written artifact. Parent directories are created as
	// needed. Partial files are removed on error.
	Save(ctx context.Context, r io.Reader, path string) (string, error)
}

// FileSaver persists artifacts to the local filesystem.
type FileSaver struct{}

// NewFileSaver creates a filesystem-backed Saver.
func NewFileSaver() *FileSaver {
	return &FileSaver{}
}

// Save writes the stream to path, creating parent directories as needed.
func (s *FileSaver) Save(ctx context.Context, r io.Reader, path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(out, contextReader{ctx: ctx, r: r}); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// contextReader aborts a copy when the context is cancelled, so a stopped
// download does not keep writing to disk.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// Ensure FileSaver implements Saver
var _ Saver = (*FileSaver)(nil)
