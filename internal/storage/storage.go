package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrInvalidFileName is returned when a file name would escape the storage directory
// or is otherwise not a plain base name.
var ErrInvalidFileName = errors.New("invalid file name")

// Entry describes a stored image file.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Storage persists image files in a single flat namespace.
type Storage interface {
	// Save writes data under a freshly generated name derived from originalName
	// and returns that name.
	Save(ctx context.Context, originalName string, data io.Reader) (string, error)

	// Delete removes the named file. A missing file is not an error;
	// removed reports whether a file was actually deleted.
	Delete(ctx context.Context, filename string) (removed bool, err error)

	// List returns all stored files. Callers must not rely on the order.
	List(ctx context.Context) ([]Entry, error)
}
