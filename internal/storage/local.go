package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// maxCreateAttempts bounds retries when a generated name already exists on disk,
// which only happens when another process writes to the same directory.
const maxCreateAttempts = 16

// LocalStorage keeps image files in one flat directory on the local filesystem.
type LocalStorage struct {
	dir   string
	names *NameGenerator
}

// NewLocalStorage creates a LocalStorage rooted at dir. The directory is created lazily
// on the first save.
func NewLocalStorage(dir string, names *NameGenerator) *LocalStorage {
	if names == nil {
		names = NewNameGenerator(nil)
	}
	return &LocalStorage{dir: dir, names: names}
}

// Dir returns the storage directory.
func (s *LocalStorage) Dir() string {
	return s.dir
}

func (s *LocalStorage) Save(ctx context.Context, originalName string, data io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir %s: %w", s.dir, err)
	}

	var (
		f    *os.File
		name string
		err  error
	)
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		name = s.names.Next(originalName)
		f, err = os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("storage: create %s: %w", name, err)
		}
		slog.Debug("storage: generated name already taken, retrying", "filename", name, "attempt", attempt)
	}
	if err != nil {
		return "", fmt.Errorf("storage: no free file name for %q: %w", originalName, err)
	}

	dest := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		s.removePartial(dest)
		return "", fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		s.removePartial(dest)
		return "", fmt.Errorf("storage: close %s: %w", name, err)
	}

	return name, nil
}

func (s *LocalStorage) removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("storage: failed to remove partially written file", "path", path, "error", err)
	}
}

func (s *LocalStorage) Delete(_ context.Context, filename string) (bool, error) {
	if err := ValidateFileName(filename); err != nil {
		return false, err
	}

	err := os.Remove(filepath.Join(s.dir, filename))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("storage: remove %s: %w", filename, err)
	}
}

func (s *LocalStorage) List(_ context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read dir %s: %w", s.dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			// removed between ReadDir and Info
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storage: stat %s: %w", de.Name(), err)
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}
