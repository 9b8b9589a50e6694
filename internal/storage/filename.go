package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const fallbackOriginalName = "upload"

// NameGenerator creates "<millis>-<original>" file names. The millisecond part is
// strictly increasing per generator, so two calls never yield the same name.
type NameGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func NewNameGenerator(now func() time.Time) *NameGenerator {
	if now == nil {
		now = time.Now
	}
	return &NameGenerator{now: now}
}

// Next returns a new unique name for the given client supplied file name.
func (g *NameGenerator) Next(originalName string) string {
	g.mu.Lock()
	millis := g.now().UnixMilli()
	if millis <= g.last {
		millis = g.last + 1
	}
	g.last = millis
	g.mu.Unlock()

	return fmt.Sprintf("%d-%s", millis, SanitizeOriginalName(originalName))
}

// SanitizeOriginalName reduces a client supplied name to a plain base name.
func SanitizeOriginalName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.TrimSpace(path.Base(name))
	if name == "" || name == "." || name == ".." || name == "/" {
		return fallbackOriginalName
	}
	return name
}

// ValidateFileName reports ErrInvalidFileName unless name is a plain file name
// that stays inside the storage directory.
func ValidateFileName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFileName, name)
	case filepath.Base(name) != name:
		return fmt.Errorf("%w: %q is not a base name", ErrInvalidFileName, name)
	}
	return nil
}
