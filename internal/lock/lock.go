package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	TypeNone   = "none"
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// Locker serializes work on a single key, e.g. the removal of one file name.
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned function releases the lock.
	Lock(ctx context.Context, key string) (unlock func(), err error)
	Close() error
}

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

type Config struct {
	Type  string
	Redis RedisConfig
}

// NewLocker creates the locker configured by cfg.Type.
func NewLocker(cfg Config) (Locker, error) {
	var (
		locker Locker
		err    error
	)
	switch cfg.Type {
	case TypeNone:
		locker = NoopLocker{}
	case "", TypeMemory:
		locker = NewMemoryLocker()
	case TypeRedis:
		locker, err = NewRedisLocker(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis locker: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported lock type: %s", cfg.Type)
	}

	slog.Info("locker initialized", "type", cfg.Type)
	return locker, nil
}

// NoopLocker never blocks. Concurrent callers run unsynchronized.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

func (NoopLocker) Close() error { return nil }
