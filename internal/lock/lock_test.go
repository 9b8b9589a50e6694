package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := NewRedisLocker(RedisConfig{
		Address:   mr.Addr(),
		KeyPrefix: "test:lock:",
		TTL:       time.Second,
	})
	if err != nil {
		t.Fatalf("NewRedisLocker error: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

// assertMutualExclusion runs concurrent critical sections on one key and fails
// if two of them overlap.
func assertMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	const workers = 8
	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "same-key")
			if err != nil {
				t.Errorf("Lock error: %v", err)
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatal("critical sections overlapped")
	}
}

func TestNewLocker(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default is memory", cfg: Config{}},
		{name: "memory", cfg: Config{Type: TypeMemory}},
		{name: "none", cfg: Config{Type: TypeNone}},
		{name: "unknown", cfg: Config{Type: "zookeeper"}, wantErr: true},
		{name: "unreachable redis", cfg: Config{Type: TypeRedis, Redis: RedisConfig{Address: "127.0.0.1:1"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLocker(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLocker error: %v", err)
			}
			_ = l.Close()
		})
	}
}

func TestNewLocker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := NewLocker(Config{Type: TypeRedis, Redis: RedisConfig{Address: mr.Addr()}})
	if err != nil {
		t.Fatalf("NewLocker error: %v", err)
	}
	defer func() { _ = l.Close() }()
	if _, ok := l.(*RedisLocker); !ok {
		t.Fatalf("expected *RedisLocker, got %T", l)
	}
}

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	assertMutualExclusion(t, NewMemoryLocker())
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock(a) error: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) should not wait for a: %v", err)
	}
	unlockB()
}

func TestMemoryLocker_ContextCancelled(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	unlock()
	if got := l.size(); got != 0 {
		t.Errorf("expected idle keys to be dropped, %d remain", got)
	}
}

func TestMemoryLocker_UnlockTwiceIsSafe(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	unlock()
	unlock()

	unlock2, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("relock error: %v", err)
	}
	unlock2()
}

func TestNoopLocker_NeverBlocks(t *testing.T) {
	var l NoopLocker
	u1, _ := l.Lock(context.Background(), "k")
	u2, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	u1()
	u2()
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	l, _ := newTestRedisLocker(t)
	assertMutualExclusion(t, l)
}

func TestRedisLocker_KeyIsPrefixedAndReleased(t *testing.T) {
	l, mr := newTestRedisLocker(t)

	unlock, err := l.Lock(context.Background(), "1700000000000-cat.png")
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	if !mr.Exists("test:lock:1700000000000-cat.png") {
		t.Fatal("expected prefixed lock key in redis")
	}

	unlock()
	if mr.Exists("test:lock:1700000000000-cat.png") {
		t.Fatal("expected lock key to be removed after unlock")
	}
}

func TestRedisLocker_ReleaseDoesNotDropForeignLock(t *testing.T) {
	l, mr := newTestRedisLocker(t)

	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	// Lock expired and another instance took over.
	mr.FastForward(2 * time.Second)
	if err := mr.Set("test:lock:k", "someone-else"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	unlock()
	got, err := mr.Get("test:lock:k")
	if err != nil {
		t.Fatalf("expected foreign lock to survive: %v", err)
	}
	if got != "someone-else" {
		t.Fatalf("foreign lock value = %q, want %q", got, "someone-else")
	}
}

func TestRedisLocker_ContextCancelledWhileWaiting(t *testing.T) {
	l, _ := newTestRedisLocker(t)

	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
