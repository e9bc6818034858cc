package lease

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/booking-manager/backend/internal/logger"
)

func TestMemoryLockerExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	first, err := l.TryAcquire(ctx, "feed-1", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := l.TryAcquire(ctx, "feed-1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire: %v, want ErrHeld", err)
	}
	if _, err := l.TryAcquire(ctx, "feed-2", time.Minute); err != nil {
		t.Fatalf("other key: %v", err)
	}

	first.Release()
	first.Release()

	if l.Held("feed-1") {
		t.Fatal("feed-1 still held after release")
	}
	if _, err := l.TryAcquire(ctx, "feed-1", time.Minute); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	stale, err := l.TryAcquire(ctx, "feed", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	fresh, err := l.TryAcquire(ctx, "feed", time.Minute)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}

	// The expired holder must not release the new holder's claim.
	stale.Release()
	if !l.Held("feed") {
		t.Fatal("stale release dropped the fresh lease")
	}
	fresh.Release()
}

func TestMemoryLockerConcurrent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryAcquire(ctx, "feed", time.Minute); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx := context.Background()
	log := logger.New("error", false)
	client, err := Connect(ctx, ConnectOptions{Addr: addr, ConnectTimeout: 5 * time.Second}, log)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	l := NewRedisLocker(client, "test:lease:", log)
	key := "feed-" + time.Now().Format("150405.000000")

	held, err := l.TryAcquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.TryAcquire(ctx, key, time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire: %v", err)
	}
	held.Release()
	again, err := l.TryAcquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again.Release()
}
