// Package lease provides time-bounded exclusive claims used to keep two
// synchronizations of the same feed from running at once.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lease already held")

// Locker hands out leases by key.
type Locker interface {
	// TryAcquire claims key for ttl without waiting. It returns ErrHeld when
	// the key is owned by someone else.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

// Lease is a claim on a key. Release is safe to call more than once.
type Lease struct {
	Key   string
	Token string

	once    sync.Once
	release func()
}

// Release gives the key back. A lease that already expired and was taken
// by another holder is left alone.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(l.release)
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker keeps leases in process memory.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// TryAcquire implements Locker.
func (m *MemoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		return nil, ErrHeld
	}

	token := uuid.NewString()
	m.entries[key] = memoryEntry{token: token, expires: now.Add(ttl)}

	return &Lease{
		Key:   key,
		Token: token,
		release: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if e, ok := m.entries[key]; ok && e.token == token {
				delete(m.entries, key)
			}
		},
	}, nil
}

// Held reports whether key is currently claimed.
func (m *MemoryLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return ok && m.now().Before(e.expires)
}
