package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is an in-process Locker for tests and single-worker
// deployments; it does not enforce TTL expiry, since tests run and
// release within one process lifetime.
type MemoryLocker struct {
	mu      sync.Mutex
	held    map[string]bool
}

// NewMemoryLocker builds an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]bool{}}
}

type memoryHandle struct {
	locker *MemoryLocker
	name   string
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return nil, ErrAlreadyHeld
	}
	l.held[name] = true

	return &memoryHandle{locker: l, name: name}, nil
}

// Release implements Handle.
func (h *memoryHandle) Release(ctx context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	delete(h.locker.held, h.name)
	return nil
}
