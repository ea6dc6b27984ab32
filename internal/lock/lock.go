// Package lock provides named, expiring run leases so a sync pass cannot run
// twice at the same time.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned when another holder owns the lease
var ErrLocked = errors.New("lease is held by another run")

// ErrLeaseLost is returned by Extend once the lease expired or was taken over
var ErrLeaseLost = errors.New("lease is no longer held")

// Locker hands out named leases
type Locker interface {
	// Acquire takes the lease for name or fails fast with ErrLocked
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock; releasing an expired or stolen lease is a no-op
type Lease interface {
	// Extend pushes the expiry ttl into the future while the lease is still ours
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// MemoryLocker keeps leases in process memory
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryLease), now: time.Now}
}

// Acquire implements Locker
func (l *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[name]; ok && now.Before(held.expires) {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	l.leases[name] = memoryLease{token: token, expires: now.Add(ttl)}
	return &memoryHandle{locker: l, name: name, token: token}, nil
}

type memoryHandle struct {
	locker *MemoryLocker
	name   string
	token  string
}

func (h *memoryHandle) Extend(_ context.Context, ttl time.Duration) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	now := h.locker.now()
	held, ok := h.locker.leases[h.name]
	if !ok || held.token != h.token || !now.Before(held.expires) {
		return ErrLeaseLost
	}
	h.locker.leases[h.name] = memoryLease{token: h.token, expires: now.Add(ttl)}
	return nil
}

func (h *memoryHandle) Release(context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	if held, ok := h.locker.leases[h.name]; ok && held.token == h.token {
		delete(h.locker.leases, h.name)
	}
	return nil
}

var _ Locker = (*MemoryLocker)(nil)
