package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperr "github.com/tappedai/event-crawler/internal/errors"
)

// Locker grants exclusive, expiring leases on keys.
// Acquire returns apperr.ErrLeaseHeld when another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lease. Extend pushes the expiry to ttl from now and
// returns apperr.ErrLeaseLost once the lease has passed to another holder
// or expired. Release drops the lease if it is still ours.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// LeaseKey is the lease key guarding a target's runs.
func LeaseKey(scraperID string) string {
	return "crawl:" + scraperID
}

// MemoryLocker is a Locker for a single process.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	token   uint64
	expires time.Time
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryLease), now: time.Now}
}

var leaseTokens atomic.Uint64

// Acquire implements Locker.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, ok := m.leases[key]; ok && now.Before(held.expires) {
		return nil, apperr.ErrLeaseHeld
	}

	token := leaseTokens.Add(1)
	m.leases[key] = memoryLease{token: token, expires: now.Add(ttl)}
	return &heldMemoryLease{locker: m, key: key, token: token}, nil
}

type heldMemoryLease struct {
	locker *MemoryLocker
	key    string
	token  uint64
}

func (l *heldMemoryLease) Extend(ctx context.Context, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	held, ok := m.leases[l.key]
	if !ok || held.token != l.token || !now.Before(held.expires) {
		return apperr.ErrLeaseLost
	}
	held.expires = now.Add(ttl)
	m.leases[l.key] = held
	return nil
}

func (l *heldMemoryLease) Release(context.Context) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only the holder that set the lease may drop it.
	if held, ok := m.leases[l.key]; ok && held.token == l.token {
		delete(m.leases, l.key)
	}
	return nil
}
