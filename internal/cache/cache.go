package cache

import (
	"context"
	"sync"
	"time"

	"nexora/backend/internal/domain"
)

// CartMirror persists a guest cart under a fixed slot key.
type CartMirror interface {
	Read(ctx context.Context, key string) ([]domain.Line, error)
	Write(ctx context.Context, key string, lines []domain.Line) error
	Erase(ctx context.Context, key string) error
}

// TokenDenylist records access tokens revoked before their expiry.
type TokenDenylist interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type MemoryCartMirror struct {
	mu    sync.RWMutex
	slots map[string][]domain.Line
}

func NewMemoryCartMirror() *MemoryCartMirror {
	return &MemoryCartMirror{slots: make(map[string][]domain.Line)}
}

func (m *MemoryCartMirror) Read(_ context.Context, key string) ([]domain.Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.CloneLines(m.slots[key]), nil
}

func (m *MemoryCartMirror) Write(_ context.Context, key string, lines []domain.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = domain.CloneLines(lines)
	return nil
}

func (m *MemoryCartMirror) Erase(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}

// Has reports whether key holds a slot. Erased and never-written slots
// report false.
func (m *MemoryCartMirror) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.slots[key]
	return ok
}

type MemoryTokenDenylist struct {
	mu      sync.Mutex
	now     func() time.Time
	revoked map[string]time.Time
}

func NewMemoryTokenDenylist() *MemoryTokenDenylist {
	return &MemoryTokenDenylist{now: time.Now, revoked: make(map[string]time.Time)}
}

func (d *MemoryTokenDenylist) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, until := range d.revoked {
		if !until.After(now) {
			delete(d.revoked, id)
		}
	}
	d.revoked[tokenID] = now.Add(ttl)
	return nil
}

func (d *MemoryTokenDenylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.revoked[tokenID]
	return ok && until.After(d.now()), nil
}
