// Package cart implements the buyer's cart behind one mutation contract with
// two backings: LocalCart for guests and RemoteCart for authenticated buyers.
package cart

import (
	"context"
	"fmt"
	"log"
	"sync"

	"nexora/backend/internal/domain"
	"nexora/backend/internal/store"
	"nexora/backend/internal/xid"
)

// GuestSlot is the well-known mirror key of the device-local cart.
const GuestSlot = "nexora_anon_cart"

type Store interface {
	AddItem(ctx context.Context, itemID int64, qty int) error
	SetQuantity(ctx context.Context, lineID string, qty int) error
	RemoveLine(ctx context.Context, lineID string) error
	// Snapshot returns a copy; later mutations are never visible through it.
	Snapshot() []domain.Line
	Clear(ctx context.Context) error
}

type ItemLookup interface {
	Lookup(id int64) (domain.Item, bool)
}

// Mirror is a durable key-value slot holding a guest cart across reloads.
type Mirror interface {
	Read(ctx context.Context, key string) ([]domain.Line, error)
	Write(ctx context.Context, key string, lines []domain.Line) error
	Erase(ctx context.Context, key string) error
}

func NewLineID() string {
	return xid.New("line")
}

type LocalCart struct {
	mu     sync.Mutex
	items  ItemLookup
	mirror Mirror
	key    string
	lines  []domain.Line
}

// NewLocal builds an empty guest cart. mirror may be nil.
func NewLocal(items ItemLookup, mirror Mirror, key string) *LocalCart {
	if key == "" {
		key = GuestSlot
	}
	return &LocalCart{items: items, mirror: mirror, key: key, lines: []domain.Line{}}
}

// Restore replaces the in-process lines with the mirrored ones.
func (c *LocalCart) Restore(ctx context.Context) error {
	if c.mirror == nil {
		return nil
	}
	saved, err := c.mirror.Read(ctx, c.key)
	if err != nil {
		return fmt.Errorf("read guest cart mirror: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-keying through Merge drops zero quantities and folds duplicate items
	// that a hand-edited or stale mirror may contain.
	c.lines = Merge(nil, Entries(saved), NewLineID)
	return nil
}

func (c *LocalCart) AddItem(ctx context.Context, itemID int64, qty int) error {
	return c.mutate(ctx, func() error {
		if qty < 1 {
			return store.ErrInvalidRequest
		}
		item, ok := c.items.Lookup(itemID)
		if !ok {
			return fmt.Errorf("%w: id %d", domain.ErrItemNotFound, itemID)
		}
		lines, err := AddQuantity(c.lines, item, qty, NewLineID)
		if err != nil {
			return err
		}
		c.lines = lines
		return nil
	})
}

func (c *LocalCart) SetQuantity(ctx context.Context, lineID string, qty int) error {
	return c.mutate(ctx, func() error {
		lines, err := SetQuantity(c.lines, lineID, qty)
		if err != nil {
			return err
		}
		c.lines = lines
		return nil
	})
}

func (c *LocalCart) RemoveLine(ctx context.Context, lineID string) error {
	return c.mutate(ctx, func() error {
		c.lines = Remove(c.lines, lineID)
		return nil
	})
}

func (c *LocalCart) Snapshot() []domain.Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CloneLines(c.lines)
}

func (c *LocalCart) Entries() []domain.CartEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Entries(c.lines)
}

// Clear empties the cart and erases its mirror slot.
func (c *LocalCart) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = []domain.Line{}
	if c.mirror == nil {
		return nil
	}
	if err := c.mirror.Erase(ctx, c.key); err != nil {
		return fmt.Errorf("erase guest cart mirror: %w", err)
	}
	return nil
}

// mutate applies fn under the lock and mirrors the resulting lines on every
// exit path, including a failed fn.
func (c *LocalCart) mutate(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.persistLocked(ctx)
	return fn()
}

func (c *LocalCart) persistLocked(ctx context.Context) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.Write(ctx, c.key, c.lines); err != nil {
		log.Printf("[cart] WARN: failed to mirror guest cart key=%s: %v", c.key, err)
	}
}

// RemoteSource is the server-backed cart. Every call returns the
// authoritative full line list after the operation.
type RemoteSource interface {
	FetchCart(ctx context.Context) ([]domain.Line, error)
	AddToCart(ctx context.Context, itemID int64, qty int) ([]domain.Line, error)
	UpdateQuantity(ctx context.Context, lineID string, qty int) ([]domain.Line, error)
	RemoveLine(ctx context.Context, lineID string) ([]domain.Line, error)
}

// RemoteCart caches the last authoritative list. A failed call leaves the
// cache at its last-known-good value.
type RemoteCart struct {
	mu    sync.Mutex
	src   RemoteSource
	lines []domain.Line
}

func NewRemote(src RemoteSource) *RemoteCart {
	return &RemoteCart{src: src, lines: []domain.Line{}}
}

func (c *RemoteCart) Refresh(ctx context.Context) error {
	return c.apply(func() ([]domain.Line, error) { return c.src.FetchCart(ctx) })
}

func (c *RemoteCart) AddItem(ctx context.Context, itemID int64, qty int) error {
	if qty < 1 {
		return store.ErrInvalidRequest
	}
	return c.apply(func() ([]domain.Line, error) { return c.src.AddToCart(ctx, itemID, qty) })
}

func (c *RemoteCart) SetQuantity(ctx context.Context, lineID string, qty int) error {
	return c.apply(func() ([]domain.Line, error) { return c.src.UpdateQuantity(ctx, lineID, qty) })
}

func (c *RemoteCart) RemoveLine(ctx context.Context, lineID string) error {
	return c.apply(func() ([]domain.Line, error) { return c.src.RemoveLine(ctx, lineID) })
}

func (c *RemoteCart) Snapshot() []domain.Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CloneLines(c.lines)
}

// Replace installs an authoritative list obtained elsewhere, e.g. from a merge.
func (c *RemoteCart) Replace(lines []domain.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = domain.CloneLines(lines)
}

// Clear drops the cached view only. The server cart is emptied by checkout
// itself, and logging out must not touch it.
func (c *RemoteCart) Clear(_ context.Context) error {
	c.Replace(nil)
	return nil
}

func (c *RemoteCart) apply(call func() ([]domain.Line, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, err := call()
	if err != nil {
		return err
	}
	c.lines = domain.CloneLines(lines)
	return nil
}
