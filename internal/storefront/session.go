// Package storefront drives one buyer's session: which cart is live, the
// guest to authenticated migration, the held discount and checkout.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"nexora/backend/internal/cart"
	"nexora/backend/internal/catalog"
	"nexora/backend/internal/domain"
	"nexora/backend/internal/pricing"
	"nexora/backend/internal/xid"
)

// Backend is everything the session consumes from the server. *client.Client
// implements it.
type Backend interface {
	cart.RemoteSource

	ListItems(ctx context.Context, filter catalog.Filter) (domain.ItemListResponse, error)
	CurrentIdentity(ctx context.Context) (*domain.Identity, error)
	Login(ctx context.Context, email string, password string) (domain.Identity, error)
	Register(ctx context.Context, name string, email string, password string) (domain.Identity, error)
	Logout(ctx context.Context) error

	MergeCart(ctx context.Context, entries []domain.CartEntry) ([]domain.Line, error)
	ValidateDiscount(ctx context.Context, code string) (domain.Discount, error)
	Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error)
}

type CheckoutPhase string

const (
	CheckoutIdle       CheckoutPhase = "idle"
	CheckoutSubmitting CheckoutPhase = "submitting"
	CheckoutSucceeded  CheckoutPhase = "success"
	CheckoutFailed     CheckoutPhase = "failed"
)

type CheckoutState struct {
	Phase   CheckoutPhase
	Receipt *domain.Receipt
	Err     error
}

type Session struct {
	backend Backend
	newKey  func() string

	// ops serializes cart round trips; mu guards the fields below it.
	ops sync.Mutex
	mu  sync.Mutex

	catalog  *catalog.Catalog
	brands   []string
	colors   []string
	identity *domain.Identity
	local    *cart.LocalCart
	remote   *cart.RemoteCart
	discount *domain.Discount
	mergeErr error
	checkout CheckoutState
	// pendingKey survives a failed checkout so an explicit retry cannot
	// produce a second receipt. Any cart change drops it.
	pendingKey string
}

// Open loads the catalog, restores the mirrored guest cart and picks up an
// identity the backend already holds. mirror may be nil.
func Open(ctx context.Context, backend Backend, mirror cart.Mirror) (*Session, error) {
	s := &Session{
		backend:  backend,
		newKey:   func() string { return xid.New("chk") },
		checkout: CheckoutState{Phase: CheckoutIdle},
	}
	if err := s.loadCatalog(ctx); err != nil {
		return nil, err
	}
	s.local = cart.NewLocal(s.catalog, mirror, cart.GuestSlot)
	if err := s.Restore(ctx); err != nil && !errors.Is(err, domain.ErrMergeFailed) {
		return nil, err
	}
	return s, nil
}

// Restore re-reads the guest mirror and the backend identity, then migrates
// like a fresh login would. A failed migration is reported through
// MergeFailed.
func (s *Session) Restore(ctx context.Context) error {
	s.ops.Lock()
	defer s.ops.Unlock()

	if err := s.local.Restore(ctx); err != nil {
		log.Printf("[storefront] WARN: guest cart not restored: %v", err)
	}

	identity, err := s.backend.CurrentIdentity(ctx)
	if err != nil {
		return fmt.Errorf("restore identity: %w", err)
	}
	if identity == nil {
		return nil
	}

	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
	return s.migrateLocked(ctx)
}

func (s *Session) loadCatalog(ctx context.Context) error {
	resp, err := s.backend.ListItems(ctx, catalog.Filter{})
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = catalog.New(resp.Items)
	s.brands = resp.Brands
	s.colors = resp.Colors
	return nil
}

func (s *Session) Items() []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.Items()
}

// Browse filters the loaded catalog without a round trip.
func (s *Session) Browse(filter catalog.Filter) []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.Filter(filter)
}

func (s *Session) Facets() (brands []string, colors []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.brands...), append([]string(nil), s.colors...)
}

func (s *Session) Identity() (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return domain.Identity{}, false
	}
	return *s.identity, true
}

// AddItem adds qty units of itemID to the live cart; qty 0 means one.
func (s *Session) AddItem(ctx context.Context, itemID int64, qty int) error {
	if qty == 0 {
		qty = 1
	}
	return s.mutate(func(c cart.Store) error { return c.AddItem(ctx, itemID, qty) })
}

func (s *Session) SetQuantity(ctx context.Context, lineID string, qty int) error {
	return s.mutate(func(c cart.Store) error { return c.SetQuantity(ctx, lineID, qty) })
}

func (s *Session) RemoveLine(ctx context.Context, lineID string) error {
	return s.mutate(func(c cart.Store) error { return c.RemoveLine(ctx, lineID) })
}

// Refresh reloads the server cart of an authenticated buyer. While a
// migration is pending it retries the migration instead.
func (s *Session) Refresh(ctx context.Context) error {
	s.ops.Lock()
	defer s.ops.Unlock()
	if _, ok := s.Identity(); !ok {
		return nil
	}
	if s.MergeFailed() {
		return s.migrateLocked(ctx)
	}
	return s.refreshRemoteLocked(ctx)
}

func (s *Session) Lines() []domain.Line {
	return s.activeCart().Snapshot()
}

func (s *Session) ItemCount() int {
	return domain.ItemCount(s.Lines())
}

// Pricing prices the live cart with the held discount.
func (s *Session) Pricing() pricing.Breakdown {
	lines := s.Lines()
	return pricing.Calculate(lines, s.Discount())
}

func (s *Session) Discount() *domain.Discount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discount == nil {
		return nil
	}
	d := *s.discount
	return &d
}

// ApplyDiscount replaces the held discount with code. A rejected code leaves
// the held discount untouched.
func (s *Session) ApplyDiscount(ctx context.Context, code string) (domain.Discount, error) {
	if err := s.ensureNotSubmitting(); err != nil {
		return domain.Discount{}, err
	}
	discount, err := s.backend.ValidateDiscount(ctx, code)
	if err != nil {
		return domain.Discount{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.discount = &discount
	return discount, nil
}

func (s *Session) RemoveDiscount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discount = nil
}

// Login authenticates and migrates the guest cart. When the migration fails
// the buyer stays signed in, the guest cart stays live and the returned error
// wraps domain.ErrMergeFailed; RetryMerge tries again.
func (s *Session) Login(ctx context.Context, email string, password string) error {
	return s.authenticate(ctx, func() (domain.Identity, error) {
		return s.backend.Login(ctx, strings.TrimSpace(email), password)
	})
}

func (s *Session) Register(ctx context.Context, name string, email string, password string) error {
	return s.authenticate(ctx, func() (domain.Identity, error) {
		return s.backend.Register(ctx, strings.TrimSpace(name), strings.TrimSpace(email), password)
	})
}

func (s *Session) authenticate(ctx context.Context, call func() (domain.Identity, error)) error {
	s.ops.Lock()
	defer s.ops.Unlock()

	if _, ok := s.Identity(); ok {
		return domain.ErrAlreadySignedIn
	}
	identity, err := call()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.identity = &identity
	s.mu.Unlock()
	return s.migrateLocked(ctx)
}

// MergeFailed reports whether the guest cart is still waiting to be merged.
func (s *Session) MergeFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeErr != nil
}

func (s *Session) MergeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeErr
}

func (s *Session) RetryMerge(ctx context.Context) error {
	s.ops.Lock()
	defer s.ops.Unlock()

	if _, ok := s.Identity(); !ok {
		return domain.ErrNotAuthenticated
	}
	if !s.MergeFailed() {
		return nil
	}
	return s.migrateLocked(ctx)
}

// migrateLocked folds the guest cart into the server cart in one call; with
// an empty guest cart it only loads the server cart. Until it succeeds the
// guest cart stays live and MergeFailed reports true. The guest cart and its
// mirror are dropped only after the server confirmed.
func (s *Session) migrateLocked(ctx context.Context) error {
	entries := s.local.Entries()
	var remote *cart.RemoteCart
	var err error
	if len(entries) == 0 {
		remote, err = s.fetchRemoteLocked(ctx)
	} else {
		var lines []domain.Line
		lines, err = s.backend.MergeCart(ctx, entries)
		if err == nil {
			remote = cart.NewRemote(s.backend)
			remote.Replace(lines)
		}
	}
	if err != nil {
		mergeErr := fmt.Errorf("%w: %w", domain.ErrMergeFailed, err)
		s.mu.Lock()
		s.mergeErr = mergeErr
		s.mu.Unlock()
		log.Printf("[storefront] WARN: guest cart migration failed entries=%d: %v", len(entries), err)
		return mergeErr
	}

	if len(entries) > 0 {
		if err := s.local.Clear(ctx); err != nil {
			log.Printf("[storefront] WARN: %v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = remote
	s.mergeErr = nil
	if len(entries) > 0 {
		s.pendingKey = ""
	}
	return nil
}

func (s *Session) fetchRemoteLocked(ctx context.Context) (*cart.RemoteCart, error) {
	s.mu.Lock()
	remote := s.remote
	s.mu.Unlock()
	if remote == nil {
		remote = cart.NewRemote(s.backend)
	}
	if err := remote.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("fetch cart: %w", err)
	}
	return remote, nil
}

func (s *Session) refreshRemoteLocked(ctx context.Context) error {
	remote, err := s.fetchRemoteLocked(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = remote
	return nil
}

// Logout signs out and starts a fresh guest cart. The server cart is kept
// for the next sign-in. Local state is reset even when the backend call fails.
// While a migration is pending Logout refuses with the merge error.
func (s *Session) Logout(ctx context.Context) error {
	return s.logout(ctx, false)
}

// ForceLogout signs out even when the guest cart was never merged, dropping
// it.
func (s *Session) ForceLogout(ctx context.Context) error {
	return s.logout(ctx, true)
}

func (s *Session) logout(ctx context.Context, discardGuest bool) error {
	if err := s.ensureNotSubmitting(); err != nil {
		return err
	}
	s.ops.Lock()
	defer s.ops.Unlock()

	if mergeErr := s.MergeError(); mergeErr != nil {
		if !discardGuest {
			return mergeErr
		}
		log.Printf("[storefront] WARN: logout dropped unmerged guest cart entries=%d", len(s.local.Entries()))
	}

	err := s.backend.Logout(ctx)
	if clearErr := s.local.Clear(ctx); clearErr != nil {
		log.Printf("[storefront] WARN: %v", clearErr)
	}

	s.mu.Lock()
	s.identity = nil
	s.remote = nil
	s.discount = nil
	s.mergeErr = nil
	s.pendingKey = ""
	s.checkout = CheckoutState{Phase: CheckoutIdle}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *Session) CheckoutState() CheckoutState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.checkout
	if state.Receipt != nil {
		receipt := domain.CloneReceipt(*state.Receipt)
		state.Receipt = &receipt
	}
	return state
}

// ResetCheckout returns a finished attempt to idle. A failed attempt keeps
// its idempotency key for the next Checkout.
func (s *Session) ResetCheckout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkout.Phase == CheckoutSubmitting {
		return
	}
	s.checkout = CheckoutState{Phase: CheckoutIdle}
}

// Checkout turns the server cart into a receipt. On success the live cart and
// the held discount are cleared together with the receipt becoming visible.
func (s *Session) Checkout(ctx context.Context, buyer domain.BuyerInfo) (domain.Receipt, error) {
	s.mu.Lock()
	switch {
	case s.checkout.Phase == CheckoutSubmitting:
		s.mu.Unlock()
		return domain.Receipt{}, domain.ErrCheckoutInProgress
	case s.identity == nil:
		s.mu.Unlock()
		return domain.Receipt{}, domain.ErrNotAuthenticated
	case s.mergeErr != nil:
		err := s.mergeErr
		s.mu.Unlock()
		return domain.Receipt{}, err
	}
	remote := s.remote
	if remote == nil || len(remote.Snapshot()) == 0 {
		s.mu.Unlock()
		return domain.Receipt{}, domain.ErrEmptyCart
	}
	if s.pendingKey == "" {
		s.pendingKey = s.newKey()
	}
	req := domain.CheckoutRequest{Buyer: buyer, IdempotencyKey: s.pendingKey}
	if s.discount != nil {
		req.DiscountCode = s.discount.Code
	}
	s.checkout = CheckoutState{Phase: CheckoutSubmitting}
	s.mu.Unlock()

	s.ops.Lock()
	defer s.ops.Unlock()

	resp, err := s.backend.Checkout(ctx, req)
	if err != nil {
		s.finishCheckout(ctx, remote, nil, false, err)
		return domain.Receipt{}, err
	}
	// A replayed receipt says nothing about what the server cart holds now.
	refreshed := false
	if resp.Duplicate {
		if err := remote.Refresh(ctx); err != nil {
			log.Printf("[storefront] WARN: cart refresh after replayed checkout failed: %v", err)
		} else {
			refreshed = true
		}
	}
	s.finishCheckout(ctx, remote, &resp.Receipt, refreshed, nil)
	return domain.CloneReceipt(resp.Receipt), nil
}

// finishCheckout publishes the outcome. The cart clear and the receipt land
// under the same lock.
func (s *Session) finishCheckout(ctx context.Context, remote *cart.RemoteCart, receipt *domain.Receipt, refreshed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.checkout = CheckoutState{Phase: CheckoutFailed, Err: err}
		return
	}
	if !refreshed {
		_ = remote.Clear(ctx)
	}
	saved := domain.CloneReceipt(*receipt)
	s.checkout = CheckoutState{Phase: CheckoutSucceeded, Receipt: &saved}
	s.discount = nil
	s.pendingKey = ""
}

func (s *Session) mutate(fn func(c cart.Store) error) error {
	if err := s.ensureNotSubmitting(); err != nil {
		return err
	}
	s.ops.Lock()
	defer s.ops.Unlock()
	if err := s.ensureNotSubmitting(); err != nil {
		return err
	}
	if err := fn(s.activeCart()); err != nil {
		return err
	}
	s.mu.Lock()
	s.pendingKey = ""
	s.mu.Unlock()
	return nil
}

func (s *Session) ensureNotSubmitting() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkout.Phase == CheckoutSubmitting {
		return domain.ErrCheckoutInProgress
	}
	return nil
}

// activeCart is the remote cart once migration succeeded, the guest cart
// otherwise.
func (s *Session) activeCart() cart.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil && s.remote != nil && s.mergeErr == nil {
		return s.remote
	}
	return s.local
}
