package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"nexora/backend/internal/cart"
	"nexora/backend/internal/catalog"
	"nexora/backend/internal/domain"
	"nexora/backend/internal/pricing"
	"nexora/backend/internal/store"
)

type Store struct {
	mu                 sync.RWMutex
	items              []domain.Item
	itemsByID          map[int64]domain.Item
	discountCodes      map[string]domain.DiscountCode
	usersByID          map[string]domain.UserAccount
	userIDByEmail      map[string]string
	cartsByUser        map[string][]domain.Line
	receiptsByID       map[string]domain.Receipt
	receiptIDsByUser   map[string][]string
	receiptIDByIdemKey map[string]string
	auditLogs          []domain.AuditLog
}

// seedUsers builds the demo account for dev mode. The password is read from
// SEED_DEMO_PASSWORD; if unset a hardcoded dev default is used with a
// warning. The memory store is never used when DATABASE_URL is set.
func seedUsers() []domain.UserAccount {
	password := envOr("SEED_DEMO_PASSWORD", "password123")
	if os.Getenv("SEED_DEMO_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_DEMO_PASSWORD to override.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	return []domain.UserAccount{{
		ID:        "usr-demo",
		Name:      "Cyber Runner",
		Email:     "runner@nexora.dev",
		Password:  string(hash),
		CreatedAt: time.Now().UTC(),
	}}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	items := catalog.ReferenceItems()
	s := &Store{
		items:              items,
		itemsByID:          make(map[int64]domain.Item, len(items)),
		discountCodes:      make(map[string]domain.DiscountCode),
		usersByID:          make(map[string]domain.UserAccount),
		userIDByEmail:      make(map[string]string),
		cartsByUser:        make(map[string][]domain.Line),
		receiptsByID:       make(map[string]domain.Receipt),
		receiptIDsByUser:   make(map[string][]string),
		receiptIDByIdemKey: make(map[string]string),
		auditLogs:          make([]domain.AuditLog, 0, 64),
	}
	for _, item := range items {
		s.itemsByID[item.ID] = item
	}
	for _, code := range pricing.ReferenceCodes() {
		s.discountCodes[code.Code] = code
	}
	for _, user := range seedUsers() {
		s.usersByID[user.ID] = user
		s.userIDByEmail[normalizeEmail(user.Email)] = user.ID
	}
	return s
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items), nil
}

func (s *Store) GetItemsByIDs(_ context.Context, ids []int64) (map[int64]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Item, len(ids))
	for _, id := range ids {
		if item, ok := s.itemsByID[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) FindDiscountCode(_ context.Context, code string) (*domain.DiscountCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found, ok := s.discountCodes[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &found, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(user.Email)
	if user.ID == "" || email == "" || user.Password == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.userIDByEmail[email]; exists {
		return store.ErrConflict
	}
	if _, exists := s.usersByID[user.ID]; exists {
		return store.ErrConflict
	}
	s.usersByID[user.ID] = user
	s.userIDByEmail[email] = user.ID
	return nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userIDByEmail[normalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	user := s.usersByID[id]
	return &user, nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, userID string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByID[userID] = user
	return nil
}

func (s *Store) GetCart(_ context.Context, userID string) ([]domain.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneLines(s.cartsByUser[userID]), nil
}

func (s *Store) AddCartItem(_ context.Context, userID string, item domain.Item, qty int) ([]domain.Line, error) {
	if qty < 1 {
		return nil, store.ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.itemsByID[item.ID]; !ok {
		return nil, domain.ErrItemNotFound
	}
	lines, err := cart.AddQuantity(s.cartsByUser[userID], item, qty, cart.NewLineID)
	if err != nil {
		return nil, err
	}
	return s.replaceCartLocked(userID, lines), nil
}

func (s *Store) SetCartLineQuantity(_ context.Context, userID string, lineID string, qty int) ([]domain.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, err := cart.SetQuantity(s.cartsByUser[userID], lineID, qty)
	if err != nil {
		return nil, err
	}
	return s.replaceCartLocked(userID, lines), nil
}

func (s *Store) RemoveCartLine(_ context.Context, userID string, lineID string) ([]domain.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceCartLocked(userID, cart.Remove(s.cartsByUser[userID], lineID)), nil
}

// MergeCart validates every entry before touching the cart, so a rejected
// merge leaves it exactly as it was.
func (s *Store) MergeCart(_ context.Context, userID string, entries []domain.CartEntry) ([]domain.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := make([]domain.CartEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		item, ok := s.itemsByID[entry.Item.ID]
		if !ok {
			return nil, domain.ErrItemNotFound
		}
		resolved = append(resolved, domain.CartEntry{Item: item, Quantity: entry.Quantity})
	}
	return s.replaceCartLocked(userID, cart.Merge(s.cartsByUser[userID], resolved, cart.NewLineID)), nil
}

func (s *Store) Checkout(_ context.Context, userID string, build store.ReceiptBuilder) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, err := build(domain.CloneLines(s.cartsByUser[userID]))
	if err != nil {
		return nil, err
	}
	if receipt.ID == "" {
		return nil, store.ErrInvalidRequest
	}
	idemKey := idempotencyKey(userID, receipt.IdempotencyKey)
	if receipt.IdempotencyKey != "" {
		if _, exists := s.receiptIDByIdemKey[idemKey]; exists {
			return nil, store.ErrConflict
		}
	}

	receipt.UserID = userID
	s.receiptsByID[receipt.ID] = domain.CloneReceipt(receipt)
	s.receiptIDsByUser[userID] = append(s.receiptIDsByUser[userID], receipt.ID)
	if receipt.IdempotencyKey != "" {
		s.receiptIDByIdemKey[idemKey] = receipt.ID
	}
	delete(s.cartsByUser, userID)

	saved := domain.CloneReceipt(receipt)
	return &saved, nil
}

func (s *Store) FindReceiptByIdempotency(_ context.Context, userID string, key string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.receiptIDByIdemKey[idempotencyKey(userID, key)]
	if !ok || key == "" {
		return nil, store.ErrNotFound
	}
	receipt := domain.CloneReceipt(s.receiptsByID[id])
	return &receipt, nil
}

func (s *Store) FindReceiptByID(_ context.Context, userID string, id string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receiptsByID[id]
	if !ok || receipt.UserID != userID {
		return nil, store.ErrNotFound
	}
	found := domain.CloneReceipt(receipt)
	return &found, nil
}

func (s *Store) ListReceipts(_ context.Context, userID string, limit int) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.receiptIDsByUser[userID]
	result := make([]domain.Receipt, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, domain.CloneReceipt(s.receiptsByID[ids[i]]))
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) replaceCartLocked(userID string, lines []domain.Line) []domain.Line {
	if len(lines) == 0 {
		delete(s.cartsByUser, userID)
		return []domain.Line{}
	}
	s.cartsByUser[userID] = lines
	return domain.CloneLines(lines)
}

func idempotencyKey(userID string, key string) string {
	return userID + "|" + key
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
