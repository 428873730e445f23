package store

import (
	"context"
	"errors"

	"nexora/backend/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrConflict       = errors.New("conflict")
)

// ReceiptBuilder turns the locked cart lines into a receipt. It runs inside
// the checkout transaction; returning an error aborts the checkout and leaves
// the cart untouched.
type ReceiptBuilder func(lines []domain.Line) (domain.Receipt, error)

// Every cart mutation returns the authoritative post-mutation line list in
// insertion order.
type Repository interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	GetItemsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Item, error)
	FindDiscountCode(ctx context.Context, code string) (*domain.DiscountCode, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	FindUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	FindUserByID(ctx context.Context, id string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, userID string, password string) error

	GetCart(ctx context.Context, userID string) ([]domain.Line, error)
	AddCartItem(ctx context.Context, userID string, item domain.Item, qty int) ([]domain.Line, error)
	SetCartLineQuantity(ctx context.Context, userID string, lineID string, qty int) ([]domain.Line, error)
	RemoveCartLine(ctx context.Context, userID string, lineID string) ([]domain.Line, error)
	MergeCart(ctx context.Context, userID string, entries []domain.CartEntry) ([]domain.Line, error)

	Checkout(ctx context.Context, userID string, build ReceiptBuilder) (*domain.Receipt, error)
	FindReceiptByIdempotency(ctx context.Context, userID string, key string) (*domain.Receipt, error)
	FindReceiptByID(ctx context.Context, userID string, id string) (*domain.Receipt, error)
	ListReceipts(ctx context.Context, userID string, limit int) ([]domain.Receipt, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}
