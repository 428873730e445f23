package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	PriceCents         int64   `json:"price_cents"`
	OriginalPriceCents int64   `json:"original_price_cents,omitempty"`
	ImageURL           string  `json:"image_url,omitempty"`
	Rating             float64 `json:"rating"`
	Brand              string  `json:"brand"`
	Color              string  `json:"color"`
}

// Line is one cart entry. Item is held by value so a snapshot never changes
// when the catalog does.
type Line struct {
	ID       string `json:"id"`
	Item     Item   `json:"item"`
	Quantity int    `json:"quantity"`
}

// CartEntry is a line without an identifier, used when moving a guest cart
// into a server-backed one.
type CartEntry struct {
	Item     Item `json:"item"`
	Quantity int  `json:"quantity"`
}

type Discount struct {
	Code string          `json:"code"`
	Rate decimal.Decimal `json:"rate"`
}

type DiscountCode struct {
	Code   string
	Rate   decimal.Decimal
	Active bool
}

type BuyerInfo struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,shopemail"`
}

type ReceiptDiscount struct {
	Code        string `json:"code"`
	AmountCents int64  `json:"amount_cents"`
}

type Receipt struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Lines          []Line           `json:"items"`
	SubtotalCents  int64            `json:"subtotal_cents"`
	Discount       *ReceiptDiscount `json:"discount,omitempty"`
	TotalCents     int64            `json:"total_cents"`
	Buyer          BuyerInfo        `json:"user_info"`
	CheckedOutAt   time.Time        `json:"checkout_date"`
	IdempotencyKey string           `json:"-"`
}

type Identity struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Name      string
	Email     string
	Password  string
	CreatedAt time.Time
}

func (u UserAccount) Identity() Identity {
	return Identity{UserID: u.ID, Name: u.Name, Email: u.Email}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,shopemail"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type AuthResponse struct {
	AccessToken string   `json:"access_token"`
	ExpiresAt   string   `json:"expires_at"`
	User        Identity `json:"user"`
}

type ItemListResponse struct {
	Items  []Item   `json:"items"`
	Brands []string `json:"brands"`
	Colors []string `json:"colors"`
}

type AddToCartRequest struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type MergeCartRequest struct {
	Entries []CartEntry `json:"entries"`
}

type CartResponse struct {
	Lines     []Line `json:"items"`
	ItemCount int    `json:"item_count"`
}

type DiscountValidateRequest struct {
	Code string `json:"code"`
}

type DiscountValidateResponse struct {
	Discount Discount `json:"discount"`
}

type CheckoutRequest struct {
	Buyer          BuyerInfo `json:"buyer"`
	DiscountCode   string    `json:"discount_code,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
}

type CheckoutResponse struct {
	Receipt   Receipt `json:"receipt"`
	Duplicate bool    `json:"duplicate"`
}

type ReceiptListResponse struct {
	Receipts []Receipt `json:"receipts"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// CloneLines returns a deep copy; Line holds no pointers so a slice copy
// is enough.
func CloneLines(lines []Line) []Line {
	if lines == nil {
		return []Line{}
	}
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}

func ItemCount(lines []Line) int {
	count := 0
	for _, line := range lines {
		count += line.Quantity
	}
	return count
}

func CloneReceipt(src Receipt) Receipt {
	dst := src
	dst.Lines = CloneLines(src.Lines)
	if src.Discount != nil {
		d := *src.Discount
		dst.Discount = &d
	}
	return dst
}
