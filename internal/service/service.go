package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"nexora/backend/internal/catalog"
	"nexora/backend/internal/domain"
	"nexora/backend/internal/pricing"
	"nexora/backend/internal/store"
	"nexora/backend/internal/xid"
)

type identityContextKey struct{}

func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(domain.Identity)
	return identity, ok && identity.UserID != ""
}

const defaultReceiptLimit = 20

type Service struct {
	repo      store.Repository
	discounts *pricing.Evaluator
	now       func() time.Time
}

func New(repo store.Repository) *Service {
	return &Service{
		repo:      repo,
		discounts: pricing.NewEvaluator(repo),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ListItems returns the filtered catalog. Facets always describe the full
// catalog so the filter controls do not shrink as the buyer narrows.
func (s *Service) ListItems(ctx context.Context, filter catalog.Filter) (domain.ItemListResponse, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return domain.ItemListResponse{}, err
	}
	brands, colors := catalog.Facets(items)
	return domain.ItemListResponse{
		Items:  catalog.Apply(items, filter),
		Brands: brands,
		Colors: colors,
	}, nil
}

func (s *Service) GetCart(ctx context.Context) (domain.CartResponse, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}
	lines, err := s.repo.GetCart(ctx, identity.UserID)
	if err != nil {
		return domain.CartResponse{}, err
	}
	return toCartResponse(lines), nil
}

func (s *Service) AddToCart(ctx context.Context, req domain.AddToCartRequest) (domain.CartResponse, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 1 {
		return domain.CartResponse{}, store.ErrInvalidRequest
	}
	if req.Quantity > domain.MaxLineQuantity {
		return domain.CartResponse{}, domain.ErrQuantityLimit
	}

	items, err := s.repo.GetItemsByIDs(ctx, []int64{req.ItemID})
	if err != nil {
		return domain.CartResponse{}, err
	}
	item, ok := items[req.ItemID]
	if !ok {
		return domain.CartResponse{}, fmt.Errorf("%w: id %d", domain.ErrItemNotFound, req.ItemID)
	}

	lines, err := s.repo.AddCartItem(ctx, identity.UserID, item, req.Quantity)
	if err != nil {
		return domain.CartResponse{}, err
	}
	return toCartResponse(lines), nil
}

func (s *Service) UpdateQuantity(ctx context.Context, lineID string, req domain.UpdateQuantityRequest) (domain.CartResponse, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return domain.CartResponse{}, store.ErrInvalidRequest
	}
	if req.Quantity > domain.MaxLineQuantity {
		return domain.CartResponse{}, domain.ErrQuantityLimit
	}

	lines, err := s.repo.SetCartLineQuantity(ctx, identity.UserID, lineID, req.Quantity)
	if err != nil {
		return domain.CartResponse{}, err
	}
	return toCartResponse(lines), nil
}

func (s *Service) RemoveLine(ctx context.Context, lineID string) (domain.CartResponse, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return domain.CartResponse{}, store.ErrInvalidRequest
	}

	lines, err := s.repo.RemoveCartLine(ctx, identity.UserID, lineID)
	if err != nil {
		return domain.CartResponse{}, err
	}
	return toCartResponse(lines), nil
}

// MergeCart folds a guest cart into the buyer's server cart. Items are
// re-resolved from the catalog so client-supplied prices are never trusted.
// Either every entry is applied or none is.
func (s *Service) MergeCart(ctx context.Context, req domain.MergeCartRequest) (domain.CartResponse, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}

	normalized := normalizeEntries(req.Entries)
	if len(normalized) == 0 {
		return s.GetCart(ctx)
	}

	ids := make([]int64, 0, len(normalized))
	for _, entry := range normalized {
		ids = append(ids, entry.Item.ID)
	}
	items, err := s.repo.GetItemsByIDs(ctx, ids)
	if err != nil {
		return domain.CartResponse{}, err
	}
	for i, entry := range normalized {
		item, ok := items[entry.Item.ID]
		if !ok {
			return domain.CartResponse{}, fmt.Errorf("%w: id %d", domain.ErrItemNotFound, entry.Item.ID)
		}
		normalized[i].Item = item
	}

	lines, err := s.repo.MergeCart(ctx, identity.UserID, normalized)
	if err != nil {
		return domain.CartResponse{}, err
	}

	s.logAudit(ctx, "cart_merge", "cart", identity.UserID, fmt.Sprintf("entries=%d,items=%d", len(normalized), domain.ItemCount(lines)))
	return toCartResponse(lines), nil
}

func (s *Service) ValidateDiscount(ctx context.Context, req domain.DiscountValidateRequest) (domain.DiscountValidateResponse, error) {
	discount, err := s.discounts.Evaluate(ctx, req.Code)
	if err != nil {
		return domain.DiscountValidateResponse{}, err
	}
	return domain.DiscountValidateResponse{Discount: discount}, nil
}

// Checkout prices the buyer's server cart and turns it into a receipt. The
// receipt insert and the cart clear happen in one repository step. A request
// repeating an idempotency key returns the receipt it already produced.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	buyer, err := normalizeBuyer(req.Buyer)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}

	if existing, err := s.repo.FindReceiptByIdempotency(ctx, identity.UserID, req.IdempotencyKey); err == nil {
		return domain.CheckoutResponse{Receipt: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CheckoutResponse{}, err
	}

	var discount *domain.Discount
	if strings.TrimSpace(req.DiscountCode) != "" {
		evaluated, err := s.discounts.Evaluate(ctx, req.DiscountCode)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		discount = &evaluated
	}

	created, err := s.repo.Checkout(ctx, identity.UserID, func(lines []domain.Line) (domain.Receipt, error) {
		if len(lines) == 0 {
			return domain.Receipt{}, domain.ErrEmptyCart
		}
		breakdown := pricing.Calculate(lines, discount)
		return domain.Receipt{
			ID:             xid.New("NXR"),
			UserID:         identity.UserID,
			Lines:          domain.CloneLines(lines),
			SubtotalCents:  breakdown.SubtotalCents,
			Discount:       breakdown.ReceiptDiscount(),
			TotalCents:     breakdown.TotalCents,
			Buyer:          buyer,
			CheckedOutAt:   s.now(),
			IdempotencyKey: req.IdempotencyKey,
		}, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// A concurrent request with the same key won the race.
			if existing, lookupErr := s.repo.FindReceiptByIdempotency(ctx, identity.UserID, req.IdempotencyKey); lookupErr == nil {
				return domain.CheckoutResponse{Receipt: *existing, Duplicate: true}, nil
			}
		}
		return domain.CheckoutResponse{}, err
	}

	discountCode := ""
	if created.Discount != nil {
		discountCode = created.Discount.Code
	}
	s.logAudit(ctx, "checkout", "receipt", created.ID, fmt.Sprintf("total=%d,discount_code=%s,items=%d", created.TotalCents, discountCode, domain.ItemCount(created.Lines)))

	return domain.CheckoutResponse{Receipt: *created}, nil
}

func (s *Service) ListReceipts(ctx context.Context, limit int) (domain.ReceiptListResponse, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return domain.ReceiptListResponse{}, err
	}
	if limit < 1 || limit > 100 {
		limit = defaultReceiptLimit
	}
	receipts, err := s.repo.ListReceipts(ctx, identity.UserID, limit)
	if err != nil {
		return domain.ReceiptListResponse{}, err
	}
	return domain.ReceiptListResponse{Receipts: receipts}, nil
}

func (s *Service) GetReceipt(ctx context.Context, receiptID string) (domain.Receipt, error) {
	identity, err := requireIdentity(ctx)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := s.repo.FindReceiptByID(ctx, identity.UserID, strings.TrimSpace(receiptID))
	if err != nil {
		return domain.Receipt{}, err
	}
	return *receipt, nil
}

// RecordRegistration writes the audit entry for a new account.
func (s *Service) RecordRegistration(ctx context.Context, identity domain.Identity) {
	s.logAudit(WithIdentity(ctx, identity), "register", "user", identity.UserID, identity.Email)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	userID := "system"
	if identity, ok := IdentityFromContext(ctx); ok {
		userID = identity.UserID
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func requireIdentity(ctx context.Context) (domain.Identity, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return domain.Identity{}, domain.ErrNotAuthenticated
	}
	return identity, nil
}

func toCartResponse(lines []domain.Line) domain.CartResponse {
	lines = domain.CloneLines(lines)
	return domain.CartResponse{Lines: lines, ItemCount: domain.ItemCount(lines)}
}

// normalizeEntries sums quantities per item and drops non-positive entries,
// keeping first-seen order.
// normalizeEntries folds duplicate items and caps each at
// domain.MaxLineQuantity.
func normalizeEntries(entries []domain.CartEntry) []domain.CartEntry {
	index := make(map[int64]int, len(entries))
	normalized := make([]domain.CartEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Quantity < 1 {
			continue
		}
		qty := min(entry.Quantity, domain.MaxLineQuantity)
		if i, ok := index[entry.Item.ID]; ok {
			normalized[i].Quantity = min(normalized[i].Quantity+qty, domain.MaxLineQuantity)
			continue
		}
		index[entry.Item.ID] = len(normalized)
		normalized = append(normalized, domain.CartEntry{Item: domain.Item{ID: entry.Item.ID}, Quantity: qty})
	}
	return normalized
}

func normalizeBuyer(buyer domain.BuyerInfo) (domain.BuyerInfo, error) {
	buyer.Name = strings.TrimSpace(buyer.Name)
	buyer.Email = strings.TrimSpace(buyer.Email)
	if err := domain.Validate(buyer); err != nil {
		return domain.BuyerInfo{}, fmt.Errorf("%w: %v", domain.ErrInvalidBuyerInfo, err)
	}
	return buyer, nil
}
