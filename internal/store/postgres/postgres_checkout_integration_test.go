package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"nexora/backend/internal/domain"
	"nexora/backend/internal/pricing"
	"nexora/backend/internal/store"
	"nexora/backend/internal/xid"
)

func TestMergeThenCheckoutClearsCart(t *testing.T) {
	databaseURL := os.Getenv("NEXORA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set NEXORA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	userID := xid.New("usr-it")
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM receipts WHERE user_id = $1`, userID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	})
	if err := s.CreateUser(ctx, domain.UserAccount{
		ID:       userID,
		Name:     "Integration Runner",
		Email:    userID + "@nexora.test",
		Password: "not-a-real-hash",
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	items, err := s.GetItemsByIDs(ctx, []int64{1, 2})
	if err != nil || len(items) != 2 {
		t.Fatalf("expected seeded items, got %v err=%v", items, err)
	}
	keyboard, headset := items[1], items[2]

	if _, err := s.AddCartItem(ctx, userID, keyboard, 1); err != nil {
		t.Fatalf("add keyboard: %v", err)
	}
	if _, err := s.AddCartItem(ctx, userID, headset, 3); err != nil {
		t.Fatalf("add headset: %v", err)
	}

	_, err = s.MergeCart(ctx, userID, []domain.CartEntry{
		{Item: keyboard, Quantity: 2},
		{Item: domain.Item{ID: 999999}, Quantity: 1},
	})
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected merge with unknown item to fail, got %v", err)
	}

	lines, err := s.MergeCart(ctx, userID, []domain.CartEntry{{Item: keyboard, Quantity: 2}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(lines) != 2 || lines[0].Quantity != 3 || lines[1].Quantity != 3 {
		t.Fatalf("expected keyboard=3 headset=3, got %+v", lines)
	}

	key := xid.New("idem-it")
	discount := &domain.Discount{Code: "NEXORA20", Rate: pricing.ReferenceCodes()[0].Rate}
	build := func(locked []domain.Line) (domain.Receipt, error) {
		if len(locked) == 0 {
			return domain.Receipt{}, domain.ErrEmptyCart
		}
		b := pricing.Calculate(locked, discount)
		return domain.Receipt{
			ID:             xid.New("NXR"),
			Lines:          locked,
			SubtotalCents:  b.SubtotalCents,
			Discount:       b.ReceiptDiscount(),
			TotalCents:     b.TotalCents,
			Buyer:          domain.BuyerInfo{Name: "Integration Runner", Email: "runner@nexora.test"},
			CheckedOutAt:   time.Now().UTC(),
			IdempotencyKey: key,
		}, nil
	}

	receipt, err := s.Checkout(ctx, userID, build)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if receipt.Discount == nil || receipt.TotalCents != receipt.SubtotalCents-receipt.Discount.AmountCents {
		t.Fatalf("unexpected receipt totals %+v", receipt)
	}

	remaining, err := s.GetCart(ctx, userID)
	if err != nil || len(remaining) != 0 {
		t.Fatalf("expected empty cart after checkout, got %+v err=%v", remaining, err)
	}

	stored, err := s.FindReceiptByIdempotency(ctx, userID, key)
	if err != nil {
		t.Fatalf("find by idempotency: %v", err)
	}
	if stored.ID != receipt.ID || len(stored.Lines) != 2 || stored.Discount.Code != "NEXORA20" {
		t.Fatalf("unexpected stored receipt %+v", stored)
	}

	if _, err := s.Checkout(ctx, userID, build); !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected empty cart on second checkout, got %v", err)
	}
	if _, err := s.FindReceiptByID(ctx, "someone-else", receipt.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected receipts to be scoped to their buyer, got %v", err)
	}
}
