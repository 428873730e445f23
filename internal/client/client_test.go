package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nexora/backend/internal/cache"
	"nexora/backend/internal/catalog"
	"nexora/backend/internal/domain"
	"nexora/backend/internal/httpapi"
	"nexora/backend/internal/service"
	"nexora/backend/internal/store"
	"nexora/backend/internal/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	repo := memory.NewSeeded()
	auth := httpapi.NewAuthManager("client-test-secret", time.Hour, repo, cache.NewMemoryTokenDenylist())
	api := httpapi.New(service.New(repo), auth, "*")

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientCartRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, srv.Client())
	ctx := context.Background()

	if _, err := c.FetchCart(ctx); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated before login, got %v", err)
	}

	identity, err := c.Login(ctx, "runner@nexora.dev", "password123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if identity.Name != "Cyber Runner" || c.Token() == "" {
		t.Fatalf("unexpected login result %+v token=%q", identity, c.Token())
	}

	lines, err := c.AddToCart(ctx, 1, 2)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	lines, err = c.AddToCart(ctx, 1, 1)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if len(lines) != 1 || lines[0].Quantity != 3 {
		t.Fatalf("expected one line with qty 3, got %+v", lines)
	}

	lines, err = c.UpdateQuantity(ctx, lines[0].ID, 0)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected line removed, got %+v", lines)
	}

	if _, err := c.AddToCart(ctx, 999, 1); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}

	lines, err = c.MergeCart(ctx, []domain.CartEntry{{Item: domain.Item{ID: 4}, Quantity: 2}})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if domain.ItemCount(lines) != 2 {
		t.Fatalf("expected 2 items after merge, got %+v", lines)
	}

	resp, err := c.Checkout(ctx, domain.CheckoutRequest{
		Buyer:          domain.BuyerInfo{Name: "Cyber Runner", Email: "runner@nexora.dev"},
		DiscountCode:   "NEXORA20",
		IdempotencyKey: "client-1",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.Receipt.Discount == nil || resp.Receipt.Discount.Code != "NEXORA20" {
		t.Fatalf("expected NEXORA20 on receipt, got %+v", resp.Receipt)
	}

	receipts, err := c.ListReceipts(ctx, 10)
	if err != nil {
		t.Fatalf("list receipts failed: %v", err)
	}
	if len(receipts) != 1 || receipts[0].ID != resp.Receipt.ID {
		t.Fatalf("expected the new receipt in history, got %+v", receipts)
	}
	if _, err := c.GetReceipt(ctx, "NXR-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown receipt, got %v", err)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	current, err := c.CurrentIdentity(ctx)
	if err != nil || current != nil {
		t.Fatalf("expected no identity after logout, got %+v, %v", current, err)
	}
}

func TestClientMapsErrorCodes(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, srv.Client())
	ctx := context.Background()

	if _, err := c.Login(ctx, "runner@nexora.dev", "nope"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := c.ValidateDiscount(ctx, "bogus"); !errors.Is(err, domain.ErrInvalidDiscountCode) {
		t.Fatalf("expected ErrInvalidDiscountCode, got %v", err)
	}
	if _, err := c.Register(ctx, "Runner Two", "runner@nexora.dev", "password123"); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	var statusErr *StatusError
	_, err := c.Register(ctx, "", "x", "1")
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	if _, err := c.Login(ctx, "runner@nexora.dev", "password123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err = c.AddToCart(ctx, 1, domain.MaxLineQuantity+1)
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadRequest || !errors.Is(err, domain.ErrQuantityLimit) {
		t.Fatalf("expected 400 quantity_limit, got %v", err)
	}
}

func TestClientListItemsSendsFilter(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, nil)

	resp, err := c.ListItems(context.Background(), catalog.Filter{Brands: []string{"GlitchWear"}, MinRating: 4.8})
	if err != nil {
		t.Fatalf("list items failed: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != 17 {
		t.Fatalf("expected only item 17, got %+v", resp.Items)
	}
}

func TestClientTransportFailureIsNetworkFailure(t *testing.T) {
	srv := newTestServer(t)
	addr := srv.URL
	srv.Close()

	c := New(addr, nil)
	if _, err := c.ListItems(context.Background(), catalog.Filter{}); !errors.Is(err, domain.ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
}

func TestClientServerErrorIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	c.SetToken("anything")
	if _, err := c.FetchCart(context.Background()); !errors.Is(err, domain.ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
}
