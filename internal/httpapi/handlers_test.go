package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"nexora/backend/internal/cache"
	"nexora/backend/internal/domain"
	"nexora/backend/internal/service"
	"nexora/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo)
	auth := NewAuthManager("test-secret-key", time.Hour, repo, cache.NewMemoryTokenDenylist())

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// doJSON sends a request through the API handler with optional bearer and
// CSRF tokens.
func doJSON(t *testing.T, api *API, method string, path string, payload any, token string, csrf string) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Email:    "runner@nexora.dev",
		Password: "password123",
	}, "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.AuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("expected access_token in response, got %+v", body)
	}
	if body.User.Email != "runner@nexora.dev" || body.User.Name != "Cyber Runner" {
		t.Fatalf("unexpected identity %+v", body.User)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Email:    "runner@nexora.dev",
		Password: "wrongpassword",
	}, "", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials code, got %v", body)
	}
}

func TestHandleItems_PublicWithFilters(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items?brand=GlitchWear&min_rating=4.8", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body domain.ItemListResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].ID != 17 {
		t.Fatalf("expected only item 17, got %+v", body.Items)
	}
	if len(body.Brands) != 5 {
		t.Fatalf("expected facets over the full catalog, got %v", body.Brands)
	}
}

func TestHandleItems_RejectsBadPrice(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items?max_price=cheap", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCart_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/cart", nil, "", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCartAndCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsRunner(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/cart/merge", domain.MergeCartRequest{
		Entries: []domain.CartEntry{
			{Item: domain.Item{ID: 1}, Quantity: 2},
			{Item: domain.Item{ID: 4}, Quantity: 1},
		},
	}, token, csrf)
	if rec.Code != http.StatusOK {
		t.Fatalf("merge: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/cart/items", domain.AddToCartRequest{ItemID: 17}, token, csrf)
	if rec.Code != http.StatusOK {
		t.Fatalf("add: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var cartResp domain.CartResponse
	if err := json.NewDecoder(rec.Body).Decode(&cartResp); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if cartResp.ItemCount != 4 || len(cartResp.Lines) != 3 {
		t.Fatalf("expected 3 lines totalling 4 units, got %+v", cartResp)
	}

	lineID := cartResp.Lines[2].ID
	rec = doJSON(t, api, http.MethodPatch, "/api/v1/cart/lines/"+lineID, domain.UpdateQuantityRequest{Quantity: 3}, token, csrf)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodDelete, "/api/v1/cart/lines/"+lineID, nil, token, csrf)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	checkout := domain.CheckoutRequest{
		Buyer:          domain.BuyerInfo{Name: "Cyber Runner", Email: "runner@nexora.dev"},
		DiscountCode:   "futura10",
		IdempotencyKey: "flow-1",
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/checkout", checkout, token, csrf)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	if !strings.HasPrefix(created.Receipt.ID, "NXR-") {
		t.Fatalf("unexpected receipt id %q", created.Receipt.ID)
	}
	if created.Receipt.Discount == nil || created.Receipt.Discount.Code != "FUTURA10" {
		t.Fatalf("expected FUTURA10 discount, got %+v", created.Receipt.Discount)
	}
	if created.Receipt.TotalCents != created.Receipt.SubtotalCents-created.Receipt.Discount.AmountCents {
		t.Fatalf("total does not reconcile: %+v", created.Receipt)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/checkout", checkout, token, csrf)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var replay domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&replay); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if !replay.Duplicate || replay.Receipt.ID != created.Receipt.ID {
		t.Fatalf("expected duplicate of %s, got %+v", created.Receipt.ID, replay)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/cart", nil, token, "")
	if err := json.NewDecoder(rec.Body).Decode(&cartResp); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(cartResp.Lines) != 0 {
		t.Fatalf("expected cart cleared after checkout, got %+v", cartResp.Lines)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/receipts/"+created.Receipt.ID, nil, token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("receipt: expected 200, got %d", rec.Code)
	}
}

func TestCheckoutErrorsMapToCodes(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsRunner(t, api)
	csrf := fetchCSRFToken(t, api)

	cases := []struct {
		name   string
		req    domain.CheckoutRequest
		status int
		code   string
	}{
		{
			name:   "empty cart",
			req:    domain.CheckoutRequest{Buyer: domain.BuyerInfo{Name: "A", Email: "a@b.co"}},
			status: http.StatusConflict,
			code:   "empty_cart",
		},
		{
			name:   "bad buyer",
			req:    domain.CheckoutRequest{Buyer: domain.BuyerInfo{Name: "A", Email: "nope"}},
			status: http.StatusBadRequest,
			code:   "invalid_buyer_info",
		},
	}
	for _, tc := range cases {
		rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", tc.req, token, csrf)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d (body: %s)", tc.name, tc.status, rec.Code, rec.Body.String())
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode body: %v", tc.name, err)
		}
		if body["code"] != tc.code {
			t.Fatalf("%s: expected code %s, got %v", tc.name, tc.code, body)
		}
	}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/discounts/validate", domain.DiscountValidateRequest{Code: "NEXORA2"}, "", csrf)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown code, got %d", rec.Code)
	}
}

func TestRegisterAndDuplicateEmail(t *testing.T) {
	api := newTestAPI(t)
	req := domain.RegisterRequest{Name: "Neo", Email: "neo@nexora.dev", Password: "matrix42"}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/register", req, "", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/register", req, "", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "email_taken" {
		t.Fatalf("expected email_taken, got %v", body)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsRunner(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/auth/me", nil, token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/logout", nil, token, csrf)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/auth/me", nil, token, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rec.Code)
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
