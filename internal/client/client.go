// Package client talks to the storefront HTTP API. It is the catalog,
// identity and remote cart source of a buyer session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"nexora/backend/internal/catalog"
	"nexora/backend/internal/domain"
	"nexora/backend/internal/store"
)

var ErrRateLimited = errors.New("too many attempts")

// StatusError is a non-2xx API response. It unwraps to the sentinel named by
// the response code, so callers keep using errors.Is across the wire.
type StatusError struct {
	Status  int
	Code    string
	Message string
	err     error
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status=%d code=%s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api status=%d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.err
}

type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
	csrf  string
}

// New builds a client for baseURL such as http://localhost:8080. httpClient
// may be nil.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
	}
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken restores a previously issued access token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = strings.TrimSpace(token)
}

func (c *Client) ListItems(ctx context.Context, filter catalog.Filter) (domain.ItemListResponse, error) {
	query := url.Values{}
	if q := strings.TrimSpace(filter.Query); q != "" {
		query.Set("q", q)
	}
	if filter.MaxPriceCents > 0 {
		query.Set("max_price", strconv.FormatInt(filter.MaxPriceCents, 10))
	}
	if filter.MinRating > 0 {
		query.Set("min_rating", strconv.FormatFloat(filter.MinRating, 'f', -1, 64))
	}
	for _, brand := range filter.Brands {
		query.Add("brand", brand)
	}
	for _, color := range filter.Colors {
		query.Add("color", color)
	}

	path := "/api/v1/items"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp domain.ItemListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// CurrentIdentity returns nil when the client holds no token or the server no
// longer accepts it.
func (c *Client) CurrentIdentity(ctx context.Context) (*domain.Identity, error) {
	if c.Token() == "" {
		return nil, nil
	}
	var resp struct {
		User domain.Identity `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, &resp); err != nil {
		if errors.Is(err, domain.ErrNotAuthenticated) {
			c.SetToken("")
			return nil, nil
		}
		return nil, err
	}
	return &resp.User, nil
}

func (c *Client) Login(ctx context.Context, email string, password string) (domain.Identity, error) {
	var resp domain.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return domain.Identity{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp.User, nil
}

func (c *Client) Register(ctx context.Context, name string, email string, password string) (domain.Identity, error) {
	var resp domain.AuthResponse
	req := domain.RegisterRequest{Name: name, Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", req, &resp); err != nil {
		return domain.Identity{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp.User, nil
}

// Logout revokes the token server-side and forgets it. The token is dropped
// even when the revoke call fails.
func (c *Client) Logout(ctx context.Context) error {
	if c.Token() == "" {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
	c.SetToken("")
	if errors.Is(err, domain.ErrNotAuthenticated) {
		return nil
	}
	return err
}

func (c *Client) FetchCart(ctx context.Context) ([]domain.Line, error) {
	return c.cartCall(ctx, http.MethodGet, "/api/v1/cart", nil)
}

func (c *Client) AddToCart(ctx context.Context, itemID int64, qty int) ([]domain.Line, error) {
	return c.cartCall(ctx, http.MethodPost, "/api/v1/cart/items", domain.AddToCartRequest{ItemID: itemID, Quantity: qty})
}

func (c *Client) UpdateQuantity(ctx context.Context, lineID string, qty int) ([]domain.Line, error) {
	return c.cartCall(ctx, http.MethodPatch, "/api/v1/cart/lines/"+url.PathEscape(lineID), domain.UpdateQuantityRequest{Quantity: qty})
}

func (c *Client) RemoveLine(ctx context.Context, lineID string) ([]domain.Line, error) {
	return c.cartCall(ctx, http.MethodDelete, "/api/v1/cart/lines/"+url.PathEscape(lineID), nil)
}

func (c *Client) MergeCart(ctx context.Context, entries []domain.CartEntry) ([]domain.Line, error) {
	return c.cartCall(ctx, http.MethodPost, "/api/v1/cart/merge", domain.MergeCartRequest{Entries: entries})
}

func (c *Client) ValidateDiscount(ctx context.Context, code string) (domain.Discount, error) {
	var resp domain.DiscountValidateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/discounts/validate", domain.DiscountValidateRequest{Code: code}, &resp); err != nil {
		return domain.Discount{}, err
	}
	return resp.Discount, nil
}

func (c *Client) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	var resp domain.CheckoutResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/checkout", req, &resp)
	return resp, err
}

func (c *Client) ListReceipts(ctx context.Context, limit int) ([]domain.Receipt, error) {
	path := "/api/v1/receipts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp domain.ReceiptListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

func (c *Client) GetReceipt(ctx context.Context, receiptID string) (domain.Receipt, error) {
	var resp struct {
		Receipt domain.Receipt `json:"receipt"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/receipts/"+url.PathEscape(receiptID), nil, &resp)
	return resp.Receipt, err
}

func (c *Client) cartCall(ctx context.Context, method string, path string, body any) ([]domain.Line, error) {
	var resp domain.CartResponse
	if err := c.do(ctx, method, path, body, &resp); err != nil {
		return nil, err
	}
	if resp.Lines == nil {
		resp.Lines = []domain.Line{}
	}
	return resp.Lines, nil
}

// do sends one JSON request. Mutating requests carry a CSRF token; a 403 on a
// stale token refreshes it and retries once.
func (c *Client) do(ctx context.Context, method string, path string, body any, dest any) error {
	mutating := method != http.MethodGet
	err := c.send(ctx, method, path, body, dest, mutating)
	var statusErr *StatusError
	if mutating && errors.As(err, &statusErr) && statusErr.Status == http.StatusForbidden {
		c.mu.Lock()
		c.csrf = ""
		c.mu.Unlock()
		err = c.send(ctx, method, path, body, dest, true)
	}
	return err
}

func (c *Client) send(ctx context.Context, method string, path string, body any, dest any, withCSRF bool) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if withCSRF {
		csrf, err := c.csrfToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("X-CSRF-Token", csrf)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrNetworkFailure, method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if dest == nil || res.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
			return fmt.Errorf("%w: decode %s response: %v", domain.ErrNetworkFailure, path, err)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	return decodeError(res.StatusCode, raw)
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	cached := c.csrf
	c.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	var resp struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := c.send(ctx, http.MethodGet, "/api/v1/auth/csrf-token", nil, &resp, false); err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.csrf = resp.CSRFToken
	return c.csrf, nil
}

func decodeError(status int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.Unmarshal(raw, &body)
	if body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}

	statusErr := &StatusError{Status: status, Code: body.Code, Message: body.Error}
	if sentinel, ok := domain.ErrorForCode(body.Code); ok {
		statusErr.err = sentinel
		return statusErr
	}

	switch {
	case status >= 500:
		statusErr.err = domain.ErrNetworkFailure
	case status == http.StatusUnauthorized:
		statusErr.err = domain.ErrNotAuthenticated
	case status == http.StatusNotFound:
		statusErr.err = store.ErrNotFound
	case status == http.StatusConflict:
		statusErr.err = store.ErrConflict
	case status == http.StatusTooManyRequests:
		statusErr.err = ErrRateLimited
	case status == http.StatusBadRequest:
		statusErr.err = store.ErrInvalidRequest
	}
	return statusErr
}
