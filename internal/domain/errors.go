package domain

import "errors"

var (
	ErrItemNotFound        = errors.New("item not found")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInvalidDiscountCode = errors.New("invalid discount code")
	ErrMergeFailed         = errors.New("cart merge failed")
	ErrNetworkFailure      = errors.New("network failure")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidBuyerInfo   = errors.New("invalid buyer info")
	ErrCheckoutInProgress = errors.New("checkout in progress")
	ErrQuantityLimit      = errors.New("line quantity limit exceeded")
	ErrAlreadySignedIn    = errors.New("already signed in")
)

// MaxLineQuantity bounds the quantity of one cart line.
const MaxLineQuantity = 999

type errorKind struct {
	err     error
	code    string
	message string
}

// kinds is ordered: the first match wins, so wrapping errors such as
// ErrMergeFailed must precede the causes they may wrap.
var kinds = []errorKind{
	{ErrMergeFailed, "merge_failed", "Could not merge local cart with server. Please check your cart."},
	{ErrCheckoutInProgress, "checkout_in_progress", "A checkout is already being processed."},
	{ErrItemNotFound, "item_not_found", "That product is no longer available."},
	{ErrNotAuthenticated, "not_authenticated", "Please sign in to continue."},
	{ErrEmptyCart, "empty_cart", "Cannot checkout with an empty cart."},
	{ErrInvalidDiscountCode, "invalid_discount_code", "Invalid discount code."},
	{ErrInvalidCredentials, "invalid_credentials", "Invalid email or password."},
	{ErrEmailTaken, "email_taken", "An account with this email already exists."},
	{ErrQuantityLimit, "quantity_limit", "You can add at most 999 of one item."},
	{ErrAlreadySignedIn, "already_signed_in", "You are already signed in."},
	{ErrInvalidBuyerInfo, "invalid_buyer_info", "Please enter a valid name and email."},
	{ErrNetworkFailure, "network_failure", "Network error. Please try again."},
}

// ErrorCode returns the stable wire code for err, or "" when err is not part
// of the storefront taxonomy.
func ErrorCode(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return ""
}

// ErrorForCode maps a wire code back to its sentinel.
func ErrorForCode(code string) (error, bool) {
	for _, k := range kinds {
		if k.code == code {
			return k.err, true
		}
	}
	return nil, false
}

// UserMessage is the short text shown to the buyer for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.message
		}
	}
	return "Something went wrong. Please try again."
}
