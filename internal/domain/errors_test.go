package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeRoundTrip(t *testing.T) {
	for _, sentinel := range []error{
		ErrItemNotFound,
		ErrNotAuthenticated,
		ErrEmptyCart,
		ErrInvalidDiscountCode,
		ErrMergeFailed,
		ErrNetworkFailure,
		ErrEmailTaken,
		ErrQuantityLimit,
		ErrAlreadySignedIn,
	} {
		code := ErrorCode(fmt.Errorf("wrapped: %w", sentinel))
		if code == "" {
			t.Fatalf("expected code for %v", sentinel)
		}
		back, ok := ErrorForCode(code)
		if !ok || !errors.Is(back, sentinel) {
			t.Fatalf("code %q did not map back to %v", code, sentinel)
		}
	}
}

func TestMergeFailedWinsOverCause(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrMergeFailed, ErrNetworkFailure)
	if got := ErrorCode(err); got != "merge_failed" {
		t.Fatalf("expected merge_failed, got %q", got)
	}
	if UserMessage(err) == UserMessage(ErrNetworkFailure) {
		t.Fatalf("expected merge specific message")
	}
}

func TestUserMessageForUnknownError(t *testing.T) {
	if got := UserMessage(errors.New("boom")); got == "" {
		t.Fatalf("expected generic message")
	}
	if got := ErrorCode(errors.New("boom")); got != "" {
		t.Fatalf("expected no code, got %q", got)
	}
}
