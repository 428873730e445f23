package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"nexora/backend/internal/domain"
	"nexora/backend/internal/store"
)

// ReferenceCodes are the codes recognised by the reference deployment.
func ReferenceCodes() []domain.DiscountCode {
	return []domain.DiscountCode{
		{Code: "NEXORA20", Rate: decimal.RequireFromString("0.20"), Active: true},
		{Code: "FUTURA10", Rate: decimal.RequireFromString("0.10"), Active: true},
	}
}

type CodeSource interface {
	FindDiscountCode(ctx context.Context, code string) (*domain.DiscountCode, error)
}

type Evaluator struct {
	codes CodeSource
}

func NewEvaluator(codes CodeSource) *Evaluator {
	return &Evaluator{codes: codes}
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate resolves code to a discount. Unknown, inactive or malformed codes
// return domain.ErrInvalidDiscountCode; lookup failures are returned as is.
func (e *Evaluator) Evaluate(ctx context.Context, code string) (domain.Discount, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return domain.Discount{}, domain.ErrInvalidDiscountCode
	}

	found, err := e.codes.FindDiscountCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Discount{}, domain.ErrInvalidDiscountCode
		}
		return domain.Discount{}, fmt.Errorf("lookup discount code: %w", err)
	}
	if !found.Active || !validRate(found.Rate) {
		return domain.Discount{}, domain.ErrInvalidDiscountCode
	}

	return domain.Discount{Code: normalized, Rate: found.Rate}, nil
}

func validRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThan(decimal.NewFromInt(1))
}
