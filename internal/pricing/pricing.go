// Package pricing derives cart totals and evaluates discount codes.
//
// All amounts are integer minor currency units. The only fractional value is
// a discount rate, and the discount amount is rounded half away from zero to
// a whole unit, so subtotal, discount and total stay integral and
// total == subtotal - discount always holds.
package pricing

import (
	"github.com/shopspring/decimal"

	"nexora/backend/internal/domain"
)

type Breakdown struct {
	SubtotalCents int64            `json:"subtotal_cents"`
	DiscountCents int64            `json:"discount_cents"`
	TotalCents    int64            `json:"total_cents"`
	Discount      *domain.Discount `json:"discount,omitempty"`
}

func Subtotal(lines []domain.Line) int64 {
	subtotal := int64(0)
	for _, line := range lines {
		subtotal += int64(line.Quantity) * line.Item.PriceCents
	}
	return subtotal
}

// DiscountAmount is subtotal * rate rounded to a whole minor unit.
func DiscountAmount(subtotal int64, rate decimal.Decimal) int64 {
	if subtotal <= 0 || !rate.IsPositive() {
		return 0
	}
	amount := decimal.NewFromInt(subtotal).Mul(rate).Round(0).IntPart()
	if amount > subtotal {
		return subtotal
	}
	return amount
}

func Calculate(lines []domain.Line, discount *domain.Discount) Breakdown {
	b := Breakdown{SubtotalCents: Subtotal(lines)}
	if discount != nil {
		d := *discount
		b.Discount = &d
		b.DiscountCents = DiscountAmount(b.SubtotalCents, d.Rate)
	}
	b.TotalCents = b.SubtotalCents - b.DiscountCents
	return b
}

// ReceiptDiscount is the receipt form of the applied discount: code plus the
// absolute amount, never the rate.
func (b Breakdown) ReceiptDiscount() *domain.ReceiptDiscount {
	if b.Discount == nil {
		return nil
	}
	return &domain.ReceiptDiscount{Code: b.Discount.Code, AmountCents: b.DiscountCents}
}
