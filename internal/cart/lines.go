package cart

import (
	"slices"

	"nexora/backend/internal/domain"
)

// The functions in this file are the single definition of line arithmetic.
// Both the device-local cart and the server repositories apply them, so the
// two variants cannot drift apart. None of them mutate their input.

// AddQuantity adds qty of item to the line already holding it, or appends a
// new line. qty must be positive. A line pushed past domain.MaxLineQuantity
// fails with domain.ErrQuantityLimit and lines is left as it was.
func AddQuantity(lines []domain.Line, item domain.Item, qty int, newID func() string) ([]domain.Line, error) {
	if qty > domain.MaxLineQuantity {
		return nil, domain.ErrQuantityLimit
	}
	out := domain.CloneLines(lines)
	if idx := indexOfItem(out, item.ID); idx >= 0 {
		if out[idx].Quantity+qty > domain.MaxLineQuantity {
			return nil, domain.ErrQuantityLimit
		}
		out[idx].Quantity += qty
		return out, nil
	}
	return append(out, domain.Line{ID: newID(), Item: item, Quantity: qty}), nil
}

// SetQuantity overwrites the quantity of lineID; qty <= 0 removes the line.
// An unknown lineID leaves lines unchanged.
func SetQuantity(lines []domain.Line, lineID string, qty int) ([]domain.Line, error) {
	if qty <= 0 {
		return Remove(lines, lineID), nil
	}
	if qty > domain.MaxLineQuantity {
		return nil, domain.ErrQuantityLimit
	}
	out := domain.CloneLines(lines)
	for i := range out {
		if out[i].ID == lineID {
			out[i].Quantity = qty
			break
		}
	}
	return out, nil
}

func Remove(lines []domain.Line, lineID string) []domain.Line {
	out := domain.CloneLines(lines)
	return slices.DeleteFunc(out, func(line domain.Line) bool {
		return line.ID == lineID
	})
}

// Merge folds guest entries into lines keyed by item id. Quantities add, so
// the resulting (item, quantity) multiset does not depend on entry order.
// Entries with a non-positive quantity are ignored. A merged line is capped at
// domain.MaxLineQuantity rather than failing the whole merge.
func Merge(lines []domain.Line, entries []domain.CartEntry, newID func() string) []domain.Line {
	out := domain.CloneLines(lines)
	for _, entry := range entries {
		if entry.Quantity <= 0 {
			continue
		}
		if idx := indexOfItem(out, entry.Item.ID); idx >= 0 {
			out[idx].Quantity = capQuantity(out[idx].Quantity, entry.Quantity)
			continue
		}
		out = append(out, domain.Line{ID: newID(), Item: entry.Item, Quantity: capQuantity(0, entry.Quantity)})
	}
	return out
}

func capQuantity(current int, add int) int {
	if add >= domain.MaxLineQuantity-current {
		return domain.MaxLineQuantity
	}
	return current + add
}

// Entries strips line identifiers; they carry no meaning across variants.
func Entries(lines []domain.Line) []domain.CartEntry {
	entries := make([]domain.CartEntry, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, domain.CartEntry{Item: line.Item, Quantity: line.Quantity})
	}
	return entries
}

func indexOfItem(lines []domain.Line, itemID int64) int {
	return slices.IndexFunc(lines, func(line domain.Line) bool {
		return line.Item.ID == itemID
	})
}
