// Package catalog holds the immutable item list of a session and the
// storefront's browse filters.
package catalog

import (
	"slices"
	"strings"

	"nexora/backend/internal/domain"
)

type Catalog struct {
	items []domain.Item
	byID  map[int64]domain.Item
}

func New(items []domain.Item) *Catalog {
	c := &Catalog{
		items: slices.Clone(items),
		byID:  make(map[int64]domain.Item, len(items)),
	}
	for _, item := range items {
		c.byID[item.ID] = item
	}
	return c
}

func (c *Catalog) Items() []domain.Item {
	if c == nil {
		return nil
	}
	return slices.Clone(c.items)
}

func (c *Catalog) Lookup(id int64) (domain.Item, bool) {
	if c == nil {
		return domain.Item{}, false
	}
	item, ok := c.byID[id]
	return item, ok
}

func (c *Catalog) Filter(f Filter) []domain.Item {
	if c == nil {
		return nil
	}
	return Apply(c.items, f)
}

// Filter zero values mean "no constraint". Brands and Colors match exactly;
// an empty set admits everything.
type Filter struct {
	Query         string
	MaxPriceCents int64
	MinRating     float64
	Brands        []string
	Colors        []string
}

func Apply(items []domain.Item, f Filter) []domain.Item {
	query := strings.ToLower(strings.TrimSpace(f.Query))
	result := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if query != "" && !strings.Contains(strings.ToLower(item.Name), query) {
			continue
		}
		if f.MaxPriceCents > 0 && item.PriceCents > f.MaxPriceCents {
			continue
		}
		if item.Rating < f.MinRating {
			continue
		}
		if len(f.Brands) > 0 && !slices.Contains(f.Brands, item.Brand) {
			continue
		}
		if len(f.Colors) > 0 && !slices.Contains(f.Colors, item.Color) {
			continue
		}
		result = append(result, item)
	}
	return result
}

// Facets returns the sorted distinct brands and colors in items.
func Facets(items []domain.Item) (brands []string, colors []string) {
	brands = make([]string, 0, len(items))
	colors = make([]string, 0, len(items))
	for _, item := range items {
		if item.Brand != "" {
			brands = append(brands, item.Brand)
		}
		if item.Color != "" {
			colors = append(colors, item.Color)
		}
	}
	slices.Sort(brands)
	slices.Sort(colors)
	return slices.Compact(brands), slices.Compact(colors)
}
