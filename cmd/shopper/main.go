// Command shopper walks one buyer through the storefront against a running
// API: browse, fill a guest cart, sign in, apply a code and check out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"nexora/backend/internal/cache"
	"nexora/backend/internal/cart"
	"nexora/backend/internal/catalog"
	"nexora/backend/internal/client"
	"nexora/backend/internal/config"
	"nexora/backend/internal/domain"
	"nexora/backend/internal/storefront"
)

func main() {
	cfg := config.Load()

	apiURL := flag.String("api", cfg.APIURL, "storefront API base URL")
	email := flag.String("email", "runner@nexora.dev", "buyer email")
	password := flag.String("password", os.Getenv("SHOPPER_PASSWORD"), "buyer password")
	name := flag.String("name", "Cyber Runner", "buyer name printed on the receipt")
	items := flag.String("items", "1:2,2:1", "comma-separated item_id:qty pairs added as a guest")
	code := flag.String("code", "", "discount code")
	brand := flag.String("brand", "", "only list items of this brand")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mirror := cart.Mirror(cache.NewMemoryCartMirror())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Duration(cfg.CartMirrorTTLHours)*time.Hour)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("[shopper] redis unavailable (%v), guest cart not persisted", err)
		} else {
			defer redisCache.Close()
			mirror = redisCache
		}
	}

	if err := run(ctx, client.New(*apiURL, nil), mirror, shopperOptions{
		email:    *email,
		password: *password,
		buyer:    domain.BuyerInfo{Name: *name, Email: *email},
		items:    *items,
		code:     *code,
		brand:    *brand,
	}); err != nil {
		log.Fatalf("[shopper] %s (%v)", domain.UserMessage(err), err)
	}
}

type shopperOptions struct {
	email    string
	password string
	buyer    domain.BuyerInfo
	items    string
	code     string
	brand    string
}

func run(ctx context.Context, backend storefront.Backend, mirror cart.Mirror, opts shopperOptions) error {
	session, err := storefront.Open(ctx, backend, mirror)
	if err != nil {
		return err
	}

	filter := catalog.Filter{}
	if opts.brand != "" {
		filter.Brands = []string{opts.brand}
	}
	for _, item := range session.Browse(filter) {
		fmt.Printf("%4d  %-28s %10d  %.1f  %s/%s\n", item.ID, item.Name, item.PriceCents, item.Rating, item.Brand, item.Color)
	}

	wanted, err := parseItems(opts.items)
	if err != nil {
		return err
	}
	for _, entry := range wanted {
		if err := session.AddItem(ctx, entry.Item.ID, entry.Quantity); err != nil {
			return fmt.Errorf("add item %d: %w", entry.Item.ID, err)
		}
	}
	fmt.Printf("guest cart: %d item(s)\n", session.ItemCount())

	if _, ok := session.Identity(); !ok {
		if err := session.Login(ctx, opts.email, opts.password); err != nil {
			if !errors.Is(err, domain.ErrMergeFailed) {
				return err
			}
			log.Printf("[shopper] %s retrying once", domain.UserMessage(err))
			if err := session.RetryMerge(ctx); err != nil {
				return err
			}
		}
	}

	if opts.code != "" {
		if _, err := session.ApplyDiscount(ctx, opts.code); err != nil {
			return err
		}
	}

	quote := session.Pricing()
	fmt.Printf("subtotal %d  discount %d  total %d\n", quote.SubtotalCents, quote.DiscountCents, quote.TotalCents)

	receipt, err := session.Checkout(ctx, opts.buyer)
	if err != nil {
		return err
	}
	fmt.Printf("receipt %s  total %d  at %s\n", receipt.ID, receipt.TotalCents, receipt.CheckedOutAt.Format(time.RFC3339))
	return nil
}

// parseItems reads "id:qty,id:qty"; a bare id means one unit.
func parseItems(raw string) ([]domain.CartEntry, error) {
	entries := make([]domain.CartEntry, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idText, qtyText, hasQty := strings.Cut(part, ":")
		id, err := strconv.ParseInt(strings.TrimSpace(idText), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid item id %q", idText)
		}
		qty := 1
		if hasQty {
			qty, err = strconv.Atoi(strings.TrimSpace(qtyText))
			if err != nil || qty < 1 {
				return nil, fmt.Errorf("invalid quantity %q for item %d", qtyText, id)
			}
		}
		entries = append(entries, domain.CartEntry{Item: domain.Item{ID: id}, Quantity: qty})
	}
	return entries, nil
}
