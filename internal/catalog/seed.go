package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hashstyles/hashstyles/internal/domain"
)

var sampleProducts = []struct {
	title, category, price, image string
	sizes                         []string
}{
	{"Linen Shirt", "men", "59.00", "https://picsum.photos/seed/linen-shirt/600/800", []string{"S", "M", "L", "XL"}},
	{"Silk Scarf", "accessories", "35.50", "https://picsum.photos/seed/silk-scarf/600/800", nil},
	{"Wrap Dress", "women", "89.90", "https://picsum.photos/seed/wrap-dress/600/800", []string{"XS", "S", "M", "L"}},
	{"Denim Jacket", "men", "120.00", "https://picsum.photos/seed/denim-jacket/600/800", []string{"M", "L", "XL"}},
	{"Leather Belt", "accessories", "42.00", "https://picsum.photos/seed/leather-belt/600/800", []string{"S", "M", "L"}},
	{"Pleated Skirt", "women", "64.00", "https://picsum.photos/seed/pleated-skirt/600/800", []string{"XS", "S", "M"}},
	{"Canvas Tote & Pouch", "accessories", "28.00", "https://picsum.photos/seed/canvas-tote/600/800", nil},
	{"Merino Sweater", "women", "95.00", "https://picsum.photos/seed/merino-sweater/600/800", []string{"S", "M", "L"}},
}

// Seed inserts the sample products that are not present yet and returns
// how many it created.
func (c *SQLiteCatalog) Seed(ctx context.Context) (int, error) {
	base := c.now().UTC().Add(-time.Duration(len(sampleProducts)) * time.Minute)
	created := 0
	for i, s := range sampleProducts {
		p := &domain.Product{
			Title:       s.title,
			Description: s.title + " from the sample collection.",
			Price:       decimal.RequireFromString(s.price),
			Images:      []string{s.image},
			Category:    s.category,
			Sizes:       s.sizes,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		err := c.Create(ctx, p)
		if errors.Is(err, ErrDuplicateSlug) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed %q: %w", s.title, err)
		}
		created++
	}
	return created, nil
}
