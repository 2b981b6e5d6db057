package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const lineSizeSeparator = "__"

// LineID builds the per-user identity of a cart line from the product slug
// and the optional size.
func LineID(slug, size string) string {
	if size == "" {
		return slug
	}
	return slug + lineSizeSeparator + size
}

type CartLine struct {
	Product   Product   `json:"product"`
	Size      string    `json:"size,omitempty"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l CartLine) ID() string {
	return LineID(l.Product.Slug, l.Size)
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
