package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const productsCollection = "products"

type Product struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Slug        string          `json:"slug"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Images      []string        `json:"images"`
	Category    string          `json:"category,omitempty"`
	Sizes       []string        `json:"sizes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Ref returns the traceability reference stored on cart lines, wishlist
// entries and order items.
func (p Product) Ref() string {
	return ProductRef(p.ID)
}

// FirstImage returns the cover image or an empty string.
func (p Product) FirstImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

func ProductRef(id string) string {
	return productsCollection + "/" + id
}

// ProductIDFromRef extracts the product id from a "products/{id}" reference.
func ProductIDFromRef(ref string) (string, bool) {
	id, ok := strings.CutPrefix(ref, productsCollection+"/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
