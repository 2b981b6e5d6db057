package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
)

// OrderItem is a snapshot of a cart line at the time the order was placed.
// ProductRef is kept for traceability only; display fields never follow the
// live product.
type OrderItem struct {
	ProductRef string          `json:"product_ref"`
	Title      string          `json:"title"`
	Slug       string          `json:"slug"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Size       string          `json:"size,omitempty"`
	Image      string          `json:"image,omitempty"`
}

type Order struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Items       []OrderItem     `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Shipping    decimal.Decimal `json:"shipping"`
	Total       decimal.Decimal `json:"total"`
	Address     Address         `json:"address"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// OwnedBy reports whether userID may read the order.
func (o *Order) OwnedBy(userID string) bool {
	return userID != "" && o.UserID == userID
}
