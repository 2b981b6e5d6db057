// Package events publishes domain events after the critical path succeeded.
// Publishing is best-effort: callers log failures and carry on.
package events

import (
	"context"
	"time"
)

const (
	TopicOrdersPlaced    = "orders-placed"
	EventTypeOrderPlaced = "OrderPlaced"
)

type OrderPlaced struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	Total       string    `json:"total"`
	ItemCount   int       `json:"item_count"`
	PlacedAt    time.Time `json:"placed_at"`
}

type Publisher interface {
	PublishOrderPlaced(ctx context.Context, ev OrderPlaced) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishOrderPlaced(context.Context, OrderPlaced) error { return nil }
func (Nop) Close() error                                          { return nil }
