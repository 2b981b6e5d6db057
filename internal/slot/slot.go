// Package slot holds transient per-session values that hand a one-time
// selection from one screen to the next. Values expire and are never part
// of the durable document store.
package slot

import (
	"context"
	"errors"
	"fmt"
)

const (
	KeyCheckoutAddress = "checkout_addr_id"
	KeyLastOrder       = "last_order_id"
)

var ErrEmpty = errors.New("slot is empty")

type Store interface {
	Get(ctx context.Context, uid, key string) (string, error)
	Set(ctx context.Context, uid, key, value string) error
	Delete(ctx context.Context, uid, key string) error
	// Take returns the value and clears the slot in one step.
	Take(ctx context.Context, uid, key string) (string, error)
}

func slotKey(uid, key string) string {
	return fmt.Sprintf("slot:%s:%s", uid, key)
}
