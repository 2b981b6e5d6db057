// Package orders is the read side of placed orders. Every read is gated by
// an ownership check on the order's user id.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
	"github.com/hashstyles/hashstyles/internal/slot"
)

type Reader struct {
	store docstore.Store
	slots slot.Store
}

func NewReader(store docstore.Store, slots slot.Store) *Reader {
	return &Reader{store: store, slots: slots}
}

// Get returns the order when uid owns it and domain.ErrPermissionDenied
// otherwise.
func (r *Reader) Get(ctx context.Context, uid, id string) (*domain.Order, error) {
	if uid == "" {
		return nil, domain.ErrNotAuthenticated
	}
	snap, err := r.store.Get(ctx, Path(id))
	if errors.Is(err, docstore.ErrInvalidPath) {
		return nil, fmt.Errorf("%w: order %q", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if !snap.Exists() {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}

	o, err := FromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	if !o.OwnedBy(uid) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrPermissionDenied, id)
	}
	return o, nil
}

// List returns the user's orders, newest first.
func (r *Reader) List(ctx context.Context, uid string) ([]*domain.Order, error) {
	if uid == "" {
		return nil, domain.ErrNotAuthenticated
	}
	snaps, err := r.store.Query(ctx, docstore.Collection(Collection).
		Where("userId", uid).
		OrderBy("createdAt", docstore.Desc))
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	out := make([]*domain.Order, 0, len(snaps))
	for _, s := range snaps {
		o, err := FromSnapshot(s)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// LastPlaced consumes the last_order_id slot and returns that order for the
// confirmation screen.
func (r *Reader) LastPlaced(ctx context.Context, uid string) (*domain.Order, error) {
	if uid == "" {
		return nil, domain.ErrNotAuthenticated
	}
	id, err := r.slots.Take(ctx, uid, slot.KeyLastOrder)
	if errors.Is(err, slot.ErrEmpty) {
		return nil, fmt.Errorf("%w: no recently placed order", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last order slot: %w", err)
	}
	return r.Get(ctx, uid, id)
}
