package sequencer

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
)

// StoreSequencer keeps counters as order_counters/{prefix} documents and
// relies on the store's transaction for atomicity.
type StoreSequencer struct {
	store docstore.Store
}

func NewStoreSequencer(store docstore.Store) *StoreSequencer {
	return &StoreSequencer{store: store}
}

func (s *StoreSequencer) Next(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty prefix", domain.ErrValidation)
	}
	path := docstore.Join(countersCollection, prefix)

	var next int64
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(path)
		if err != nil {
			return err
		}
		if !snap.Exists() {
			next = 1
			return tx.Create(path, docstore.Data{"seq": next})
		}
		next = snap.Data.Int64("seq") + 1
		return tx.Update(path, docstore.Data{"seq": next})
	})
	if err != nil {
		return "", unavailable(err)
	}
	return Format(prefix, next), nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrSequencerUnavailable, err)
}
