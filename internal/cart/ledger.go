// Package cart keeps an in-memory mirror of the signed-in user's cart
// stored under users/{uid}/cart/{lineId}. Mutations update the mirror
// before the write lands; a failed write triggers a reload from the store.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
)

const clearConcurrency = 8

// ProductResolver looks a product up by id, failing with domain.ErrNotFound
// when it no longer exists.
type ProductResolver interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
}

// Snapshot is a consistent copy of the mirror.
type Snapshot struct {
	UID     string
	Lines   []domain.CartLine
	Total   decimal.Decimal
	Version uint64
}

func (s Snapshot) IsEmpty() bool {
	return len(s.Lines) == 0
}

// ClearResult lists what Clear deleted and what it could not.
type ClearResult struct {
	Deleted []string
	Failed  []domain.FailedDelete
}

// Err returns a *domain.PartialCleanupError when any delete failed.
func (r ClearResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &domain.PartialCleanupError{Failed: r.Failed}
}

type Ledger struct {
	store    docstore.Store
	products ProductResolver
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	uid     string
	lines   map[string]domain.CartLine
	total   decimal.Decimal
	version uint64
	// pending holds line ids whose delete failed, per user, retried on reload
	pending map[string]map[string]struct{}

	reloads singleflight.Group
}

func NewLedger(store docstore.Store, products ProductResolver, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:    store,
		products: products,
		logger:   logger,
		now:      time.Now,
		lines:    make(map[string]domain.CartLine),
		pending:  make(map[string]map[string]struct{}),
	}
}

func collectionPath(uid string) string {
	return docstore.Join("users", uid, "cart")
}

func linePath(uid, lineID string) string {
	return docstore.Join("users", uid, "cart", lineID)
}

func (l *Ledger) UID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.uid
}

func (l *Ledger) boundUID() (string, error) {
	uid := l.UID()
	if uid == "" {
		return "", domain.ErrNotAuthenticated
	}
	return uid, nil
}

// Snapshot returns the lines ordered by AddedAt together with their total.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	lines := make([]domain.CartLine, 0, len(l.lines))
	for _, line := range l.lines {
		lines = append(lines, line)
	}
	slices.SortFunc(lines, func(a, b domain.CartLine) int {
		if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
			return c
		}
		if a.ID() < b.ID() {
			return -1
		}
		if a.ID() > b.ID() {
			return 1
		}
		return 0
	})
	return Snapshot{UID: l.uid, Lines: lines, Total: l.total, Version: l.version}
}

func (l *Ledger) Lines() []domain.CartLine {
	return l.Snapshot().Lines
}

func (l *Ledger) Total() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Count is the number of units across all lines.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, line := range l.lines {
		n += line.Quantity
	}
	return n
}

func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// mutateLocked applies fn to the mirror and recomputes the total. Callers
// hold l.mu.
func (l *Ledger) mutateLocked(fn func(lines map[string]domain.CartLine)) {
	fn(l.lines)
	total := decimal.Zero
	for _, line := range l.lines {
		total = total.Add(line.Subtotal())
	}
	l.total = total
	l.version++
}

// Add puts qty units of product in the given size into the cart.
func (l *Ledger) Add(ctx context.Context, product domain.Product, size string, qty int) error {
	uid, err := l.boundUID()
	if err != nil {
		return err
	}
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", domain.ErrValidation)
	}
	if product.ID == "" || product.Slug == "" {
		return fmt.Errorf("%w: product without id or slug", domain.ErrValidation)
	}
	if size != "" && len(product.Sizes) > 0 && !slices.Contains(product.Sizes, size) {
		return fmt.Errorf("%w: size %q not offered for %s", domain.ErrValidation, size, product.Slug)
	}

	lineID := domain.LineID(product.Slug, size)
	path := linePath(uid, lineID)

	snap, err := l.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: read cart line %s: %w", domain.ErrPersistence, lineID, err)
	}
	current := int(snap.Data.Int64("qty"))
	now := l.now()
	addedAt := now
	if snap.Exists() {
		if t := snap.Data.Time("addedAt"); !t.IsZero() {
			addedAt = t
		}
	}

	next := domain.CartLine{
		Product:   product,
		Size:      size,
		Quantity:  current + qty,
		AddedAt:   addedAt,
		UpdatedAt: now,
	}
	l.mu.Lock()
	if l.uid != uid {
		l.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	l.mutateLocked(func(lines map[string]domain.CartLine) { lines[lineID] = next })
	if p := l.pending[uid]; p != nil {
		delete(p, lineID)
	}
	l.mu.Unlock()

	data := docstore.Data{
		"productRef": product.Ref(),
		"slug":       product.Slug,
		"size":       size,
		"qty":        next.Quantity,
		"updatedAt":  docstore.ServerTimestamp,
	}
	if !snap.Exists() {
		data["addedAt"] = docstore.ServerTimestamp
	}
	if err := l.store.Set(ctx, path, data, docstore.Merge()); err != nil {
		return l.writeFailed(ctx, uid, "add", lineID, err)
	}
	return nil
}

func (l *Ledger) Increment(ctx context.Context, slug, size string) error {
	return l.adjust(ctx, domain.LineID(slug, size), 1)
}

// Decrement lowers the quantity by one but never below 1; removing a line
// takes an explicit Remove.
func (l *Ledger) Decrement(ctx context.Context, slug, size string) error {
	return l.adjust(ctx, domain.LineID(slug, size), -1)
}

// adjust reads the persisted quantity and writes it back shifted by delta.
// Concurrent adjustments of one line are last-write-wins.
func (l *Ledger) adjust(ctx context.Context, lineID string, delta int) error {
	uid, err := l.boundUID()
	if err != nil {
		return err
	}

	l.mu.RLock()
	line, ok := l.lines[lineID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: cart line %s", domain.ErrNotFound, lineID)
	}

	path := linePath(uid, lineID)
	snap, err := l.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: read cart line %s: %w", domain.ErrPersistence, lineID, err)
	}
	if !snap.Exists() {
		// removed elsewhere; drop it here instead of writing it back
		l.mu.Lock()
		if l.uid == uid {
			l.mutateLocked(func(lines map[string]domain.CartLine) { delete(lines, lineID) })
		}
		l.mu.Unlock()
		return fmt.Errorf("%w: cart line %s", domain.ErrNotFound, lineID)
	}
	qty := max(1, int(snap.Data.Int64("qty"))+delta)

	line.Quantity = qty
	line.UpdatedAt = l.now()
	l.mu.Lock()
	if l.uid != uid {
		l.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	l.mutateLocked(func(lines map[string]domain.CartLine) { lines[lineID] = line })
	l.mu.Unlock()

	data := docstore.Data{
		"productRef": line.Product.Ref(),
		"slug":       line.Product.Slug,
		"size":       line.Size,
		"qty":        qty,
		"updatedAt":  docstore.ServerTimestamp,
	}
	if err := l.store.Set(ctx, path, data, docstore.Merge()); err != nil {
		return l.writeFailed(ctx, uid, "adjust", lineID, err)
	}
	return nil
}

// Remove drops the line from the mirror and deletes it from the store. A
// failed delete is logged and retried on the next reload.
func (l *Ledger) Remove(ctx context.Context, slug, size string) error {
	uid, err := l.boundUID()
	if err != nil {
		return err
	}
	lineID := domain.LineID(slug, size)

	l.mu.Lock()
	l.mutateLocked(func(lines map[string]domain.CartLine) { delete(lines, lineID) })
	l.mu.Unlock()

	if err := l.store.Delete(ctx, linePath(uid, lineID)); err != nil {
		l.logger.Warn("failed to delete cart line, queued for retry",
			"uid", uid, "line_id", lineID, "error", err)
		l.queueDelete(uid, lineID)
	}
	return nil
}

// Clear removes lines from the mirror at once and deletes them from the
// store concurrently. With no line ids every mirrored line is cleared; stored
// lines the mirror does not hold are left for the next reload. Failed deletes
// are reported and queued for retry.
func (l *Ledger) Clear(ctx context.Context, lineIDs ...string) ClearResult {
	uid := l.UID()
	if uid == "" {
		return ClearResult{}
	}

	l.mu.Lock()
	ids := make(map[string]struct{}, len(l.lines))
	if len(lineIDs) == 0 {
		for id := range l.lines {
			ids[id] = struct{}{}
		}
	} else {
		for _, id := range lineIDs {
			ids[id] = struct{}{}
		}
	}
	l.mutateLocked(func(lines map[string]domain.CartLine) {
		for id := range ids {
			delete(lines, id)
		}
	})
	l.mu.Unlock()

	var (
		resMu  sync.Mutex
		result ClearResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clearConcurrency)
	for id := range ids {
		g.Go(func() error {
			err := l.store.Delete(gctx, linePath(uid, id))
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, domain.FailedDelete{LineID: id, Err: err})
				return nil
			}
			result.Deleted = append(result.Deleted, id)
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(result.Deleted)
	slices.SortFunc(result.Failed, func(a, b domain.FailedDelete) int {
		if a.LineID < b.LineID {
			return -1
		}
		if a.LineID > b.LineID {
			return 1
		}
		return 0
	})
	for _, f := range result.Failed {
		l.queueDelete(uid, f.LineID)
	}
	return result
}

// Pending returns the line ids still waiting for a retried delete.
func (l *Ledger) Pending(uid string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.pending[uid]))
	for id := range l.pending[uid] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (l *Ledger) queueDelete(uid, lineID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending[uid] == nil {
		l.pending[uid] = make(map[string]struct{})
	}
	l.pending[uid][lineID] = struct{}{}
}

// writeFailed reconciles the mirror with the store after a failed write and
// reports the original error.
func (l *Ledger) writeFailed(ctx context.Context, uid, op, lineID string, err error) error {
	l.logger.Warn("cart write failed, reconciling",
		"uid", uid, "op", op, "line_id", lineID, "error", err)
	if rerr := l.Reload(ctx, uid); rerr != nil {
		l.logger.Error("cart reconciliation failed", "uid", uid, "error", rerr)
	}
	return fmt.Errorf("%w: %s cart line %s: %w", domain.ErrPersistence, op, lineID, err)
}

// Reload binds the ledger to uid and rebuilds the mirror from the store.
// An empty uid unbinds it. Queued deletes are retried first and lines whose
// product no longer resolves are dropped.
func (l *Ledger) Reload(ctx context.Context, uid string) error {
	if uid == "" {
		l.mu.Lock()
		l.uid = ""
		l.mutateLocked(func(lines map[string]domain.CartLine) { clear(lines) })
		l.mu.Unlock()
		return nil
	}

	v, err, _ := l.reloads.Do(uid, func() (any, error) {
		return l.fetch(ctx, uid)
	})
	if err != nil {
		return err
	}
	fresh := v.(map[string]domain.CartLine)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.uid = uid
	l.mutateLocked(func(lines map[string]domain.CartLine) {
		clear(lines)
		for id, line := range fresh {
			if _, queued := l.pending[uid][id]; queued {
				continue
			}
			lines[id] = line
		}
	})
	return nil
}

func (l *Ledger) fetch(ctx context.Context, uid string) (map[string]domain.CartLine, error) {
	l.retryPending(ctx, uid)

	snaps, err := l.store.Query(ctx, docstore.Collection(collectionPath(uid)))
	if err != nil {
		return nil, fmt.Errorf("%w: load cart: %w", domain.ErrPersistence, err)
	}

	lines := make(map[string]domain.CartLine, len(snaps))
	for _, s := range snaps {
		ref := s.Data.String("productRef")
		id, ok := domain.ProductIDFromRef(ref)
		if !ok {
			l.logger.Debug("dropping cart line with bad product ref", "uid", uid, "line_id", s.ID, "ref", ref)
			continue
		}
		product, err := l.products.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			l.logger.Debug("dropping cart line for missing product", "uid", uid, "line_id", s.ID, "product_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve product %s: %w", id, err)
		}

		qty := int(s.Data.Int64("qty"))
		if qty < 1 {
			qty = 1
		}
		lines[s.ID] = domain.CartLine{
			Product:   *product,
			Size:      s.Data.String("size"),
			Quantity:  qty,
			AddedAt:   s.Data.Time("addedAt"),
			UpdatedAt: s.Data.Time("updatedAt"),
		}
	}
	return lines, nil
}

func (l *Ledger) retryPending(ctx context.Context, uid string) {
	for _, id := range l.Pending(uid) {
		if err := l.store.Delete(ctx, linePath(uid, id)); err != nil {
			l.logger.Warn("retried cart line delete failed", "uid", uid, "line_id", id, "error", err)
			continue
		}
		l.mu.Lock()
		delete(l.pending[uid], id)
		l.mu.Unlock()
	}
}
