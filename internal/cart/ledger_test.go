package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
)

var errUnavailable = errors.New("store unavailable")

// mockProducts resolves products from a map.
type mockProducts struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

func newMockProducts(ps ...domain.Product) *mockProducts {
	m := &mockProducts{products: make(map[string]domain.Product)}
	for _, p := range ps {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockProducts) Get(_ context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *mockProducts) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
}

// flakyStore fails writes and deletes whose path contains a marked substring.
type flakyStore struct {
	*docstore.MemoryStore
	mu         sync.Mutex
	failSet    string
	failDelete string
}

func (s *flakyStore) setFailures(set, del string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSet, s.failDelete = set, del
}

func (s *flakyStore) Set(ctx context.Context, path string, data docstore.Data, opts ...docstore.SetOption) error {
	s.mu.Lock()
	fail := s.failSet != "" && strings.Contains(path, s.failSet)
	s.mu.Unlock()
	if fail {
		return errUnavailable
	}
	return s.MemoryStore.Set(ctx, path, data, opts...)
}

func (s *flakyStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	fail := s.failDelete != "" && strings.Contains(path, s.failDelete)
	s.mu.Unlock()
	if fail {
		return errUnavailable
	}
	return s.MemoryStore.Delete(ctx, path)
}

func shirt() domain.Product {
	return domain.Product{ID: "p1", Slug: "linen-shirt", Title: "Linen Shirt", Price: decimal.NewFromInt(500), Sizes: []string{"S", "M", "L"}}
}

func scarf() domain.Product {
	return domain.Product{ID: "p2", Slug: "silk-scarf", Title: "Silk Scarf", Price: decimal.RequireFromString("19.99")}
}

func setupLedger(t *testing.T) (*Ledger, *flakyStore, *mockProducts) {
	store := &flakyStore{MemoryStore: docstore.NewMemoryStore()}
	products := newMockProducts(shirt(), scarf())
	l := NewLedger(store, products, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, l.Reload(context.Background(), "u1"))
	return l, store, products
}

func persistedQty(t *testing.T, store docstore.Store, uid, lineID string) (int64, bool) {
	snap, err := store.Get(context.Background(), linePath(uid, lineID))
	require.NoError(t, err)
	return snap.Data.Int64("qty"), snap.Exists()
}

func TestAdd_NotAuthenticated(t *testing.T) {
	l := NewLedger(docstore.NewMemoryStore(), newMockProducts(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := l.Add(context.Background(), shirt(), "M", 1)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestAdd_Validation(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()

	assert.ErrorIs(t, l.Add(ctx, shirt(), "M", 0), domain.ErrValidation)
	assert.ErrorIs(t, l.Add(ctx, shirt(), "XXL", 1), domain.ErrValidation)
	assert.True(t, l.Snapshot().IsEmpty())
}

func TestAdd_AccumulatesPersistedQuantity(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Add(ctx, shirt(), "M", 2))
	require.NoError(t, l.Add(ctx, shirt(), "M", 1))
	require.NoError(t, l.Add(ctx, shirt(), "L", 1))

	qty, ok := persistedQty(t, store, "u1", "linen-shirt__M")
	require.True(t, ok)
	assert.Equal(t, int64(3), qty)

	snap, err := store.Get(ctx, linePath("u1", "linen-shirt__M"))
	require.NoError(t, err)
	assert.Equal(t, "products/p1", snap.Data.String("productRef"))
	assert.Equal(t, "M", snap.Data.String("size"))
	assert.False(t, snap.Data.Time("addedAt").IsZero())

	lines := l.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, 4, l.Count())
	assert.True(t, decimal.NewFromInt(2000).Equal(l.Total()))
}

func TestAdd_WithoutSizeUsesSlugAsLineID(t *testing.T) {
	l, store, _ := setupLedger(t)

	require.NoError(t, l.Add(context.Background(), scarf(), "", 1))
	_, ok := persistedQty(t, store, "u1", "silk-scarf")
	assert.True(t, ok)
}

func TestTotal_IdempotentOverAddRemove(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, scarf(), "", 3))
	before := l.Total()

	require.NoError(t, l.Add(ctx, shirt(), "M", 2))
	assert.False(t, before.Equal(l.Total()))
	require.NoError(t, l.Remove(ctx, "linen-shirt", "M"))

	assert.True(t, before.Equal(l.Total()), "want %s, got %s", before, l.Total())
}

func TestDecrement_FloorsAtOne(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, shirt(), "S", 1))

	require.NoError(t, l.Decrement(ctx, "linen-shirt", "S"))
	require.NoError(t, l.Decrement(ctx, "linen-shirt", "S"))

	qty, ok := persistedQty(t, store, "u1", "linen-shirt__S")
	require.True(t, ok)
	assert.Equal(t, int64(1), qty)
	require.Len(t, l.Lines(), 1)
	assert.Equal(t, 1, l.Lines()[0].Quantity)
}

func TestIncrement_ReadsPersistedQuantity(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, shirt(), "M", 1))

	// another session bumped the line to 5
	require.NoError(t, store.MemoryStore.Set(ctx, linePath("u1", "linen-shirt__M"), docstore.Data{"qty": 5}, docstore.Merge()))

	require.NoError(t, l.Increment(ctx, "linen-shirt", "M"))
	qty, _ := persistedQty(t, store, "u1", "linen-shirt__M")
	assert.Equal(t, int64(6), qty)
	assert.Equal(t, 6, l.Lines()[0].Quantity)
}

func TestIncrement_LineRemovedElsewhere(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, shirt(), "M", 1))
	require.NoError(t, store.MemoryStore.Delete(ctx, linePath("u1", "linen-shirt__M")))

	err := l.Increment(ctx, "linen-shirt", "M")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, l.Lines())
	_, ok := persistedQty(t, store, "u1", "linen-shirt__M")
	assert.False(t, ok)

	assert.ErrorIs(t, l.Decrement(ctx, "linen-shirt", "M"), domain.ErrNotFound)
}

func TestIncrement_UnknownLine(t *testing.T) {
	l, _, _ := setupLedger(t)

	err := l.Increment(context.Background(), "nope", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdd_WriteFailureReconciles(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, scarf(), "", 1))
	store.setFailures("linen-shirt", "")
	before := l.Version()

	err := l.Add(ctx, shirt(), "M", 2)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, errUnavailable)

	lines := l.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "silk-scarf", lines[0].ID())
	assert.Greater(t, l.Version(), before)
}

func TestRemove_FailureStillRemovesFromMirrorAndRetries(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, shirt(), "M", 1))
	store.setFailures("", "linen-shirt")

	require.NoError(t, l.Remove(ctx, "linen-shirt", "M"))
	assert.Empty(t, l.Lines())
	assert.Equal(t, []string{"linen-shirt__M"}, l.Pending("u1"))

	// still failing: the queued line stays hidden from the mirror
	require.NoError(t, l.Reload(ctx, "u1"))
	assert.Empty(t, l.Lines())

	store.setFailures("", "")
	require.NoError(t, l.Reload(ctx, "u1"))
	assert.Empty(t, l.Pending("u1"))
	_, ok := persistedQty(t, store, "u1", "linen-shirt__M")
	assert.False(t, ok)
}

func TestAdd_ClearsQueuedDelete(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, shirt(), "M", 1))
	store.setFailures("", "linen-shirt")
	require.NoError(t, l.Remove(ctx, "linen-shirt", "M"))

	require.NoError(t, l.Add(ctx, shirt(), "M", 1))
	assert.Empty(t, l.Pending("u1"))
	assert.Len(t, l.Lines(), 1)
}

func TestClear_ReportsFailures(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, shirt(), "M", 1))
	require.NoError(t, l.Add(ctx, scarf(), "", 2))
	store.setFailures("", "silk-scarf")

	result := l.Clear(ctx)
	assert.Empty(t, l.Lines())
	assert.True(t, l.Total().IsZero())
	assert.Equal(t, []string{"linen-shirt__M"}, result.Deleted)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "silk-scarf", result.Failed[0].LineID)

	var partial *domain.PartialCleanupError
	require.ErrorAs(t, result.Err(), &partial)
	assert.ErrorIs(t, result.Err(), errUnavailable)
	assert.Equal(t, []string{"silk-scarf"}, l.Pending("u1"))
}

func TestClear_LeavesLinesMissingFromMirror(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, shirt(), "M", 1))
	// written by another session after the mirror loaded
	require.NoError(t, store.MemoryStore.Set(ctx, linePath("u1", "silk-scarf"), docstore.Data{"productRef": "products/p2", "slug": "silk-scarf", "qty": 1}))

	result := l.Clear(ctx)
	assert.NoError(t, result.Err())
	assert.Equal(t, []string{"linen-shirt__M"}, result.Deleted)
	_, ok := persistedQty(t, store, "u1", "silk-scarf")
	assert.True(t, ok)
}

func TestClear_OnlyNamedLines(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, shirt(), "M", 1))
	require.NoError(t, l.Add(ctx, scarf(), "", 2))

	result := l.Clear(ctx, "linen-shirt__M")
	assert.NoError(t, result.Err())
	assert.Equal(t, []string{"linen-shirt__M"}, result.Deleted)

	lines := l.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "silk-scarf", lines[0].ID())
	_, ok := persistedQty(t, store, "u1", "silk-scarf")
	assert.True(t, ok)
	_, ok = persistedQty(t, store, "u1", "linen-shirt__M")
	assert.False(t, ok)
}

func TestReload_DropsUnresolvedProducts(t *testing.T) {
	l, _, products := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, shirt(), "M", 1))
	require.NoError(t, l.Add(ctx, scarf(), "", 1))

	products.remove("p2")
	require.NoError(t, l.Reload(ctx, "u1"))

	lines := l.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "linen-shirt__M", lines[0].ID())
	assert.True(t, decimal.NewFromInt(500).Equal(l.Total()))
}

func TestReload_SwitchesUser(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Add(ctx, shirt(), "M", 1))

	require.NoError(t, l.Reload(ctx, "u2"))
	assert.Equal(t, "u2", l.UID())
	assert.Empty(t, l.Lines())

	require.NoError(t, l.Reload(ctx, ""))
	assert.Equal(t, "", l.UID())
	assert.ErrorIs(t, l.Add(ctx, shirt(), "M", 1), domain.ErrNotAuthenticated)

	require.NoError(t, l.Reload(ctx, "u1"))
	assert.Len(t, l.Lines(), 1)
}
