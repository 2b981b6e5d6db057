package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
	"github.com/hashstyles/hashstyles/internal/slot"
)

func sampleOrder(uid, number string) *domain.Order {
	return &domain.Order{
		OrderNumber: number,
		UserID:      uid,
		Items: []domain.OrderItem{{
			ProductRef: "products/p1",
			Title:      "Linen Shirt",
			Slug:       "linen-shirt",
			Price:      decimal.RequireFromString("499.50"),
			Quantity:   2,
			Size:       "M",
		}},
		Subtotal: decimal.RequireFromString("999"),
		Shipping: decimal.Zero,
		Total:    decimal.RequireFromString("999"),
		Address:  domain.Address{ID: "a1", Name: "Ana", Line1: "1 Main St", City: "Lisbon", PostalCode: "1000", Phone: "555"},
		Status:   domain.OrderStatusProcessing,
	}
}

func setup(t *testing.T) (*Reader, *docstore.MemoryStore, *slot.MemoryStore) {
	t.Helper()
	ticks := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := docstore.NewMemoryStore(docstore.WithClock(func() time.Time {
		ticks = ticks.Add(time.Minute)
		return ticks
	}))
	slots := slot.NewMemoryStore(time.Hour)
	return NewReader(store, slots), store, slots
}

func TestCodecRoundTrip(t *testing.T) {
	r, store, _ := setup(t)
	ctx := context.Background()

	in := sampleOrder("u1", "2025000001")
	require.NoError(t, store.Create(ctx, Path("o1"), ToData(in)))

	got, err := r.Get(ctx, "u1", "o1")
	require.NoError(t, err)

	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, "2025000001", got.OrderNumber)
	assert.True(t, got.Total.Equal(in.Total))
	assert.True(t, got.Items[0].Price.Equal(in.Items[0].Price))
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Equal(t, "a1", got.Address.ID)
	assert.Equal(t, "Lisbon", got.Address.City)
	assert.Equal(t, domain.OrderStatusProcessing, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetOwnership(t *testing.T) {
	r, store, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Path("o1"), ToData(sampleOrder("u1", "2025000001"))))

	_, err := r.Get(ctx, "u2", "o1")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = r.Get(ctx, "", "o1")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, err = r.Get(ctx, "u1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.Get(ctx, "u1", "a/b")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	r, store, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, Path("o1"), ToData(sampleOrder("u1", "2025000001"))))
	require.NoError(t, store.Create(ctx, Path("o2"), ToData(sampleOrder("u2", "2025000002"))))
	require.NoError(t, store.Create(ctx, Path("o3"), ToData(sampleOrder("u1", "2025000003"))))

	list, err := r.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "o3", list[0].ID)
	assert.Equal(t, "o1", list[1].ID)

	list, err = r.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLastPlacedConsumesSlot(t *testing.T) {
	r, store, slots := setup(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Path("o1"), ToData(sampleOrder("u1", "2025000001"))))
	require.NoError(t, slots.Set(ctx, "u1", slot.KeyLastOrder, "o1"))

	o, err := r.LastPlaced(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)

	_, err = r.LastPlaced(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLastPlacedForeignOrder(t *testing.T) {
	r, store, slots := setup(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Path("o1"), ToData(sampleOrder("u1", "2025000001"))))
	require.NoError(t, slots.Set(ctx, "u2", slot.KeyLastOrder, "o1"))

	_, err := r.LastPlaced(ctx, "u2")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}
