package addressbook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
)

func newTestBook(store docstore.Store) *Book {
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sampleAddress(name string) domain.Address {
	return domain.Address{
		Name:       name,
		Line1:      "1 Main St",
		City:       "Springfield",
		PostalCode: "12345",
		Phone:      "555-0100",
	}
}

func countDefaults(addrs []domain.Address) int {
	n := 0
	for _, a := range addrs {
		if a.IsDefault {
			n++
		}
	}
	return n
}

func TestAdd_FirstBecomesDefault(t *testing.T) {
	book := newTestBook(docstore.NewMemoryStore())
	ctx := context.Background()

	first, err := book.Add(ctx, "u1", sampleAddress("Home"))
	require.NoError(t, err)
	assert.True(t, first.IsDefault)
	assert.NotEmpty(t, first.ID)

	second, err := book.Add(ctx, "u1", sampleAddress("Work"))
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	list, err := book.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, 1, countDefaults(list))
}

func TestAdd_RejectsBlankRequiredFields(t *testing.T) {
	store := docstore.NewMemoryStore()
	book := newTestBook(store)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(a *domain.Address)
	}{
		{"name", func(a *domain.Address) { a.Name = "" }},
		{"line1", func(a *domain.Address) { a.Line1 = "   " }},
		{"city", func(a *domain.Address) { a.City = "" }},
		{"postal code", func(a *domain.Address) { a.PostalCode = "\t" }},
		{"phone", func(a *domain.Address) { a.Phone = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := sampleAddress("Home")
			tt.mutate(&addr)
			_, err := book.Add(ctx, "u1", addr)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	snaps, err := store.Query(ctx, docstore.Collection("users/u1/addresses"))
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestAdd_Line2Optional(t *testing.T) {
	book := newTestBook(docstore.NewMemoryStore())

	addr := sampleAddress("Home")
	addr.Line2 = ""
	_, err := book.Add(context.Background(), "u1", addr)
	assert.NoError(t, err)
}

func TestAdd_NoUser(t *testing.T) {
	book := newTestBook(docstore.NewMemoryStore())

	_, err := book.Add(context.Background(), "", sampleAddress("Home"))
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestSetDefault_ExactlyOneDefault(t *testing.T) {
	book := newTestBook(docstore.NewMemoryStore())
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"Home", "Work", "Parents"} {
		a, err := book.Add(ctx, "u1", sampleAddress(name))
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	for _, target := range []string{ids[2], ids[1], ids[1], ids[0], ids[2]} {
		require.NoError(t, book.SetDefault(ctx, "u1", target))

		list, err := book.List(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, countDefaults(list))
		assert.Equal(t, target, list[0].ID)
	}
}

func TestSetDefault_UnknownID(t *testing.T) {
	book := newTestBook(docstore.NewMemoryStore())
	ctx := context.Background()
	a, err := book.Add(ctx, "u1", sampleAddress("Home"))
	require.NoError(t, err)

	err = book.SetDefault(ctx, "u1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := book.Get(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)
}

func TestSetDefault_ScopedToUser(t *testing.T) {
	book := newTestBook(docstore.NewMemoryStore())
	ctx := context.Background()
	other, err := book.Add(ctx, "u2", sampleAddress("Other"))
	require.NoError(t, err)
	_, err = book.Add(ctx, "u1", sampleAddress("Home"))
	require.NoError(t, err)

	err = book.SetDefault(ctx, "u1", other.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdd_RepairsMissingDefault(t *testing.T) {
	store := docstore.NewMemoryStore()
	book := newTestBook(store)
	ctx := context.Background()

	// legacy data written without any default
	require.NoError(t, store.Set(ctx, "users/u1/addresses/legacy", docstore.Data{
		"name": "Legacy", "line1": "x", "city": "y", "postalCode": "z", "phone": "p",
		"isDefault": false, "createdAt": docstore.ServerTimestamp,
	}))

	_, err := book.Add(ctx, "u1", sampleAddress("Home"))
	require.NoError(t, err)

	list, err := book.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, countDefaults(list))
	assert.Equal(t, "legacy", list[0].ID)
}

func TestResolve_Order(t *testing.T) {
	book := newTestBook(docstore.NewMemoryStore())
	ctx := context.Background()

	_, err := book.Resolve(ctx, "u1", "")
	assert.ErrorIs(t, err, domain.ErrNoAddress)

	home, err := book.Add(ctx, "u1", sampleAddress("Home"))
	require.NoError(t, err)
	work, err := book.Add(ctx, "u1", sampleAddress("Work"))
	require.NoError(t, err)

	got, err := book.Resolve(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, home.ID, got.ID)

	got, err = book.Resolve(ctx, "u1", work.ID)
	require.NoError(t, err)
	assert.Equal(t, work.ID, got.ID)

	got, err = book.Resolve(ctx, "u1", "deleted-id")
	require.NoError(t, err)
	assert.Equal(t, home.ID, got.ID)
}

// failingBatchStore rejects every batch commit.
type failingBatchStore struct {
	docstore.Store
}

type failingBatch struct{ docstore.WriteBatch }

func (failingBatch) Commit(context.Context) error { return errors.New("unavailable") }

func (s failingBatchStore) Batch() docstore.WriteBatch {
	return failingBatch{s.Store.Batch()}
}

func TestSetDefault_BatchFailure(t *testing.T) {
	mem := docstore.NewMemoryStore()
	book := newTestBook(mem)
	ctx := context.Background()
	a, err := book.Add(ctx, "u1", sampleAddress("Home"))
	require.NoError(t, err)

	err = newTestBook(failingBatchStore{mem}).SetDefault(ctx, "u1", a.ID)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestToDataRoundTrip(t *testing.T) {
	a := sampleAddress("Home")
	a.ID = "a1"
	a.Line2 = "Apt 4"
	a.IsDefault = true
	assert.Equal(t, a, FromData(ToData(a)))
}
