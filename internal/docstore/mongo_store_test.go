package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupMongoStore(t *testing.T) (*MongoStore, func()) {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	// transactions require a replica set
	mongoContainer, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	store := NewMongoStore(db, DefaultRetryPolicy())
	require.NoError(t, store.CreateIndexes(ctx, "cart", "orders", "order_counters"))

	cleanup := func() {
		_ = store.Close(ctx)
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return store, cleanup
}

func TestMongoStore_Documents(t *testing.T) {
	store, cleanup := setupMongoStore(t)
	defer cleanup()
	ctx := context.Background()

	snap, err := store.Get(ctx, "users/u1/cart/shirt")
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	require.NoError(t, store.Set(ctx, "users/u1/cart/shirt", Data{"qty": 1, "size": "M"}))
	require.NoError(t, store.Set(ctx, "users/u1/cart/shirt", Data{"qty": 2}, Merge()))
	require.NoError(t, store.Set(ctx, "users/u2/cart/shirt", Data{"qty": 7}))

	snap, err = store.Get(ctx, "users/u1/cart/shirt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Data.Int64("qty"))
	assert.Equal(t, "M", snap.Data.String("size"))
	assert.NotContains(t, snap.Data, parentField)

	snaps, err := store.Query(ctx, Collection("users/u1/cart"))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "shirt", snaps[0].ID)
	assert.Equal(t, "users/u1/cart/shirt", snaps[0].Path)

	err = store.Update(ctx, "users/u1/cart/missing", Data{"qty": 1})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "users/u1/cart/shirt"))
	snap, err = store.Get(ctx, "users/u1/cart/shirt")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestMongoStore_CreateAndQueryOrders(t *testing.T) {
	store, cleanup := setupMongoStore(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, "orders/o1", Data{"userId": "u1", "createdAt": base}))
	require.NoError(t, store.Create(ctx, "orders/o2", Data{"userId": "u1", "createdAt": base.Add(time.Hour)}))
	require.NoError(t, store.Create(ctx, "orders/o3", Data{"userId": "u2", "createdAt": base}))

	err := store.Create(ctx, "orders/o1", Data{"userId": "u1"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	snaps, err := store.Query(ctx, Collection("orders").Where("userId", "u1").OrderBy("createdAt", Desc))
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "o2", snaps[0].ID)
	assert.Equal(t, base.Add(time.Hour), snaps[0].Data.Time("createdAt"))
}

func TestMongoStore_Transaction(t *testing.T) {
	store, cleanup := setupMongoStore(t)
	defer cleanup()
	ctx := context.Background()
	path := "order_counters/202500"

	for i := 0; i < 3; i++ {
		err := store.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			snap, err := tx.Get(path)
			if err != nil {
				return err
			}
			return tx.Set(path, Data{"seq": snap.Data.Int64("seq") + 1, "updatedAt": ServerTimestamp})
		})
		require.NoError(t, err)
	}

	snap, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Data.Int64("seq"))
	assert.False(t, snap.Data.Time("updatedAt").IsZero())

	boom := errors.New("boom")
	err = store.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Set(path, Data{"seq": 100}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	snap, err = store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Data.Int64("seq"))
}
