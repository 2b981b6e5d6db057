package sequencer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
)

func setupRedisSequencer(t *testing.T, policy docstore.RetryPolicy) (*RedisSequencer, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSequencer(client, policy), mr
}

func TestRedisSequencer_Next(t *testing.T) {
	seq, mr := setupRedisSequencer(t, docstore.DefaultRetryPolicy())
	ctx := context.Background()

	got, err := seq.Next(ctx, "202500")
	require.NoError(t, err)
	assert.Equal(t, "2025000001", got)

	mr.Set("order_counters:202500", "9998")
	got, err = seq.Next(ctx, "202500")
	require.NoError(t, err)
	assert.Equal(t, "2025009999", got)

	got, err = seq.Next(ctx, "202500")
	require.NoError(t, err)
	assert.Equal(t, "20250010000", got)
}

func TestRedisSequencer_Concurrent(t *testing.T) {
	policy := docstore.RetryPolicy{MaxAttempts: 100, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	seq, mr := setupRedisSequencer(t, policy)
	ctx := context.Background()

	const n = 10
	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := seq.Next(ctx, "202500")
			assert.NoError(t, err)
			results <- num
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for num := range results {
		seen[num] = true
	}
	assert.Len(t, seen, n)

	stored, err := mr.Get("order_counters:202500")
	require.NoError(t, err)
	assert.Equal(t, "10", stored)
}

func TestRedisSequencer_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	seq := NewRedisSequencer(client, docstore.RetryPolicy{MaxAttempts: 1})

	_, err := seq.Next(context.Background(), "202500")
	assert.ErrorIs(t, err, domain.ErrSequencerUnavailable)
}
