package sequencer

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hashstyles/hashstyles/internal/docstore"
	"github.com/hashstyles/hashstyles/internal/domain"
)

// RedisSequencer keeps counters under order_counters:{prefix} and
// increments them in a WATCH/MULTI transaction. A concurrent writer makes
// EXEC fail with redis.TxFailedErr, which is retried under the policy.
type RedisSequencer struct {
	client *redis.Client
	retry  docstore.RetryPolicy
}

func NewRedisSequencer(client *redis.Client, policy docstore.RetryPolicy) *RedisSequencer {
	return &RedisSequencer{client: client, retry: policy}
}

func (s *RedisSequencer) key(prefix string) string {
	return countersCollection + ":" + prefix
}

func (s *RedisSequencer) Next(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty prefix", domain.ErrValidation)
	}
	key := s.key(prefix)

	var next int64
	err := s.retry.Do(ctx, isTxFailed, func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("failed to read counter: %w", err)
			}
			candidate := current + 1

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, candidate, 0)
				return nil
			})
			if err != nil {
				return err
			}
			next = candidate
			return nil
		}, key)
	})
	if err != nil {
		return "", unavailable(err)
	}
	return Format(prefix, next), nil
}

func isTxFailed(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}
