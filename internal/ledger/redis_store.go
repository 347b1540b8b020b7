package ledger

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/ritikjain6521/indeed-scraper/internal/config"
)

const appendBatchSize = 500

// RedisStore keeps the dedup key set in a Redis set.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore initialises a Redis-backed ledger store.
func NewRedisStore(cfg config.RedisLedgerConfig) *RedisStore {
	key := cfg.Key
	if key == "" {
		key = "indeed:ledger"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		key: key,
	}
}

// Load returns all persisted keys.
func (s *RedisStore) Load(ctx context.Context) ([]string, error) {
	keys, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Append adds this run's keys to the persisted set in batches.
func (s *RedisStore) Append(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += appendBatchSize {
		end := start + appendBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		members := make([]interface{}, 0, end-start)
		for _, k := range keys[start:end] {
			members = append(members, k)
		}
		if err := s.client.SAdd(ctx, s.key, members...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops the persisted set.
func (s *RedisStore) Reset(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
