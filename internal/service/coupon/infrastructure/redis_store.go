// internal/service/coupon/infrastructure/redis_store.go
package infrastructure

import (
	"context"
	"time"

	"bazaar/internal/pkg/redis"

	goredis "github.com/redis/go-redis/v9"
)

// RedisCounterSetStore 基于 Redis 原生原子命令实现 CounterSetStore。
// 所有键都带 hash tag，保证同一活动的计数器和集合落在同一个 slot。
type RedisCounterSetStore struct {
	client goredis.UniversalClient
}

func NewRedisCounterSetStore(client *redis.Client) *RedisCounterSetStore {
	return &RedisCounterSetStore{client: client.GetClient()}
}

func (s *RedisCounterSetStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisCounterSetStore) Get(ctx context.Context, key string) (int64, error) {
	return s.client.Get(ctx, key).Int64()
}

func (s *RedisCounterSetStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisCounterSetStore) Decr(ctx context.Context, key string) (int64, error) {
	return s.client.Decr(ctx, key).Result()
}

func (s *RedisCounterSetStore) SAdd(ctx context.Context, key, member string) (bool, error) {
	added, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

func (s *RedisCounterSetStore) SRem(ctx context.Context, key, member string) error {
	return s.client.SRem(ctx, key, member).Err()
}

func (s *RedisCounterSetStore) SCard(ctx context.Context, key string) (int64, error) {
	return s.client.SCard(ctx, key).Result()
}

func (s *RedisCounterSetStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisCounterSetStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}
