package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "report:metadata:"

// RedisStore shares fetched configurations between service instances.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]Field, bool, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false, err
	}
	return fields, true, nil
}

func (s *RedisStore) Store(ctx context.Context, key string, fields []Field, ttl time.Duration) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisKeyPrefix+key, data, ttl).Err()
}
