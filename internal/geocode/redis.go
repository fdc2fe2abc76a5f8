package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

// DefaultRedisHash is the hash holding every resolved query.
const DefaultRedisHash = "geocode"

// RedisStore keeps entries as JSON fields of one Redis hash.
type RedisStore struct {
	client *redis.Client
	hash   string
}

// NewRedisStore connects to addr and verifies it with PING.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return &RedisStore{client: rdb, hash: DefaultRedisHash}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (models.Coordinate, bool, error) {
	raw, err := s.client.HGet(ctx, s.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Coordinate{}, false, nil
	}
	if err != nil {
		return models.Coordinate{}, false, fmt.Errorf("redis hget %s: %w", key, err)
	}
	var c models.Coordinate
	if err := json.Unmarshal(raw, &c); err != nil {
		return models.Coordinate{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return c, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, c models.Coordinate) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.HSet(ctx, s.hash, key, raw).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
