package stream

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Store is the shared list/pub-sub store backing real-time build output and
// live-dashboard notifications. Implementations must be safe for concurrent
// use.
type Store interface {
	Append(ctx context.Context, key string, record any) error
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Trim(ctx context.Context, key string) error
	Publish(ctx context.Context, channel string, message any) error
	Ping(ctx context.Context) error
}

// RedisStore implements Store using go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Append marshals record to JSON and pushes it onto the tail of the list,
// preserving arrival order for tailing readers.
func (s *RedisStore) Append(ctx context.Context, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, key, data).Err()
}

// Range returns the raw records between start and stop (inclusive, negative
// indexes count from the tail, as in LRANGE).
func (s *RedisStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// Trim removes the list entirely, used after a build's log has been archived.
func (s *RedisStore) Trim(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Publish sends message on a pub/sub channel for live viewers.
func (s *RedisStore) Publish(ctx context.Context, channel string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}
