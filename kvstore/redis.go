package kvstore

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// incrScript increments KEYS[1] and (re)sets its expiry in milliseconds in one step.
var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return current
`)

// RedisStore is a Store backed by redis, so counters survive restarts and are shared between processes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "could not get %s", key)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := s.client.Set(ctx, s.key(key), value, ttl).Err()
	if err != nil {
		return errors.Wrapf(err, "could not set %s", key)
	}
	return nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "could not increment %s", key)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, errors.Errorf("unexpected response type %T incrementing %s", res, key)
	}
	return count, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
