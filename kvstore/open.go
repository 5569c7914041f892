package kvstore

import (
	"context"

	"github.com/andres-erbsen/clock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/tcriess/lightspeed-presence/config"
)

// Open returns the store selected by cfg. A redis store is pinged once before it is returned.
func Open(ctx context.Context, cfg config.KVConfig, clk clock.Clock) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(clk), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "could not connect to redis at %s", cfg.Addr)
		}
		return NewRedisStore(client, cfg.Prefix), nil
	}
	return nil, errors.Errorf("invalid kv type %q", cfg.Type)
}
