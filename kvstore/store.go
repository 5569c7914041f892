// Package kvstore holds small expiring values shared by the request handlers: registration counters per
// source address and new user markers. Entries disappear once their TTL has passed.
package kvstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("key not found")

type Store interface {
	// Get returns ErrNotFound for keys that were never set or have expired.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr atomically increments the counter at key, starting from 0 if it is absent or expired, and sets
	// its expiry to ttl from now. It returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close() error
}
