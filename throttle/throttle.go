// Package throttle caps how many accounts can be registered from one source address. The counter expires a
// full window after the most recent registration, each registration pushes the expiry out again.
//
// This is best-effort abuse mitigation keyed on a client or proxy reported address, not a security boundary.
package throttle

import (
	"context"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-presence/kvstore"
)

const (
	DefaultLimit  = 3
	DefaultWindow = 24 * time.Hour
)

type Throttle struct {
	store  kvstore.Store
	limit  int64
	window time.Duration
	logger hclog.Logger
}

func New(store kvstore.Store, limit int, window time.Duration, logger hclog.Logger) *Throttle {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Throttle{store: store, limit: int64(limit), window: window, logger: logger}
}

func key(addr string) string {
	return "register:ip:" + addr
}

// Allow reports whether another registration from addr is permitted. It does not count the attempt.
func (t *Throttle) Allow(ctx context.Context, addr string) (bool, error) {
	val, err := t.store.Get(ctx, key(addr))
	if err == kvstore.ErrNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		t.logger.Warn("invalid registration counter, ignoring", "addr", addr, "value", val)
		return true, nil
	}
	return n < t.limit, nil
}

// Record counts a successful registration from addr.
func (t *Throttle) Record(ctx context.Context, addr string) error {
	n, err := t.store.Incr(ctx, key(addr), t.window)
	if err != nil {
		return err
	}
	t.logger.Debug("registration recorded", "addr", addr, "count", n)
	return nil
}
