package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-presence/config"
)

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	s := NewMemoryStore(mock)

	_, err := s.Get(ctx, "a")
	assert.Equal(t, ErrNotFound, err)

	require.NoError(t, s.Set(ctx, "a", "1", time.Minute))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	mock.Add(time.Minute)
	_, err = s.Get(ctx, "a")
	assert.Equal(t, ErrNotFound, err)
}

func TestMemoryStoreIncr(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	s := NewMemoryStore(mock)

	n, err := s.Incr(ctx, "c", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.Add(50 * time.Minute)
	n, err = s.Incr(ctx, "c", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// the second increment pushed the expiry out again
	mock.Add(50 * time.Minute)
	v, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	mock.Add(10 * time.Minute)
	n, err = s.Incr(ctx, "c", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Set(ctx, "s", "text", time.Hour))
	_, err = s.Incr(ctx, "s", time.Hour)
	assert.Error(t, err)
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	s := NewMemoryStore(mock)

	require.NoError(t, s.Set(ctx, "short", "x", time.Second))
	require.NoError(t, s.Set(ctx, "long", "x", time.Hour))
	assert.Equal(t, 0, s.Sweep())

	mock.Add(time.Minute)
	assert.Equal(t, 1, s.Sweep())
	_, err := s.Get(ctx, "long")
	assert.NoError(t, err)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.KVConfig{Type: "memory"}, clock.NewMock())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(context.Background(), config.KVConfig{Type: "etcd"}, clock.NewMock())
	assert.Error(t, err)
}
