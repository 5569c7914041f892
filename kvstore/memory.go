package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/pkg/errors"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryStore is a Store kept in process memory. Expired entries are invisible immediately and are
// dropped from memory by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]*memoryEntry
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:   clk,
		entries: make(map[string]*memoryEntry),
	}
}

// live returns the entry for key if it has not expired. Callers must hold mu.
func (s *MemoryStore) live(key string) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !s.clock.Now().Before(e.expires) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key)
	if e == nil {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{value: value, expires: s.clock.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if e := s.live(key); e != nil {
		var err error
		n, err = strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "value of %s is not a counter", key)
		}
	}
	n++
	s.entries[key] = &memoryEntry{value: strconv.FormatInt(n, 10), expires: s.clock.Now().Add(ttl)}
	return n, nil
}

// Sweep removes all expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Close() error {
	return nil
}
