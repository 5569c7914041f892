package presence

import (
	"time"

	"github.com/andres-erbsen/clock"
	lru "github.com/hashicorp/golang-lru"
)

type statusEntry struct {
	online  bool
	expires time.Time
}

// StatusCache memoizes whether a user has any live connection, for the same TTL as the rosters.
type StatusCache struct {
	source Source
	clock  clock.Clock
	ttl    time.Duration
	users  *lru.Cache // user id -> statusEntry
}

func NewStatusCache(source Source, ttl time.Duration, size int, clk clock.Clock) (*StatusCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if size <= 0 {
		size = DefaultSize
	}
	if clk == nil {
		clk = clock.New()
	}
	users, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &StatusCache{source: source, clock: clk, ttl: ttl, users: users}, nil
}

func (s *StatusCache) IsOnline(userId string) (bool, error) {
	now := s.clock.Now()
	if v, ok := s.users.Get(userId); ok {
		if e := v.(statusEntry); now.Before(e.expires) {
			return e.online, nil
		}
	}
	conns, err := s.source.GetConnectionsByUsers([]string{userId})
	if err != nil {
		return false, err
	}
	online := false
	for _, conn := range conns {
		if conn.UserId == userId {
			online = true
			break
		}
	}
	s.users.Add(userId, statusEntry{online: online, expires: now.Add(s.ttl)})
	return online, nil
}

// Purge drops all entries whose expiry has passed.
func (s *StatusCache) Purge() int {
	now := s.clock.Now()
	removed := 0
	for _, k := range s.users.Keys() {
		if v, ok := s.users.Peek(k); ok && !now.Before(v.(statusEntry).expires) {
			s.users.Remove(k)
			removed++
		}
	}
	return removed
}
