// Package presence answers "who of this group is online right now". Rosters are memoized per group together
// with a fingerprint of the online member ids, so a client that passes back the fingerprint it already has
// gets an empty answer instead of the same roster again. A roster may be stale for up to the cache TTL.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/lightspeed-presence/types"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL  = 60 * time.Second
	DefaultSize = 1024

	defaultGroupKey = "\x00default"
)

// Source is the read access to the durable store a roster is computed from.
type Source interface {
	GetGroup(id string) (*types.Group, error)
	GetDefaultGroup() (*types.Group, error)
	GetConnectionsByUsers(userIds []string) ([]*types.Connection, error)
	GetUsers(ids []string) ([]*types.User, error)
}

// Member is one online user, rendered with the client environment of one of its connections.
type Member struct {
	Id          string `json:"id"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar"`
	Os          string `json:"os"`
	Browser     string `json:"browser"`
	Environment string `json:"environment"`
}

// Result is the answer to a roster query. Members is nil if the caller's fingerprint is still current.
type Result struct {
	Cache   string
	Members []*Member
}

// MarshalJSON leaves out members only for the "nothing changed" answer, an empty roster is sent as [].
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Members == nil {
		return json.Marshal(struct {
			Cache string `json:"cache"`
		}{r.Cache})
	}
	return json.Marshal(struct {
		Cache   string    `json:"cache"`
		Members []*Member `json:"members"`
	}{r.Cache, r.Members})
}

type entry struct {
	fingerprint string
	members     []*Member
	expires     time.Time
}

type Cache struct {
	source Source
	clock  clock.Clock
	ttl    time.Duration
	logger hclog.Logger

	groups *lru.Cache // group id -> *entry

	mu           sync.Mutex
	defaultEntry *entry

	flight singleflight.Group
}

func NewCache(source Source, ttl time.Duration, size int, clk clock.Clock, logger hclog.Logger) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if size <= 0 {
		size = DefaultSize
	}
	if clk == nil {
		clk = clock.New()
	}
	groups, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		source: source,
		clock:  clk,
		ttl:    ttl,
		logger: logger,
		groups: groups,
	}, nil
}

// slot abstracts over the per group entries and the single default group entry.
type slot struct {
	load  func() *entry
	store func(*entry)
	group func() (*types.Group, error)
}

func (c *Cache) groupSlot(groupId string) slot {
	return slot{
		load: func() *entry {
			if v, ok := c.groups.Get(groupId); ok {
				return v.(*entry)
			}
			return nil
		},
		store: func(e *entry) {
			c.groups.Add(groupId, e)
		},
		group: func() (*types.Group, error) {
			return c.source.GetGroup(groupId)
		},
	}
}

func (c *Cache) defaultSlot() slot {
	return slot{
		load: func() *entry {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.defaultEntry
		},
		store: func(e *entry) {
			c.mu.Lock()
			c.defaultEntry = e
			c.mu.Unlock()
		},
		group: c.source.GetDefaultGroup,
	}
}

// GetOnlineMembers returns the online members of groupId, or only the fingerprint if known is still current.
func (c *Cache) GetOnlineMembers(ctx context.Context, groupId, known string) (*Result, error) {
	return c.get(ctx, groupId, c.groupSlot(groupId), known)
}

// GetDefaultGroupOnlineMembers is GetOnlineMembers for the default group, which has a single slot.
func (c *Cache) GetDefaultGroupOnlineMembers(ctx context.Context, known string) (*Result, error) {
	return c.get(ctx, defaultGroupKey, c.defaultSlot(), known)
}

// Forget drops the entry of groupId, e.g. after the group was deleted.
func (c *Cache) Forget(groupId string) {
	c.groups.Remove(groupId)
}

type recomputed struct {
	entry     *entry
	unchanged bool
}

func (c *Cache) get(ctx context.Context, key string, s slot, known string) (*Result, error) {
	if e := s.load(); e != nil && c.clock.Now().Before(e.expires) && e.fingerprint == known {
		return &Result{Cache: known}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		return c.recompute(key, s)
	})
	if err != nil {
		return nil, err
	}
	r := v.(*recomputed)
	if r.unchanged && r.entry.fingerprint == known {
		return &Result{Cache: known}, nil
	}
	return &Result{Cache: r.entry.fingerprint, Members: r.entry.members}, nil
}

func (c *Cache) recompute(key string, s slot) (*recomputed, error) {
	group, err := s.group()
	if err != nil {
		return nil, err
	}
	members, err := c.roster(group.Members)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.Id
	}
	fingerprint, err := Fingerprint(ids)
	if err != nil {
		return nil, err
	}
	expires := c.clock.Now().Add(c.ttl)
	if prev := s.load(); prev != nil && prev.fingerprint == fingerprint {
		refreshed := &entry{fingerprint: prev.fingerprint, members: prev.members, expires: expires}
		s.store(refreshed)
		c.logger.Trace("roster unchanged", "group", key, "cache", fingerprint)
		return &recomputed{entry: refreshed, unchanged: true}, nil
	}
	e := &entry{fingerprint: fingerprint, members: members, expires: expires}
	s.store(e)
	c.logger.Debug("roster changed", "group", key, "cache", fingerprint, "online", len(members))
	return &recomputed{entry: e}, nil
}

// roster renders the online members among memberIds, one per user, ordered by id. If a user has several
// connections the last one listed wins.
func (c *Cache) roster(memberIds []string) ([]*Member, error) {
	conns, err := c.source.GetConnectionsByUsers(memberIds)
	if err != nil {
		return nil, err
	}
	byUser := make(map[string]*types.Connection)
	for _, conn := range conns {
		if conn.UserId == "" {
			continue
		}
		byUser[conn.UserId] = conn
	}
	ids := make([]string, 0, len(byUser))
	for id := range byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	users, err := c.source.GetUsers(ids)
	if err != nil {
		return nil, err
	}
	usersById := make(map[string]*types.User, len(users))
	for _, u := range users {
		usersById[u.Id] = u
	}
	members := make([]*Member, 0, len(ids))
	for _, id := range ids {
		u, ok := usersById[id]
		if !ok {
			continue
		}
		conn := byUser[id]
		members = append(members, &Member{
			Id:          id,
			Username:    u.Username,
			Avatar:      u.Avatar,
			Os:          conn.Os,
			Browser:     conn.Browser,
			Environment: conn.Environment,
		})
	}
	return members, nil
}
