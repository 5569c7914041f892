package persistence

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-presence/types"
	"gorm.io/driver/sqlite"
)

var epoch = time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)

// forEachPersister runs f against every backend.
func forEachPersister(t *testing.T, f func(t *testing.T, p Persister)) {
	t.Run("buntdb", func(t *testing.T) {
		p, err := newBuntDBPersist(":memory:")
		require.NoError(t, err)
		defer p.Close()
		f(t, p)
	})
	t.Run("sqlite", func(t *testing.T) {
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		p, err := newGormPersist(sqlite.Open(dsn))
		require.NoError(t, err)
		defer p.Close()
		f(t, p)
	})
}

func newUser(name string, offset time.Duration) *types.User {
	return &types.User{
		Id:         uuid.NewString(),
		Username:   name,
		Password:   "hash",
		Salt:       "salt",
		CreateTime: epoch.Add(offset),
	}
}

func newDefaultGroup(t *testing.T, p Persister) *types.Group {
	g := &types.Group{Id: uuid.NewString(), Name: "lobby", IsDefault: true, CreateTime: epoch}
	require.NoError(t, p.CreateGroup(g))
	return g
}

func TestCreateUserInGroup(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		lobby := newDefaultGroup(t, p)
		u1 := newUser("alice", time.Second)
		u2 := newUser("bob", 2*time.Second)
		require.NoError(t, p.CreateUserInGroup(u1, lobby.Id))
		require.NoError(t, p.CreateUserInGroup(u2, lobby.Id))

		g, err := p.GetDefaultGroup()
		require.NoError(t, err)
		assert.Equal(t, lobby.Id, g.Id)
		assert.Equal(t, u1.Id, g.Creator)
		assert.Equal(t, []string{u1.Id, u2.Id}, g.Members)

		dup := newUser("alice", 3*time.Second)
		err = p.CreateUserInGroup(dup, lobby.Id)
		assert.True(t, errors.Is(err, ErrDuplicate))
		_, err = p.GetUser(dup.Id)
		assert.True(t, errors.Is(err, ErrNotFound))

		err = p.CreateUserInGroup(newUser("carol", 0), uuid.NewString())
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = p.GetUserByUsername("carol")
		assert.True(t, errors.Is(err, ErrNotFound))

		byName, err := p.GetUserByUsername("bob")
		require.NoError(t, err)
		assert.Equal(t, u2.Id, byName.Id)

		users, err := p.GetUsers([]string{u1.Id, uuid.NewString(), u2.Id})
		require.NoError(t, err)
		assert.Len(t, users, 2)

		all, err := p.ListUsers()
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestUpdateUser(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		lobby := newDefaultGroup(t, p)
		u1 := newUser("alice", 0)
		u2 := newUser("bob", 0)
		require.NoError(t, p.CreateUserInGroup(u1, lobby.Id))
		require.NoError(t, p.CreateUserInGroup(u2, lobby.Id))

		u1.Username = "alicia"
		u1.Avatar = "/avatar/3.jpg"
		require.NoError(t, p.UpdateUser(u1))
		got, err := p.GetUserByUsername("alicia")
		require.NoError(t, err)
		assert.Equal(t, "/avatar/3.jpg", got.Avatar)
		_, err = p.GetUserByUsername("alice")
		assert.True(t, errors.Is(err, ErrNotFound))

		u2.Username = "alicia"
		err = p.UpdateUser(u2)
		assert.True(t, errors.Is(err, ErrDuplicate))

		err = p.UpdateUser(newUser("nobody", 0))
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestGroupMembership(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		creator := uuid.NewString()
		member := uuid.NewString()
		g := &types.Group{Id: uuid.NewString(), Name: "Team", Creator: creator, Members: []string{creator}, CreateTime: epoch}
		require.NoError(t, p.CreateGroup(g))

		err := p.CreateGroup(&types.Group{Id: uuid.NewString(), Name: "Team", CreateTime: epoch})
		assert.True(t, errors.Is(err, ErrDuplicate))

		require.NoError(t, p.AddGroupMember(g.Id, member))
		err = p.AddGroupMember(g.Id, member)
		assert.True(t, errors.Is(err, ErrDuplicate))
		err = p.AddGroupMember(uuid.NewString(), member)
		assert.True(t, errors.Is(err, ErrNotFound))

		got, err := p.GetGroup(g.Id)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{creator, member}, got.Members)

		groups, err := p.GetGroupsByMember(member)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, g.Id, groups[0].Id)

		n, err := p.CountGroupsByCreator(creator)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, p.RemoveGroupMember(g.Id, member))
		err = p.RemoveGroupMember(g.Id, member)
		assert.True(t, errors.Is(err, ErrNotFound))
		groups, err = p.GetGroupsByMember(member)
		require.NoError(t, err)
		assert.Len(t, groups, 0)
	})
}

func TestUpdateAndDeleteGroup(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		g1 := &types.Group{Id: uuid.NewString(), Name: "one", Members: []string{"u"}, Creator: "u", CreateTime: epoch}
		g2 := &types.Group{Id: uuid.NewString(), Name: "two", Members: []string{"u"}, Creator: "u", CreateTime: epoch.Add(time.Second)}
		require.NoError(t, p.CreateGroup(g1))
		require.NoError(t, p.CreateGroup(g2))

		g1.Name = "uno"
		g1.Avatar = "/avatar/1.jpg"
		require.NoError(t, p.UpdateGroup(g1))
		got, err := p.GetGroupByName("uno")
		require.NoError(t, err)
		assert.Equal(t, "/avatar/1.jpg", got.Avatar)
		assert.Equal(t, []string{"u"}, got.Members)
		_, err = p.GetGroupByName("one")
		assert.True(t, errors.Is(err, ErrNotFound))

		g2.Name = "uno"
		err = p.UpdateGroup(g2)
		assert.True(t, errors.Is(err, ErrDuplicate))

		require.NoError(t, p.StoreMessage(&types.Message{Id: uuid.NewString(), From: "u", To: g1.Id, CreateTime: epoch}))
		require.NoError(t, p.DeleteGroup(g1.Id))
		_, err = p.GetGroup(g1.Id)
		assert.True(t, errors.Is(err, ErrNotFound))
		msgs, err := p.GetGroupMessages(g1.Id, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 0)
		err = p.DeleteGroup(g1.Id)
		assert.True(t, errors.Is(err, ErrNotFound))

		groups, err := p.ListGroups()
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, g2.Id, groups[0].Id)
	})
}

func TestFriends(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		require.NoError(t, p.AddFriend(&types.Friend{From: "a", To: "b", CreateTime: epoch}))
		require.NoError(t, p.AddFriend(&types.Friend{From: "b", To: "a", CreateTime: epoch}))
		err := p.AddFriend(&types.Friend{From: "a", To: "b", CreateTime: epoch})
		assert.True(t, errors.Is(err, ErrDuplicate))

		require.NoError(t, p.DeleteFriend("a", "b"))
		friends, err := p.GetFriends("a")
		require.NoError(t, err)
		assert.Len(t, friends, 0)
		friends, err = p.GetFriends("b")
		require.NoError(t, err)
		require.Len(t, friends, 1)
		assert.Equal(t, "a", friends[0].To)

		err = p.DeleteFriend("a", "b")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestConnections(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		c1 := &types.Connection{Id: "c1", UserId: "u1", Ip: "1.2.3.4", CreateTime: epoch}
		c2 := &types.Connection{Id: "c2", UserId: "u2", Ip: "1.2.3.5", CreateTime: epoch}
		c3 := &types.Connection{Id: "c3", CreateTime: epoch}
		for _, c := range []*types.Connection{c1, c2, c3} {
			require.NoError(t, p.StoreConnection(c))
		}
		c3.UserId = "u1"
		c3.Rooms = []string{"g1"}
		require.NoError(t, p.StoreConnection(c3))

		conns, err := p.GetConnectionsByUsers([]string{"u1"})
		require.NoError(t, err)
		require.Len(t, conns, 2)
		for _, c := range conns {
			if c.Id == "c3" {
				assert.Equal(t, []string{"g1"}, []string(c.Rooms))
			}
		}

		require.NoError(t, p.DeleteConnection("c1"))
		require.NoError(t, p.DeleteConnection("c1"))
		conns, err = p.GetConnectionsByUsers([]string{"u1", "u2"})
		require.NoError(t, err)
		assert.Len(t, conns, 2)

		n, err := p.DeleteAllConnections()
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		conns, err = p.GetConnectionsByUsers([]string{"u1", "u2"})
		require.NoError(t, err)
		assert.Len(t, conns, 0)
	})
}

func TestGroupMessages(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		group := uuid.NewString()
		for i := 0; i < 5; i++ {
			require.NoError(t, p.StoreMessage(&types.Message{
				Id:         uuid.NewString(),
				From:       "u",
				To:         group,
				Content:    fmt.Sprintf("m%d", i),
				CreateTime: epoch.Add(time.Duration(i) * time.Second),
			}))
		}
		require.NoError(t, p.StoreMessage(&types.Message{Id: uuid.NewString(), To: uuid.NewString(), CreateTime: epoch}))

		msgs, err := p.GetGroupMessages(group, 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "m4", msgs[0].Content)
		assert.Equal(t, "m3", msgs[1].Content)
		assert.Equal(t, "m2", msgs[2].Content)
	})
}

func TestNotificationTokens(t *testing.T) {
	forEachPersister(t, func(t *testing.T, p Persister) {
		require.NoError(t, p.AddNotificationToken(&types.Notification{Token: "t1", UserId: "u1", CreateTime: epoch}))
		require.NoError(t, p.AddNotificationToken(&types.Notification{Token: "t2", UserId: "u1", CreateTime: epoch.Add(time.Second)}))
		require.NoError(t, p.AddNotificationToken(&types.Notification{Token: "t2", UserId: "u2", CreateTime: epoch.Add(2 * time.Second)}))

		tokens, err := p.GetNotificationTokens("u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"t1"}, tokens)
		tokens, err = p.GetNotificationTokens("u2")
		require.NoError(t, err)
		assert.Equal(t, []string{"t2"}, tokens)
	})
}
