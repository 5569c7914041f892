package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-presence/config"
	"github.com/tcriess/lightspeed-presence/types"
	"github.com/tidwall/buntdb"
)

// Key layout:
//
//	user:<id>                            user json
//	username:<username>                  user id
//	group:<id>                           group json including members
//	groupname:<name>                     group id
//	friend:<from>:<to>                   friend json
//	conn:<id>                            connection json
//	message:<group>:<unix nano>:<id>     message json, keys sort by time within a group
//	notification:<user>:<token>          notification json
const (
	indexConnUser     = "connuser"
	indexGroupCreator = "groupcreator"
	indexGroupDefault = "groupdefault"
)

type BuntDBPersist struct {
	db *buntdb.DB
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	return newBuntDBPersist(cfg.PersistenceConfig.DSN)
}

func newBuntDBPersist(fileName string) (*BuntDBPersist, error) {
	if fileName == "" {
		fileName = ":memory:"
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		return nil, err
	}
	indexes := []struct {
		name    string
		pattern string
		field   string
	}{
		{indexConnUser, "conn:*", "userId"},
		{indexGroupCreator, "group:*", "creator"},
		{indexGroupDefault, "group:*", "isDefault"},
	}
	for _, idx := range indexes {
		err = db.CreateIndex(idx.name, idx.pattern, buntdb.IndexJSON(idx.field))
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return &BuntDBPersist{db}, nil
}

func buntError(err error, format string, args ...interface{}) error {
	switch {
	case err == nil:
		return nil
	case err == buntdb.ErrNotFound:
		err = ErrNotFound
	}
	return errors.Wrapf(err, format, args...)
}

func messageKey(msg *types.Message) string {
	return fmt.Sprintf("message:%s:%020d:%s", msg.To, msg.CreateTime.UnixNano(), msg.Id)
}

func setJSON(tx *buntdb.Tx, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(data), nil)
	return err
}

func getJSON(tx *buntdb.Tx, key string, v interface{}) error {
	data, err := tx.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), v)
}

// exists reports whether key is present, any error other than buntdb.ErrNotFound is returned.
func exists(tx *buntdb.Tx, key string) (bool, error) {
	_, err := tx.Get(key)
	if err == buntdb.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (p *BuntDBPersist) CreateUserInGroup(user *types.User, groupId string) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		group := &types.Group{}
		err := getJSON(tx, "group:"+groupId, group)
		if err != nil {
			return err
		}
		taken, err := exists(tx, "username:"+user.Username)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicate
		}
		err = setJSON(tx, "user:"+user.Id, user)
		if err != nil {
			return err
		}
		_, _, err = tx.Set("username:"+user.Username, user.Id, nil)
		if err != nil {
			return err
		}
		if !group.HasMember(user.Id) {
			group.Members = append(group.Members, user.Id)
		}
		if group.Creator == "" {
			group.Creator = user.Id
		}
		return setJSON(tx, "group:"+groupId, group)
	})
	return buntError(err, "could not create user %s in group %s", user.Username, groupId)
}

func (p *BuntDBPersist) GetUser(id string) (*types.User, error) {
	user := &types.User{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, "user:"+id, user)
	})
	if err != nil {
		return nil, buntError(err, "could not get user %s", id)
	}
	return user, nil
}

func (p *BuntDBPersist) GetUserByUsername(username string) (*types.User, error) {
	user := &types.User{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get("username:" + username)
		if err != nil {
			return err
		}
		return getJSON(tx, "user:"+id, user)
	})
	if err != nil {
		return nil, buntError(err, "could not get user %s", username)
	}
	return user, nil
}

func (p *BuntDBPersist) GetUsers(ids []string) ([]*types.User, error) {
	users := make([]*types.User, 0, len(ids))
	err := p.db.View(func(tx *buntdb.Tx) error {
		for _, id := range ids {
			user := &types.User{}
			err := getJSON(tx, "user:"+id, user)
			if err == buntdb.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	return users, buntError(err, "could not get users")
}

func (p *BuntDBPersist) ListUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		iterErr := tx.AscendKeys("user:*", func(key, value string) bool {
			user := &types.User{}
			if err = json.Unmarshal([]byte(value), user); err != nil {
				return false
			}
			users = append(users, user)
			return true
		})
		if iterErr != nil {
			return iterErr
		}
		return err
	})
	return users, buntError(err, "could not list users")
}

func (p *BuntDBPersist) UpdateUser(user *types.User) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		old := &types.User{}
		err := getJSON(tx, "user:"+user.Id, old)
		if err != nil {
			return err
		}
		if old.Username != user.Username {
			taken, err := exists(tx, "username:"+user.Username)
			if err != nil {
				return err
			}
			if taken {
				return ErrDuplicate
			}
			_, err = tx.Delete("username:" + old.Username)
			if err != nil {
				return err
			}
			_, _, err = tx.Set("username:"+user.Username, user.Id, nil)
			if err != nil {
				return err
			}
		}
		return setJSON(tx, "user:"+user.Id, user)
	})
	return buntError(err, "could not update user %s", user.Id)
}

func (p *BuntDBPersist) CreateGroup(group *types.Group) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		taken, err := exists(tx, "groupname:"+group.Name)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicate
		}
		taken, err = exists(tx, "group:"+group.Id)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicate
		}
		if group.Members == nil {
			group.Members = make([]string, 0)
		}
		_, _, err = tx.Set("groupname:"+group.Name, group.Id, nil)
		if err != nil {
			return err
		}
		return setJSON(tx, "group:"+group.Id, group)
	})
	return buntError(err, "could not create group %s", group.Name)
}

func (p *BuntDBPersist) GetGroup(id string) (*types.Group, error) {
	group := &types.Group{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, "group:"+id, group)
	})
	if err != nil {
		return nil, buntError(err, "could not get group %s", id)
	}
	return group, nil
}

func (p *BuntDBPersist) GetGroupByName(name string) (*types.Group, error) {
	group := &types.Group{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get("groupname:" + name)
		if err != nil {
			return err
		}
		return getJSON(tx, "group:"+id, group)
	})
	if err != nil {
		return nil, buntError(err, "could not get group %s", name)
	}
	return group, nil
}

// groupsWhere collects the groups for which match returns true, iterating index (or all groups if index is
// empty) from pivot.
func (p *BuntDBPersist) groupsWhere(index, pivot string, match func(*types.Group) bool) ([]*types.Group, error) {
	groups := make([]*types.Group, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		iter := func(key, value string) bool {
			group := &types.Group{}
			if err = json.Unmarshal([]byte(value), group); err != nil {
				return false
			}
			if match(group) {
				groups = append(groups, group)
			}
			return true
		}
		var iterErr error
		if index == "" {
			iterErr = tx.AscendKeys("group:*", iter)
		} else {
			iterErr = tx.AscendEqual(index, pivot, iter)
		}
		if iterErr != nil {
			return iterErr
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	sortGroups(groups)
	return groups, nil
}

func sortGroups(groups []*types.Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].CreateTime.Before(groups[j].CreateTime)
	})
}

func (p *BuntDBPersist) GetDefaultGroup() (*types.Group, error) {
	groups, err := p.groupsWhere(indexGroupDefault, `{"isDefault":true}`, func(g *types.Group) bool {
		return g.IsDefault
	})
	if err != nil {
		return nil, buntError(err, "could not get default group")
	}
	if len(groups) == 0 {
		return nil, errors.Wrap(ErrNotFound, "could not get default group")
	}
	return groups[0], nil
}

func (p *BuntDBPersist) GetGroupsByMember(userId string) ([]*types.Group, error) {
	groups, err := p.groupsWhere("", "", func(g *types.Group) bool {
		return g.HasMember(userId)
	})
	return groups, buntError(err, "could not get groups of %s", userId)
}

func (p *BuntDBPersist) ListGroups() ([]*types.Group, error) {
	groups, err := p.groupsWhere("", "", func(*types.Group) bool { return true })
	return groups, buntError(err, "could not list groups")
}

func (p *BuntDBPersist) CountGroupsByCreator(userId string) (int, error) {
	pivot, err := json.Marshal(map[string]string{"creator": userId})
	if err != nil {
		return 0, err
	}
	groups, err := p.groupsWhere(indexGroupCreator, string(pivot), func(g *types.Group) bool {
		return g.Creator == userId
	})
	if err != nil {
		return 0, buntError(err, "could not count groups of %s", userId)
	}
	return len(groups), nil
}

// updateGroup applies update to the stored group id inside one write transaction.
func (p *BuntDBPersist) updateGroup(id string, update func(tx *buntdb.Tx, group *types.Group) error) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		group := &types.Group{}
		err := getJSON(tx, "group:"+id, group)
		if err != nil {
			return err
		}
		err = update(tx, group)
		if err != nil {
			return err
		}
		return setJSON(tx, "group:"+id, group)
	})
}

func (p *BuntDBPersist) UpdateGroup(group *types.Group) error {
	err := p.updateGroup(group.Id, func(tx *buntdb.Tx, stored *types.Group) error {
		if stored.Name != group.Name {
			taken, err := exists(tx, "groupname:"+group.Name)
			if err != nil {
				return err
			}
			if taken {
				return ErrDuplicate
			}
			_, err = tx.Delete("groupname:" + stored.Name)
			if err != nil {
				return err
			}
			_, _, err = tx.Set("groupname:"+group.Name, group.Id, nil)
			if err != nil {
				return err
			}
		}
		stored.Name = group.Name
		stored.Avatar = group.Avatar
		stored.Creator = group.Creator
		return nil
	})
	return buntError(err, "could not update group %s", group.Id)
}

func (p *BuntDBPersist) AddGroupMember(groupId, userId string) error {
	err := p.updateGroup(groupId, func(_ *buntdb.Tx, group *types.Group) error {
		if group.HasMember(userId) {
			return ErrDuplicate
		}
		group.Members = append(group.Members, userId)
		return nil
	})
	return buntError(err, "could not add %s to group %s", userId, groupId)
}

func (p *BuntDBPersist) RemoveGroupMember(groupId, userId string) error {
	err := p.updateGroup(groupId, func(_ *buntdb.Tx, group *types.Group) error {
		members := make([]string, 0, len(group.Members))
		for _, m := range group.Members {
			if m != userId {
				members = append(members, m)
			}
		}
		if len(members) == len(group.Members) {
			return ErrNotFound
		}
		group.Members = members
		return nil
	})
	return buntError(err, "could not remove %s from group %s", userId, groupId)
}

// deleteKeys removes all keys matching pattern.
func deleteKeys(tx *buntdb.Tx, pattern string) (int, error) {
	keys := make([]string, 0)
	err := tx.AscendKeys(pattern, func(key, value string) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if _, err = tx.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (p *BuntDBPersist) DeleteGroup(id string) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		group := &types.Group{}
		err := getJSON(tx, "group:"+id, group)
		if err != nil {
			return err
		}
		if _, err = tx.Delete("group:" + id); err != nil {
			return err
		}
		if _, err = tx.Delete("groupname:" + group.Name); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		_, err = deleteKeys(tx, "message:"+id+":*")
		return err
	})
	return buntError(err, "could not delete group %s", id)
}

func (p *BuntDBPersist) AddFriend(friend *types.Friend) error {
	key := "friend:" + friend.From + ":" + friend.To
	err := p.db.Update(func(tx *buntdb.Tx) error {
		taken, err := exists(tx, key)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicate
		}
		return setJSON(tx, key, friend)
	})
	return buntError(err, "could not add friend %s -> %s", friend.From, friend.To)
}

func (p *BuntDBPersist) GetFriends(userId string) ([]*types.Friend, error) {
	friends := make([]*types.Friend, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		iterErr := tx.AscendKeys("friend:"+userId+":*", func(key, value string) bool {
			friend := &types.Friend{}
			if err = json.Unmarshal([]byte(value), friend); err != nil {
				return false
			}
			friends = append(friends, friend)
			return true
		})
		if iterErr != nil {
			return iterErr
		}
		return err
	})
	return friends, buntError(err, "could not get friends of %s", userId)
}

func (p *BuntDBPersist) DeleteFriend(from, to string) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("friend:" + from + ":" + to)
		return err
	})
	return buntError(err, "could not delete friend %s -> %s", from, to)
}

func (p *BuntDBPersist) StoreConnection(conn *types.Connection) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, "conn:"+conn.Id, conn)
	})
	return buntError(err, "could not store connection %s", conn.Id)
}

func (p *BuntDBPersist) DeleteConnection(id string) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("conn:" + id)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	return buntError(err, "could not delete connection %s", id)
}

func (p *BuntDBPersist) DeleteAllConnections() (int, error) {
	var n int
	err := p.db.Update(func(tx *buntdb.Tx) error {
		var err error
		n, err = deleteKeys(tx, "conn:*")
		return err
	})
	return n, buntError(err, "could not delete connections")
}

func (p *BuntDBPersist) GetConnectionsByUsers(userIds []string) ([]*types.Connection, error) {
	conns := make([]*types.Connection, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		for _, userId := range userIds {
			pivot, err := json.Marshal(map[string]string{"userId": userId})
			if err != nil {
				return err
			}
			iterErr := tx.AscendEqual(indexConnUser, string(pivot), func(key, value string) bool {
				conn := &types.Connection{}
				if err = json.Unmarshal([]byte(value), conn); err != nil {
					return false
				}
				if conn.UserId == userId {
					conns = append(conns, conn)
				}
				return true
			})
			if iterErr != nil {
				return iterErr
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return conns, buntError(err, "could not get connections")
}

func (p *BuntDBPersist) StoreMessage(msg *types.Message) error {
	if strings.ContainsAny(msg.To, ":*?") {
		return errors.Errorf("invalid message target %q", msg.To)
	}
	err := p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, messageKey(msg), msg)
	})
	return buntError(err, "could not store message %s", msg.Id)
}

func (p *BuntDBPersist) GetGroupMessages(groupId string, limit int) ([]*types.Message, error) {
	msgs := make([]*types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		iterErr := tx.DescendKeys("message:"+groupId+":*", func(key, value string) bool {
			msg := &types.Message{}
			if err = json.Unmarshal([]byte(value), msg); err != nil {
				return false
			}
			msgs = append(msgs, msg)
			return limit <= 0 || len(msgs) < limit
		})
		if iterErr != nil {
			return iterErr
		}
		return err
	})
	return msgs, buntError(err, "could not get messages of group %s", groupId)
}

func (p *BuntDBPersist) AddNotificationToken(n *types.Notification) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		// a token belongs to one user only
		if _, err := deleteKeys(tx, "notification:*:"+n.Token); err != nil {
			return err
		}
		return setJSON(tx, "notification:"+n.UserId+":"+n.Token, n)
	})
	return buntError(err, "could not add notification token for %s", n.UserId)
}

func (p *BuntDBPersist) GetNotificationTokens(userId string) ([]string, error) {
	tokens := make([]string, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("notification:"+userId+":*", func(key, value string) bool {
			tokens = append(tokens, strings.TrimPrefix(key, "notification:"+userId+":"))
			return true
		})
	})
	return tokens, buntError(err, "could not get notification tokens of %s", userId)
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
