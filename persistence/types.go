package persistence

import (
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-presence/types"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Persister is the durable store. Lookups of absent records return an error matching ErrNotFound (errors.Is),
// unique constraint violations (username, group name, membership, friend edge) one matching ErrDuplicate.
// Every method is atomic: it either applies completely or not at all.
type Persister interface {
	// CreateUserInGroup stores a new user and makes it a member of the group groupId. If the group has no
	// creator yet, the user becomes its creator.
	CreateUserInGroup(user *types.User, groupId string) error
	GetUser(id string) (*types.User, error)
	GetUserByUsername(username string) (*types.User, error)
	// GetUsers returns the existing users among ids, in no particular order.
	GetUsers(ids []string) ([]*types.User, error)
	ListUsers() ([]*types.User, error)
	UpdateUser(user *types.User) error

	// CreateGroup stores a new group including its members.
	CreateGroup(group *types.Group) error
	GetGroup(id string) (*types.Group, error)
	GetGroupByName(name string) (*types.Group, error)
	GetDefaultGroup() (*types.Group, error)
	GetGroupsByMember(userId string) ([]*types.Group, error)
	ListGroups() ([]*types.Group, error)
	CountGroupsByCreator(userId string) (int, error)
	// UpdateGroup stores name, avatar and creator of group. Members are changed by AddGroupMember and
	// RemoveGroupMember only.
	UpdateGroup(group *types.Group) error
	AddGroupMember(groupId, userId string) error
	RemoveGroupMember(groupId, userId string) error
	DeleteGroup(id string) error

	AddFriend(friend *types.Friend) error
	GetFriends(userId string) ([]*types.Friend, error)
	DeleteFriend(from, to string) error

	// StoreConnection creates or replaces a connection record.
	StoreConnection(conn *types.Connection) error
	DeleteConnection(id string) error
	// DeleteAllConnections removes every connection record, used on startup when no connection can be live.
	DeleteAllConnections() (int, error)
	GetConnectionsByUsers(userIds []string) ([]*types.Connection, error)

	StoreMessage(msg *types.Message) error
	// GetGroupMessages returns up to limit messages sent to groupId, newest first.
	GetGroupMessages(groupId string, limit int) ([]*types.Message, error)

	AddNotificationToken(n *types.Notification) error
	GetNotificationTokens(userId string) ([]string, error)

	Close() error
}
