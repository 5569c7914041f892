package persistence

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-presence/config"
	"github.com/tcriess/lightspeed-presence/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, errors.Errorf("invalid gorm configuration %q", cfg.PersistenceConfig.Type)
	}
	return newGormPersist(dial)
}

func newGormPersist(dial gorm.Dialector) (*GormPersist, error) {
	db, err := gorm.Open(dial, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if dial.Name() == "sqlite" {
		// sqlite allows a single writer, serialize everything on one connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.Migrator().AutoMigrate(&types.User{}, &types.Group{}, &types.GroupMember{}, &types.Friend{},
		&types.Connection{}, &types.Message{}, &types.Notification{})
	if err != nil {
		return nil, errors.Wrap(err, "could not migrate")
	}
	return &GormPersist{db: db}, nil
}

// gormError maps gorm errors to the package errors and adds context.
func gormError(err error, format string, args ...interface{}) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		err = ErrDuplicate
	}
	return errors.Wrapf(err, format, args...)
}

func (p *GormPersist) CreateUserInGroup(user *types.User, groupId string) error {
	err := p.db.Transaction(func(tx *gorm.DB) error {
		group := &types.Group{}
		err := tx.Where("id = ?", groupId).First(group).Error
		if err != nil {
			return err
		}
		err = tx.Create(user).Error
		if err != nil {
			return err
		}
		err = tx.Create(&types.GroupMember{GroupId: groupId, UserId: user.Id, JoinTime: user.CreateTime}).Error
		if err != nil {
			return err
		}
		if group.Creator == "" {
			return tx.Model(&types.Group{}).Where("id = ? AND creator = ?", groupId, "").Update("creator", user.Id).Error
		}
		return nil
	})
	return gormError(err, "could not create user %s in group %s", user.Username, groupId)
}

func (p *GormPersist) GetUser(id string) (*types.User, error) {
	user := &types.User{}
	err := p.db.Where("id = ?", id).First(user).Error
	if err != nil {
		return nil, gormError(err, "could not get user %s", id)
	}
	return user, nil
}

func (p *GormPersist) GetUserByUsername(username string) (*types.User, error) {
	user := &types.User{}
	err := p.db.Where("username = ?", username).First(user).Error
	if err != nil {
		return nil, gormError(err, "could not get user %s", username)
	}
	return user, nil
}

func (p *GormPersist) GetUsers(ids []string) ([]*types.User, error) {
	users := make([]*types.User, 0)
	if len(ids) == 0 {
		return users, nil
	}
	err := p.db.Where("id IN ?", ids).Find(&users).Error
	return users, gormError(err, "could not get users")
}

func (p *GormPersist) ListUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.Order("create_time").Find(&users).Error
	return users, gormError(err, "could not list users")
}

func (p *GormPersist) UpdateUser(user *types.User) error {
	res := p.db.Model(user).Select("*").Updates(user)
	if res.Error != nil {
		return gormError(res.Error, "could not update user %s", user.Id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "could not update user %s", user.Id)
	}
	return nil
}

func (p *GormPersist) CreateGroup(group *types.Group) error {
	err := p.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Create(group).Error
		if err != nil {
			return err
		}
		for _, member := range group.Members {
			err = tx.Create(&types.GroupMember{GroupId: group.Id, UserId: member, JoinTime: group.CreateTime}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	return gormError(err, "could not create group %s", group.Name)
}

// loadMembers fills in the member lists of groups, ordered by join time.
func loadMembers(db *gorm.DB, groups ...*types.Group) error {
	if len(groups) == 0 {
		return nil
	}
	ids := make([]string, 0, len(groups))
	byId := make(map[string]*types.Group, len(groups))
	for _, g := range groups {
		ids = append(ids, g.Id)
		byId[g.Id] = g
		g.Members = make([]string, 0)
	}
	rows := make([]*types.GroupMember, 0)
	err := db.Where("group_id IN ?", ids).Order("join_time, user_id").Find(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		if g, ok := byId[row.GroupId]; ok {
			g.Members = append(g.Members, row.UserId)
		}
	}
	return nil
}

func (p *GormPersist) getGroupWhere(query string, arg interface{}) (*types.Group, error) {
	group := &types.Group{}
	err := p.db.Where(query, arg).First(group).Error
	if err != nil {
		return nil, err
	}
	err = loadMembers(p.db, group)
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (p *GormPersist) GetGroup(id string) (*types.Group, error) {
	group, err := p.getGroupWhere("id = ?", id)
	return group, gormError(err, "could not get group %s", id)
}

func (p *GormPersist) GetGroupByName(name string) (*types.Group, error) {
	group, err := p.getGroupWhere("name = ?", name)
	return group, gormError(err, "could not get group %s", name)
}

func (p *GormPersist) GetDefaultGroup() (*types.Group, error) {
	group, err := p.getGroupWhere("is_default = ?", true)
	return group, gormError(err, "could not get default group")
}

func (p *GormPersist) GetGroupsByMember(userId string) ([]*types.Group, error) {
	groups := make([]*types.Group, 0)
	memberOf := p.db.Model(&types.GroupMember{}).Select("group_id").Where("user_id = ?", userId)
	err := p.db.Where("id IN (?)", memberOf).Order("create_time").Find(&groups).Error
	if err == nil {
		err = loadMembers(p.db, groups...)
	}
	return groups, gormError(err, "could not get groups of %s", userId)
}

func (p *GormPersist) ListGroups() ([]*types.Group, error) {
	groups := make([]*types.Group, 0)
	err := p.db.Order("create_time").Find(&groups).Error
	if err == nil {
		err = loadMembers(p.db, groups...)
	}
	return groups, gormError(err, "could not list groups")
}

func (p *GormPersist) CountGroupsByCreator(userId string) (int, error) {
	var count int64
	err := p.db.Model(&types.Group{}).Where("creator = ?", userId).Count(&count).Error
	return int(count), gormError(err, "could not count groups of %s", userId)
}

func (p *GormPersist) UpdateGroup(group *types.Group) error {
	res := p.db.Model(&types.Group{}).Where("id = ?", group.Id).Updates(map[string]interface{}{
		"name":    group.Name,
		"avatar":  group.Avatar,
		"creator": group.Creator,
	})
	if res.Error != nil {
		return gormError(res.Error, "could not update group %s", group.Id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "could not update group %s", group.Id)
	}
	return nil
}

func (p *GormPersist) AddGroupMember(groupId, userId string) error {
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&types.Group{}).Where("id = ?", groupId).Count(&count).Error
		if err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(&types.GroupMember{GroupId: groupId, UserId: userId, JoinTime: time.Now().UTC()}).Error
	})
	return gormError(err, "could not add %s to group %s", userId, groupId)
}

func (p *GormPersist) RemoveGroupMember(groupId, userId string) error {
	res := p.db.Where("group_id = ? AND user_id = ?", groupId, userId).Delete(&types.GroupMember{})
	if res.Error != nil {
		return gormError(res.Error, "could not remove %s from group %s", userId, groupId)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "%s is not a member of group %s", userId, groupId)
	}
	return nil
}

func (p *GormPersist) DeleteGroup(id string) error {
	err := p.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&types.Group{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		err := tx.Where("group_id = ?", id).Delete(&types.GroupMember{}).Error
		if err != nil {
			return err
		}
		return tx.Where("to_group = ?", id).Delete(&types.Message{}).Error
	})
	return gormError(err, "could not delete group %s", id)
}

func (p *GormPersist) AddFriend(friend *types.Friend) error {
	return gormError(p.db.Create(friend).Error, "could not add friend %s -> %s", friend.From, friend.To)
}

func (p *GormPersist) GetFriends(userId string) ([]*types.Friend, error) {
	friends := make([]*types.Friend, 0)
	err := p.db.Where("from_user = ?", userId).Order("create_time").Find(&friends).Error
	return friends, gormError(err, "could not get friends of %s", userId)
}

func (p *GormPersist) DeleteFriend(from, to string) error {
	res := p.db.Where("from_user = ? AND to_user = ?", from, to).Delete(&types.Friend{})
	if res.Error != nil {
		return gormError(res.Error, "could not delete friend %s -> %s", from, to)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "no friend %s -> %s", from, to)
	}
	return nil
}

func (p *GormPersist) StoreConnection(conn *types.Connection) error {
	err := p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(conn).Error
	return gormError(err, "could not store connection %s", conn.Id)
}

func (p *GormPersist) DeleteConnection(id string) error {
	err := p.db.Where("id = ?", id).Delete(&types.Connection{}).Error
	return gormError(err, "could not delete connection %s", id)
}

func (p *GormPersist) DeleteAllConnections() (int, error) {
	res := p.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&types.Connection{})
	return int(res.RowsAffected), gormError(res.Error, "could not delete connections")
}

func (p *GormPersist) GetConnectionsByUsers(userIds []string) ([]*types.Connection, error) {
	conns := make([]*types.Connection, 0)
	if len(userIds) == 0 {
		return conns, nil
	}
	err := p.db.Where("user_id IN ?", userIds).Order("create_time").Find(&conns).Error
	return conns, gormError(err, "could not get connections")
}

func (p *GormPersist) StoreMessage(msg *types.Message) error {
	return gormError(p.db.Create(msg).Error, "could not store message %s", msg.Id)
}

func (p *GormPersist) GetGroupMessages(groupId string, limit int) ([]*types.Message, error) {
	msgs := make([]*types.Message, 0)
	err := p.db.Where("to_group = ?", groupId).Order("create_time DESC").Limit(limit).Find(&msgs).Error
	return msgs, gormError(err, "could not get messages of group %s", groupId)
}

func (p *GormPersist) AddNotificationToken(n *types.Notification) error {
	err := p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(n).Error
	return gormError(err, "could not add notification token for %s", n.UserId)
}

func (p *GormPersist) GetNotificationTokens(userId string) ([]string, error) {
	tokens := make([]string, 0)
	err := p.db.Model(&types.Notification{}).Where("user_id = ?", userId).Order("create_time").Pluck("token", &tokens).Error
	return tokens, gormError(err, "could not get notification tokens of %s", userId)
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
