package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-presence/persistence"
	"github.com/tcriess/lightspeed-presence/presence"
	"github.com/tcriess/lightspeed-presence/types"
)

// GroupService manages group membership. All checks and writes touching one group's member set run under
// that group's lock, so concurrent joins and leaves never lose an update.
type GroupService struct {
	*Deps
	locks *keyedMutex
}

func NewGroupService(deps *Deps) *GroupService {
	return &GroupService{Deps: deps, locks: newKeyedMutex()}
}

// getGroup loads groupId, mapping absence to a NotFound error with msg.
func (s *GroupService) getGroup(groupId, msg string) (*types.Group, error) {
	group, err := s.Store.GetGroup(groupId)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, notFoundf("%s", msg)
	}
	return group, err
}

func (s *GroupService) CreateGroup(ctx context.Context, conn *Conn, name string) (*types.GroupView, error) {
	if s.Config.DisableCreateGroup {
		return nil, policyf("group creation is disabled")
	}
	// the count and the insert below must not interleave with another creation by the same user
	unlock := s.locks.Lock("creator:" + conn.UserID)
	defer unlock()

	owned, err := s.Store.CountGroupsByCreator(conn.UserID)
	if err != nil {
		return nil, err
	}
	if !conn.IsAdmin && owned >= s.Config.MaxGroupsCount {
		return nil, policyf("cannot create group, you have already created %d groups", s.Config.MaxGroupsCount)
	}
	if name == "" {
		return nil, validationf("group name must not be empty")
	}
	_, err = s.Store.GetGroupByName(name)
	if err == nil {
		return nil, policyf("group already exists")
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	group := &types.Group{
		Id:         uuid.NewString(),
		Name:       name,
		Avatar:     randomAvatar(),
		Creator:    conn.UserID,
		Members:    []string{conn.UserID},
		CreateTime: s.now(),
	}
	next := conn.clone()
	next.addRoom(group.Id)
	err = s.commit(conn, next, func() error {
		return s.Store.CreateGroup(group)
	})
	if errors.Is(err, persistence.ErrDuplicate) {
		return nil, policyf("group already exists")
	}
	if err != nil {
		return nil, err
	}
	s.join(conn, group.Id)
	s.Logger.Info("group created", "group", group.Id, "name", name, "user", conn.UserID)
	return types.NewGroupView(group), nil
}

func (s *GroupService) JoinGroup(ctx context.Context, conn *Conn, groupId string) (*types.GroupHistoryView, error) {
	if !validId(groupId) {
		return nil, validationf("invalid group id")
	}
	unlock := s.locks.Lock(groupId)
	defer unlock()

	group, err := s.getGroup(groupId, "cannot join group, group does not exist")
	if err != nil {
		return nil, err
	}
	if group.HasMember(conn.UserID) {
		return nil, policyf("you are already in the group")
	}
	messages, err := s.recentMessages(groupId, joinHistory)
	if err != nil {
		return nil, err
	}

	next := conn.clone()
	next.addRoom(groupId)
	err = s.commit(conn, next, func() error {
		return s.Store.AddGroupMember(groupId, conn.UserID)
	})
	switch {
	case errors.Is(err, persistence.ErrDuplicate):
		return nil, policyf("you are already in the group")
	case errors.Is(err, persistence.ErrNotFound):
		return nil, notFoundf("cannot join group, group does not exist")
	case err != nil:
		return nil, err
	}
	s.join(conn, groupId)
	return &types.GroupHistoryView{GroupView: *types.NewGroupView(group), Messages: messages}, nil
}

func (s *GroupService) LeaveGroup(ctx context.Context, conn *Conn, groupId string) error {
	if !validId(groupId) {
		return validationf("invalid group id")
	}
	unlock := s.locks.Lock(groupId)
	defer unlock()

	group, err := s.getGroup(groupId, "group does not exist")
	if err != nil {
		return err
	}
	if group.IsCreator(conn.UserID) {
		return policyf("the creator cannot leave a group they created")
	}
	if !group.HasMember(conn.UserID) {
		return policyf("you are not in the group")
	}
	next := conn.clone()
	next.removeRoom(groupId)
	err = s.commit(conn, next, func() error {
		return s.Store.RemoveGroupMember(groupId, conn.UserID)
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return policyf("you are not in the group")
	}
	if err != nil {
		return err
	}
	s.leave(conn, groupId)
	return nil
}

func (s *GroupService) ChangeGroupName(ctx context.Context, conn *Conn, groupId, name string) error {
	if !validId(groupId) {
		return validationf("invalid group id")
	}
	if name == "" {
		return validationf("group name must not be empty")
	}
	unlock := s.locks.Lock(groupId)
	defer unlock()

	group, err := s.getGroup(groupId, "group does not exist")
	if err != nil {
		return err
	}
	if group.Name == name {
		return validationf("the new group name is the same as the old one")
	}
	if !group.IsCreator(conn.UserID) {
		return policyf("only the creator can change the group name")
	}
	_, err = s.Store.GetGroupByName(name)
	if err == nil {
		return policyf("group name already exists")
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return err
	}

	group.Name = name
	err = s.Store.UpdateGroup(group)
	if errors.Is(err, persistence.ErrDuplicate) {
		return policyf("group name already exists")
	}
	if err != nil {
		return err
	}
	s.Rooms.Emit(groupId, types.EventChangeGroupName, &types.ChangeGroupNameEvent{GroupId: groupId, Name: name})
	return nil
}

func (s *GroupService) ChangeGroupAvatar(ctx context.Context, conn *Conn, groupId, avatar string) error {
	if !validId(groupId) {
		return validationf("invalid group id")
	}
	if avatar == "" {
		return validationf("avatar must not be empty")
	}
	unlock := s.locks.Lock(groupId)
	defer unlock()

	group, err := s.getGroup(groupId, "group does not exist")
	if err != nil {
		return err
	}
	if !group.IsCreator(conn.UserID) {
		return policyf("only the creator can change the group avatar")
	}
	group.Avatar = avatar
	return s.Store.UpdateGroup(group)
}

// DeleteGroup notifies the group's room and then deletes the group. The default group is never deleted.
func (s *GroupService) DeleteGroup(ctx context.Context, conn *Conn, groupId string) error {
	if !validId(groupId) {
		return validationf("invalid group id")
	}
	unlock := s.locks.Lock(groupId)
	defer unlock()

	group, err := s.getGroup(groupId, "group does not exist")
	if err != nil {
		return err
	}
	if !group.IsCreator(conn.UserID) {
		return policyf("only the creator can delete the group")
	}
	if group.IsDefault {
		return policyf("the default group cannot be deleted")
	}

	s.Rooms.Emit(groupId, types.EventDeleteGroup, &types.DeleteGroupEvent{GroupId: groupId})
	err = s.Store.DeleteGroup(groupId)
	if err != nil {
		return err
	}
	if s.Presence != nil {
		s.Presence.Forget(groupId)
	}
	s.Logger.Info("group deleted", "group", groupId, "user", conn.UserID)
	return nil
}

func (s *GroupService) GetGroupBasicInfo(ctx context.Context, groupId string) (*types.GroupBasicInfo, error) {
	if !validId(groupId) {
		return nil, validationf("invalid group id")
	}
	group, err := s.getGroup(groupId, "group does not exist")
	if err != nil {
		return nil, err
	}
	return &types.GroupBasicInfo{
		Id:      group.Id,
		Name:    group.Name,
		Avatar:  group.Avatar,
		Members: len(group.Members),
	}, nil
}

// GetGroupOnlineMembers returns the online members of groupId, or only the fingerprint if known is current.
func (s *GroupService) GetGroupOnlineMembers(ctx context.Context, groupId, known string) (*presence.Result, error) {
	if !validId(groupId) {
		return nil, validationf("invalid group id")
	}
	res, err := s.Presence.GetOnlineMembers(ctx, groupId, known)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, notFoundf("group does not exist")
	}
	return res, err
}

// GetDefaultGroupOnlineMembers needs no authentication.
func (s *GroupService) GetDefaultGroupOnlineMembers(ctx context.Context, known string) (*presence.Result, error) {
	res, err := s.Presence.GetDefaultGroupOnlineMembers(ctx, known)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, notFoundf("default group does not exist")
	}
	return res, err
}
