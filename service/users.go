package service

import (
	"context"
	"regexp"

	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-presence/persistence"
	"github.com/tcriess/lightspeed-presence/types"
)

// ResetPassword is the password a user gets after an administrator reset it.
const ResetPassword = "helloworld"

// A tag is up to five units, each either one CJK character or one or two ASCII letters/digits.
var tagPattern = regexp.MustCompile(`^([0-9a-zA-Z]{1,2}|[\x{4e00}-\x{9eff}]){1,5}$`)

// UserService changes profiles and friend edges. The admin operations are not checked here, callers must
// only invoke them for administrators.
type UserService struct {
	*Deps
}

func NewUserService(deps *Deps) *UserService {
	return &UserService{Deps: deps}
}

func (s *UserService) getUser(id string) (*types.User, error) {
	user, err := s.Store.GetUser(id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, notFoundf("user does not exist")
	}
	return user, err
}

func (s *UserService) getUserByUsername(username string) (*types.User, error) {
	user, err := s.Store.GetUserByUsername(username)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, notFoundf("user does not exist")
	}
	return user, err
}

func (s *UserService) ChangeAvatar(ctx context.Context, conn *Conn, avatar string) error {
	if avatar == "" {
		return validationf("avatar must not be empty")
	}
	user, err := s.getUser(conn.UserID)
	if err != nil {
		return err
	}
	user.Avatar = avatar
	return s.Store.UpdateUser(user)
}

// AddFriend adds the edge conn's user -> userId. The reverse edge is not touched.
func (s *UserService) AddFriend(ctx context.Context, conn *Conn, userId string) (*types.AddFriendResponse, error) {
	if !validId(userId) {
		return nil, validationf("invalid user id")
	}
	if userId == conn.UserID {
		return nil, policyf("you cannot add yourself as a friend")
	}
	user, err := s.Store.GetUser(userId)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, notFoundf("cannot add friend, user does not exist")
	}
	if err != nil {
		return nil, err
	}
	friend := &types.Friend{From: conn.UserID, To: user.Id, CreateTime: s.now()}
	err = s.Store.AddFriend(friend)
	if errors.Is(err, persistence.ErrDuplicate) {
		return nil, policyf("you are already friends")
	}
	if err != nil {
		return nil, err
	}
	return &types.AddFriendResponse{
		Id:       user.Id,
		Username: user.Username,
		Avatar:   user.Avatar,
		From:     friend.From,
		To:       friend.To,
	}, nil
}

// DeleteFriend removes the edge conn's user -> userId, if there is one.
func (s *UserService) DeleteFriend(ctx context.Context, conn *Conn, userId string) error {
	if !validId(userId) {
		return validationf("invalid user id")
	}
	user, err := s.getUser(userId)
	if err != nil {
		return err
	}
	err = s.Store.DeleteFriend(conn.UserID, user.Id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	return err
}

// ChangePassword does not invalidate issued tokens, they stay valid until they expire.
func (s *UserService) ChangePassword(ctx context.Context, conn *Conn, oldPassword, newPassword string) error {
	if newPassword == "" {
		return validationf("new password must not be empty")
	}
	if oldPassword == newPassword {
		return validationf("the new password must differ from the old one")
	}
	user, err := s.getUser(conn.UserID)
	if err != nil {
		return err
	}
	if !checkPassword(user.Password, oldPassword) {
		return policyf("old password is wrong")
	}
	return s.setPassword(user, newPassword)
}

func (s *UserService) setPassword(user *types.User, password string) error {
	hash, salt, err := hashPassword(password)
	if err != nil {
		return err
	}
	user.Password = hash
	user.Salt = salt
	return s.Store.UpdateUser(user)
}

func (s *UserService) ChangeUsername(ctx context.Context, conn *Conn, username string) error {
	if username == "" {
		return validationf("username must not be empty")
	}
	_, err := s.Store.GetUserByUsername(username)
	if err == nil {
		return policyf("username already exists, try another one")
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	user, err := s.getUser(conn.UserID)
	if err != nil {
		return err
	}
	user.Username = username
	err = s.Store.UpdateUser(user)
	if errors.Is(err, persistence.ErrDuplicate) {
		return policyf("username already exists, try another one")
	}
	return err
}

// ResetUserPassword sets the password of username to ResetPassword and returns it.
func (s *UserService) ResetUserPassword(ctx context.Context, username string) (string, error) {
	if username == "" {
		return "", validationf("username must not be empty")
	}
	user, err := s.getUserByUsername(username)
	if err != nil {
		return "", err
	}
	if err := s.setPassword(user, ResetPassword); err != nil {
		return "", err
	}
	s.Logger.Info("password reset", "user", user.Id)
	return ResetPassword, nil
}

// SetUserTag sets the display tag of username and pushes it to all of the user's connections.
func (s *UserService) SetUserTag(ctx context.Context, username, tag string) error {
	if username == "" {
		return validationf("username must not be empty")
	}
	if tag == "" {
		return validationf("tag must not be empty")
	}
	if !tagPattern.MatchString(tag) {
		return validationf("invalid tag, up to 5 characters or 10 letters are allowed")
	}
	user, err := s.getUserByUsername(username)
	if err != nil {
		return err
	}
	user.Tag = tag
	if err := s.Store.UpdateUser(user); err != nil {
		return err
	}
	conns, err := s.Store.GetConnectionsByUsers([]string{user.Id})
	if err != nil {
		return err
	}
	if len(conns) > 0 {
		ids := make([]string, len(conns))
		for i, c := range conns {
			ids[i] = c.Id
		}
		s.Rooms.EmitTo(ids, types.EventChangeTag, tag)
	}
	return nil
}

// GetUserIps returns the distinct addresses userId is connected from.
func (s *UserService) GetUserIps(ctx context.Context, userId string) ([]string, error) {
	if userId == "" {
		return nil, validationf("userId must not be empty")
	}
	if !validId(userId) {
		return nil, validationf("invalid user id")
	}
	conns, err := s.Store.GetConnectionsByUsers([]string{userId})
	if err != nil {
		return nil, err
	}
	ips := make([]string, 0, len(conns))
	seen := make(map[string]bool)
	for _, c := range conns {
		if !seen[c.Ip] {
			seen[c.Ip] = true
			ips = append(ips, c.Ip)
		}
	}
	return ips, nil
}

type OnlineStatus struct {
	IsOnline bool `json:"isOnline"`
}

func (s *UserService) GetUserOnlineStatus(ctx context.Context, userId string) (*OnlineStatus, error) {
	if userId == "" {
		return nil, validationf("userId must not be empty")
	}
	if !validId(userId) {
		return nil, validationf("invalid user id")
	}
	online, err := s.Status.IsOnline(userId)
	if err != nil {
		return nil, err
	}
	return &OnlineStatus{IsOnline: online}, nil
}

// SetNotificationToken binds a push notification token to conn's user. A token already bound to another user
// moves over to this one.
func (s *UserService) SetNotificationToken(ctx context.Context, conn *Conn, token string) error {
	if token == "" {
		return validationf("token must not be empty")
	}
	err := s.Store.AddNotificationToken(&types.Notification{Token: token, UserId: conn.UserID, CreateTime: s.now()})
	if err != nil {
		return err
	}
	s.Logger.Debug("notification token set", "user", conn.UserID)
	return nil
}
