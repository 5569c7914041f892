package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-presence/kvstore"
	"github.com/tcriess/lightspeed-presence/persistence"
	"github.com/tcriess/lightspeed-presence/types"
)

type AuthService struct {
	*Deps
}

func NewAuthService(deps *Deps) *AuthService {
	return &AuthService{Deps: deps}
}

// Register creates a new user in the default group and authenticates conn as that user.
func (s *AuthService) Register(ctx context.Context, conn *Conn, req *types.CredentialsRequest) (*types.AuthResponse, error) {
	if s.Config.DisableRegister {
		return nil, policyf("registration is disabled, please contact an administrator")
	}
	if req.Username == "" {
		return nil, validationf("username must not be empty")
	}
	if req.Password == "" {
		return nil, validationf("password must not be empty")
	}
	_, err := s.Store.GetUserByUsername(req.Username)
	if err == nil {
		return nil, policyf("username already exists")
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	allowed, err := s.Throttle.Allow(ctx, conn.IP)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, policyf("too many registrations from your address, please try again later")
	}
	defaultGroup, err := s.Store.GetDefaultGroup()
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, notFoundf("default group does not exist")
	}
	if err != nil {
		return nil, err
	}

	hash, salt, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := &types.User{
		Id:            uuid.NewString(),
		Username:      req.Username,
		Password:      hash,
		Salt:          salt,
		Avatar:        randomAvatar(),
		CreateTime:    now,
		LastLoginTime: now,
		LastLoginIp:   conn.IP,
	}
	token, err := s.Signer.Issue(user.Id, req.Environment)
	if err != nil {
		return nil, err
	}

	next := conn.clone()
	s.authenticate(next, user, req.ClientEnvironment)
	next.addRoom(defaultGroup.Id)
	err = s.commit(conn, next, func() error {
		return s.Store.CreateUserInGroup(user, defaultGroup.Id)
	})
	if errors.Is(err, persistence.ErrDuplicate) {
		return nil, policyf("username already exists")
	}
	if err != nil {
		return nil, err
	}
	s.join(conn, defaultGroup.Id)
	if defaultGroup.Creator == "" {
		defaultGroup.Creator = user.Id
	}

	// the user exists now, failing to count or mark it must not fail the registration
	if err := s.Throttle.Record(ctx, conn.IP); err != nil {
		s.Logger.Error("could not record registration", "addr", conn.IP, "error", err)
	}
	if err := s.markNewUser(ctx, user); err != nil {
		s.Logger.Error("could not mark new user", "user", user.Id, "error", err)
	}
	s.Logger.Info("user registered", "user", user.Id, "username", user.Username, "addr", conn.IP)

	return &types.AuthResponse{
		Id:                 user.Id,
		Avatar:             user.Avatar,
		Username:           user.Username,
		Groups:             []*types.GroupHistoryView{types.NewGroupEntry(defaultGroup)},
		Friends:            make([]*types.FriendView, 0),
		Token:              token,
		IsAdmin:            conn.IsAdmin,
		NotificationTokens: make([]string, 0),
	}, nil
}

// Login authenticates conn by username and password.
func (s *AuthService) Login(ctx context.Context, conn *Conn, req *types.CredentialsRequest) (*types.AuthResponse, error) {
	if req.Username == "" {
		return nil, validationf("username must not be empty")
	}
	if req.Password == "" {
		return nil, validationf("password must not be empty")
	}
	user, err := s.Store.GetUserByUsername(req.Username)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, notFoundf("user does not exist")
	}
	if err != nil {
		return nil, err
	}
	if !checkPassword(user.Password, req.Password) {
		return nil, policyf("wrong password")
	}
	token, err := s.Signer.Issue(user.Id, req.Environment)
	if err != nil {
		return nil, err
	}
	return s.login(ctx, conn, user, req.ClientEnvironment, token)
}

// LoginByToken authenticates conn with a token from an earlier login. The token is not reissued.
func (s *AuthService) LoginByToken(ctx context.Context, conn *Conn, req *types.TokenRequest) (*types.AuthResponse, error) {
	if req.Token == "" {
		return nil, validationf("token must not be empty")
	}
	payload, err := s.Signer.Verify(req.Token, req.Environment)
	if err != nil {
		s.Logger.Debug("token rejected", "conn", conn.ID, "reason", err)
		return nil, notFoundf("invalid token")
	}
	user, err := s.Store.GetUser(payload.UserID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, notFoundf("user does not exist")
	}
	if err != nil {
		return nil, err
	}
	return s.login(ctx, conn, user, req.ClientEnvironment, "")
}

// login is the part common to both login variants once the user is known.
func (s *AuthService) login(ctx context.Context, conn *Conn, user *types.User, env types.ClientEnvironment, token string) (*types.AuthResponse, error) {
	if err := s.markNewUser(ctx, user); err != nil {
		s.Logger.Error("could not mark new user", "user", user.Id, "error", err)
	}
	groups, err := s.Store.GetGroupsByMember(user.Id)
	if err != nil {
		return nil, err
	}
	friends, err := s.friendViews(user.Id)
	if err != nil {
		return nil, err
	}
	notificationTokens, err := s.Store.GetNotificationTokens(user.Id)
	if err != nil {
		return nil, err
	}

	next := conn.clone()
	s.authenticate(next, user, env)
	groupViews := make([]*types.GroupHistoryView, len(groups))
	for i, g := range groups {
		next.addRoom(g.Id)
		groupViews[i] = types.NewGroupEntry(g)
	}
	user.LastLoginTime = s.now()
	user.LastLoginIp = conn.IP
	err = s.commit(conn, next, func() error {
		return s.Store.UpdateUser(user)
	})
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		s.join(conn, g.Id)
	}
	s.Logger.Debug("user logged in", "user", user.Id, "conn", conn.ID, "new_token", token != "")

	return &types.AuthResponse{
		Id:                 user.Id,
		Avatar:             user.Avatar,
		Username:           user.Username,
		Tag:                user.Tag,
		Groups:             groupViews,
		Friends:            friends,
		Token:              token,
		IsAdmin:            conn.IsAdmin,
		NotificationTokens: notificationTokens,
	}, nil
}

func (s *AuthService) authenticate(conn *Conn, user *types.User, env types.ClientEnvironment) {
	conn.UserID = user.Id
	conn.IsAdmin = IsAdministrator(user.Id, s.Config.Administrators)
	conn.ClientEnvironment = env
}

func (s *AuthService) friendViews(userId string) ([]*types.FriendView, error) {
	friends, err := s.Store.GetFriends(userId)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(friends))
	for i, f := range friends {
		ids[i] = f.To
	}
	users, err := s.Store.GetUsers(ids)
	if err != nil {
		return nil, err
	}
	byId := make(map[string]*types.User, len(users))
	for _, u := range users {
		byId[u.Id] = u
	}
	views := make([]*types.FriendView, 0, len(friends))
	for _, f := range friends {
		to, ok := byId[f.To]
		if !ok {
			continue
		}
		views = append(views, &types.FriendView{From: f.From, To: types.NewUserView(to), CreateTime: f.CreateTime})
	}
	return views, nil
}

// Guest enrolls an anonymous conn into the default group and returns the group with its recent history.
func (s *AuthService) Guest(ctx context.Context, conn *Conn, env types.ClientEnvironment) (*types.GroupHistoryView, error) {
	group, err := s.Store.GetDefaultGroup()
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, notFoundf("default group does not exist")
	}
	if err != nil {
		return nil, err
	}
	messages, err := s.recentMessages(group.Id, guestHistory)
	if err != nil {
		return nil, err
	}
	next := conn.clone()
	next.ClientEnvironment = env
	next.addRoom(group.Id)
	if err := s.commit(conn, next, func() error { return nil }); err != nil {
		return nil, err
	}
	s.join(conn, group.Id)
	return &types.GroupHistoryView{GroupView: *types.NewGroupView(group), Messages: messages}, nil
}

// IsNewUser reports whether userId registered less than a day ago, as of its last registration or login.
func (s *AuthService) IsNewUser(ctx context.Context, userId string) (bool, error) {
	_, err := s.KV.Get(ctx, newUserKey(userId))
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
