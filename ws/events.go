package ws

import (
	"context"
	"encoding/json"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-presence/service"
	"github.com/tcriess/lightspeed-presence/types"
)

const (
	errServer        = "server error"
	errUnknownEvent  = "unknown event"
	errLoginRequired = "please login first"
	errAdminRequired = "permission denied"
	errBadPayload    = "invalid payload"
)

var errPanic = errors.New("handler panicked")

// Services are the handlers requests are dispatched to.
type Services struct {
	Auth   *service.AuthService
	Groups *service.GroupService
	Users  *service.UserService
}

type handlerFunc func(ctx context.Context, conn *service.Conn, data map[string]interface{}) (interface{}, error)

type handler struct {
	fn    handlerFunc
	guest bool // allowed before authentication
	admin bool
}

// Dispatcher routes a request to its handler by event name. It is the boundary where unexpected errors are
// logged and replaced by a generic message.
type Dispatcher struct {
	handlers map[string]handler
	logger   hclog.Logger
}

// empty is the payload of operations without a result.
type empty struct{}

func NewDispatcher(s *Services, logger hclog.Logger) *Dispatcher {
	d := &Dispatcher{logger: logger}
	d.handlers = map[string]handler{
		types.WireEventRegister: {guest: true, fn: func(ctx context.Context, conn *service.Conn, data map[string]interface{}) (interface{}, error) {
			req := &types.CredentialsRequest{}
			if err := decode(data, req); err != nil {
				return nil, err
			}
			return s.Auth.Register(ctx, conn, req)
		}},
		types.WireEventLogin: {guest: true, fn: func(ctx context.Context, conn *service.Conn, data map[string]interface{}) (interface{}, error) {
			req := &types.CredentialsRequest{}
			if err := decode(data, req); err != nil {
				return nil, err
			}
			return s.Auth.Login(ctx, conn, req)
		}},
		types.WireEventLoginByToken: {guest: true, fn: func(ctx context.Context, conn *service.Conn, data map[string]interface{}) (interface{}, error) {
			req := &types.TokenRequest{}
			if err := decode(data, req); err != nil {
				return nil, err
			}
			return s.Auth.LoginByToken(ctx, conn, req)
		}},
		types.WireEventGuest: {guest: true, fn: func(ctx context.Context, conn *service.Conn, data map[string]interface{}) (interface{}, error) {
			env := types.ClientEnvironment{}
			if err := decode(data, &env); err != nil {
				return nil, err
			}
			return s.Auth.Guest(ctx, conn, env)
		}},
		types.WireEventGetDefaultGroupOnlineMembers: {guest: true, fn: groupHandler(func(ctx context.Context, conn *service.Conn, req *types.GroupRequest) (interface{}, error) {
			return s.Groups.GetDefaultGroupOnlineMembers(ctx, req.Cache)
		})},

		types.WireEventCreateGroup: {fn: groupHandler(func(ctx context.Context, conn *service.Conn, req *types.GroupRequest) (interface{}, error) {
			return s.Groups.CreateGroup(ctx, conn, req.Name)
		})},
		types.WireEventJoinGroup: {fn: groupHandler(func(ctx context.Context, conn *service.Conn, req *types.GroupRequest) (interface{}, error) {
			return s.Groups.JoinGroup(ctx, conn, req.GroupId)
		})},
		types.WireEventLeaveGroup: {fn: groupHandler(func(ctx context.Context, conn *service.Conn, req *types.GroupRequest) (interface{}, error) {
			return empty{}, s.Groups.LeaveGroup(ctx, conn, req.GroupId)
		})},
		types.WireEventChangeGroupName: {fn: groupHandler(func(ctx context.Context, conn *service.Conn, req *types.GroupRequest) (interface{}, error) {
			return empty{}, s.Groups.ChangeGroupName(ctx, conn, req.GroupId, req.Name)
		})},
		types.WireEventChangeGroupAvatar: {fn: groupHandler(func(ctx context.Context, conn *service.Conn, req *types.GroupRequest) (interface{}, error) {
			return empty{}, s.Groups.ChangeGroupAvatar(ctx, conn, req.GroupId, req.Avatar)
		})},
		types.WireEventDeleteGroup: {fn: groupHandler(func(ctx context.Context, conn *service.Conn, req *types.GroupRequest) (interface{}, error) {
			return empty{}, s.Groups.DeleteGroup(ctx, conn, req.GroupId)
		})},
		types.WireEventGetGroupBasicInfo: {fn: groupHandler(func(ctx context.Context, conn *service.Conn, req *types.GroupRequest) (interface{}, error) {
			return s.Groups.GetGroupBasicInfo(ctx, req.GroupId)
		})},
		types.WireEventGetGroupOnlineMembers: {fn: groupHandler(func(ctx context.Context, conn *service.Conn, req *types.GroupRequest) (interface{}, error) {
			return s.Groups.GetGroupOnlineMembers(ctx, req.GroupId, req.Cache)
		})},

		types.WireEventChangeAvatar: {fn: userHandler(func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error) {
			return empty{}, s.Users.ChangeAvatar(ctx, conn, req.Avatar)
		})},
		types.WireEventChangePassword: {fn: userHandler(func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error) {
			return empty{}, s.Users.ChangePassword(ctx, conn, req.OldPassword, req.NewPassword)
		})},
		types.WireEventChangeUsername: {fn: userHandler(func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error) {
			return empty{}, s.Users.ChangeUsername(ctx, conn, req.Username)
		})},
		types.WireEventAddFriend: {fn: userHandler(func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error) {
			return s.Users.AddFriend(ctx, conn, req.UserId)
		})},
		types.WireEventDeleteFriend: {fn: userHandler(func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error) {
			return empty{}, s.Users.DeleteFriend(ctx, conn, req.UserId)
		})},
		types.WireEventGetUserOnlineStatus: {fn: userHandler(func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error) {
			return s.Users.GetUserOnlineStatus(ctx, req.UserId)
		})},
		types.WireEventSetNotificationToken: {fn: userHandler(func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error) {
			return empty{}, s.Users.SetNotificationToken(ctx, conn, req.Token)
		})},

		types.WireEventResetUserPassword: {admin: true, fn: userHandler(func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error) {
			password, err := s.Users.ResetUserPassword(ctx, req.Username)
			if err != nil {
				return nil, err
			}
			return struct {
				NewPassword string `json:"newPassword"`
			}{password}, nil
		})},
		types.WireEventSetUserTag: {admin: true, fn: userHandler(func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error) {
			return empty{}, s.Users.SetUserTag(ctx, req.Username, req.Tag)
		})},
		types.WireEventGetUserIps: {admin: true, fn: userHandler(func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error) {
			return s.Users.GetUserIps(ctx, req.UserId)
		})},
	}
	return d
}

func groupHandler(fn func(ctx context.Context, conn *service.Conn, req *types.GroupRequest) (interface{}, error)) handlerFunc {
	return func(ctx context.Context, conn *service.Conn, data map[string]interface{}) (interface{}, error) {
		req := &types.GroupRequest{}
		if err := decode(data, req); err != nil {
			return nil, err
		}
		return fn(ctx, conn, req)
	}
}

func userHandler(fn func(ctx context.Context, conn *service.Conn, req *types.UserRequest) (interface{}, error)) handlerFunc {
	return func(ctx context.Context, conn *service.Conn, data map[string]interface{}) (interface{}, error) {
		req := &types.UserRequest{}
		if err := decode(data, req); err != nil {
			return nil, err
		}
		return fn(ctx, conn, req)
	}
}

// decode fills out from a request payload. Scalars are converted leniently, so "1" and 1 both decode into
// a string field.
func decode(data map[string]interface{}, out interface{}) error {
	if err := mapstructure.WeakDecode(data, out); err != nil {
		return &service.Error{Kind: service.KindValidation, Message: errBadPayload}
	}
	return nil
}

// Handle runs the request msg on behalf of conn and returns the response to send back. It never fails: every
// error is turned into the response's error string.
func (d *Dispatcher) Handle(ctx context.Context, conn *service.Conn, msg *types.WebsocketMessage) *types.WebsocketMessage {
	resp := &types.WebsocketMessage{Event: msg.Event, Seq: msg.Seq}
	h, ok := d.handlers[msg.Event]
	if !ok {
		resp.Error = errUnknownEvent
		return resp
	}
	if !h.guest && !conn.Authenticated() {
		resp.Error = errLoginRequired
		return resp
	}
	if h.admin && !conn.IsAdmin {
		resp.Error = errAdminRequired
		return resp
	}

	data := make(map[string]interface{})
	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			resp.Error = errBadPayload
			return resp
		}
	}

	result, err := d.call(ctx, h, conn, data, msg.Event)
	if err != nil {
		if kind := service.KindOf(err); kind != 0 {
			d.logger.Debug("request failed", "event", msg.Event, "conn", conn.ID, "kind", kind, "error", err)
			resp.Error = err.Error()
		} else {
			d.logger.Error("request failed", "event", msg.Event, "conn", conn.ID, "error", err)
			resp.Error = errServer
		}
		return resp
	}
	raw, err := json.Marshal(result)
	if err != nil {
		d.logger.Error("could not marshal result", "event", msg.Event, "error", err)
		resp.Error = errServer
		return resp
	}
	resp.Data = raw
	return resp
}

// call runs the handler and turns a panic into an unexpected error.
func (d *Dispatcher) call(ctx context.Context, h handler, conn *service.Conn, data map[string]interface{}, event string) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "event", event, "panic", r)
			result, err = nil, errPanic
		}
	}()
	return h.fn(ctx, conn, data)
}
