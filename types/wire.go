package types

import (
	"encoding/json"
	"time"
)

// Request event names accepted over the websocket connection.
const (
	WireEventRegister                     = "register"
	WireEventLogin                        = "login"
	WireEventLoginByToken                 = "loginByToken"
	WireEventGuest                        = "guest"
	WireEventCreateGroup                  = "createGroup"
	WireEventJoinGroup                    = "joinGroup"
	WireEventLeaveGroup                   = "leaveGroup"
	WireEventChangeGroupName              = "changeGroupName"
	WireEventChangeGroupAvatar            = "changeGroupAvatar"
	WireEventDeleteGroup                  = "deleteGroup"
	WireEventGetGroupBasicInfo            = "getGroupBasicInfo"
	WireEventGetGroupOnlineMembers        = "getGroupOnlineMembers"
	WireEventGetDefaultGroupOnlineMembers = "getDefaultGroupOnlineMembers"
	WireEventChangeAvatar                 = "changeAvatar"
	WireEventChangePassword               = "changePassword"
	WireEventChangeUsername               = "changeUsername"
	WireEventAddFriend                    = "addFriend"
	WireEventDeleteFriend                 = "deleteFriend"
	WireEventResetUserPassword            = "resetUserPassword"
	WireEventSetUserTag                   = "setUserTag"
	WireEventGetUserIps                   = "getUserIps"
	WireEventGetUserOnlineStatus          = "getUserOnlineStatus"
	WireEventSetNotificationToken         = "setNotificationToken"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection, in both directions.
// Seq correlates a response with its request; server-pushed events carry no Seq.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ClientEnvironment describes the client a connection comes from. Environment is the fingerprint a session
// token is bound to.
type ClientEnvironment struct {
	Os          string `json:"os" mapstructure:"os"`
	Browser     string `json:"browser" mapstructure:"browser"`
	Environment string `json:"environment" mapstructure:"environment"`
}

type CredentialsRequest struct {
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	ClientEnvironment `mapstructure:",squash"`
}

type TokenRequest struct {
	Token             string `mapstructure:"token"`
	ClientEnvironment `mapstructure:",squash"`
}

type GroupRequest struct {
	GroupId string `mapstructure:"groupId"`
	Name    string `mapstructure:"name"`
	Avatar  string `mapstructure:"avatar"`
	Cache   string `mapstructure:"cache"`
}

type UserRequest struct {
	UserId      string `mapstructure:"userId"`
	Username    string `mapstructure:"username"`
	Avatar      string `mapstructure:"avatar"`
	Tag         string `mapstructure:"tag"`
	OldPassword string `mapstructure:"oldPassword"`
	NewPassword string `mapstructure:"newPassword"`
	Token       string `mapstructure:"token"`
}

// UserView is the public projection of a user.
type UserView struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type FriendView struct {
	From       string    `json:"from"`
	To         *UserView `json:"to"`
	CreateTime time.Time `json:"createTime"`
}

type GroupView struct {
	Id         string    `json:"id"`
	Name       string    `json:"name"`
	Avatar     string    `json:"avatar"`
	CreateTime time.Time `json:"createTime"`
	Creator    string    `json:"creator"`
}

// GroupHistoryView is a group together with its most recent messages, oldest first.
type GroupHistoryView struct {
	GroupView
	Messages []*MessageView `json:"messages"`
}

type GroupBasicInfo struct {
	Id      string `json:"id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar"`
	Members int    `json:"members"`
}

// AuthResponse is returned by register, login and loginByToken. Token is only set when a new one was issued.
// Groups carry no history, their message lists are always empty.
type AuthResponse struct {
	Id                 string              `json:"id"`
	Avatar             string              `json:"avatar"`
	Username           string              `json:"username"`
	Tag                string              `json:"tag,omitempty"`
	Groups             []*GroupHistoryView `json:"groups"`
	Friends            []*FriendView       `json:"friends"`
	Token              string              `json:"token,omitempty"`
	IsAdmin            bool                `json:"isAdmin"`
	NotificationTokens []string            `json:"notificationTokens"`
}

type AddFriendResponse struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// NewGroupView projects g without its members.
func NewGroupView(g *Group) *GroupView {
	return &GroupView{
		Id:         g.Id,
		Name:       g.Name,
		Avatar:     g.Avatar,
		CreateTime: g.CreateTime,
		Creator:    g.Creator,
	}
}

// NewGroupEntry is g without message history.
func NewGroupEntry(g *Group) *GroupHistoryView {
	return &GroupHistoryView{GroupView: *NewGroupView(g), Messages: make([]*MessageView, 0)}
}

func NewUserView(u *User) *UserView {
	return &UserView{Id: u.Id, Username: u.Username, Avatar: u.Avatar}
}
