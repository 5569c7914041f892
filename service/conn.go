package service

import (
	"time"

	"github.com/tcriess/lightspeed-presence/types"
)

// Conn is the state of one client connection. It starts out unauthenticated (empty UserID) and is
// authenticated by one of the AuthService operations. Requests of one connection are handled one after
// another, so Conn needs no locking.
type Conn struct {
	ID      string
	IP      string
	UserID  string
	IsAdmin bool
	types.ClientEnvironment
	CreateTime time.Time

	rooms []string
}

func NewConn(id, ip string, createTime time.Time) *Conn {
	return &Conn{ID: id, IP: ip, CreateTime: createTime}
}

func (c *Conn) Authenticated() bool {
	return c.UserID != ""
}

func (c *Conn) Rooms() []string {
	return append([]string(nil), c.rooms...)
}

// clone copies c including its room list.
func (c *Conn) clone() *Conn {
	cp := *c
	cp.rooms = c.Rooms()
	return &cp
}

func (c *Conn) addRoom(room string) {
	for _, r := range c.rooms {
		if r == room {
			return
		}
	}
	c.rooms = append(c.rooms, room)
}

func (c *Conn) removeRoom(room string) {
	for i, r := range c.rooms {
		if r == room {
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			return
		}
	}
}

// Record is the durable form of the connection.
func (c *Conn) Record() *types.Connection {
	return &types.Connection{
		Id:          c.ID,
		UserId:      c.UserID,
		Ip:          c.IP,
		Os:          c.Os,
		Browser:     c.Browser,
		Environment: c.Environment,
		Rooms:       c.Rooms(),
		CreateTime:  c.CreateTime,
	}
}

// Rooms delivers events to the connections enrolled in a room.
type Rooms interface {
	Join(connId, room string)
	Leave(connId, room string)
	// Emit sends event to every connection in room.
	Emit(room, event string, payload interface{})
	// EmitTo sends event to the listed connections.
	EmitTo(connIds []string, event string, payload interface{})
}

// NopRooms discards everything, for callers without live connections such as the admin CLI.
type NopRooms struct{}

func (NopRooms) Join(string, string) {}
func (NopRooms) Leave(string, string) {}
func (NopRooms) Emit(string, string, interface{}) {}
func (NopRooms) EmitTo([]string, string, interface{}) {}
