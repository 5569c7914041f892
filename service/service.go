// Package service implements the operations a client can request: authentication, group membership, friend
// edges, profile changes and presence queries. Every operation checks its preconditions in a fixed order and
// fails with the first *Error it hits, before anything is written.
package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-presence/config"
	"github.com/tcriess/lightspeed-presence/kvstore"
	"github.com/tcriess/lightspeed-presence/persistence"
	"github.com/tcriess/lightspeed-presence/presence"
	"github.com/tcriess/lightspeed-presence/session"
	"github.com/tcriess/lightspeed-presence/throttle"
	"github.com/tcriess/lightspeed-presence/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	avatarCount      = 15
	newUserPeriod    = 24 * time.Hour
	guestHistory     = 15
	joinHistory      = 3
	newUserKeyPrefix = "newuser:"
)

// passwordCost is the bcrypt cost of stored password hashes.
var passwordCost = bcrypt.DefaultCost

// Deps are the collaborators shared by the services.
type Deps struct {
	Config   *config.Config
	Store    persistence.Persister
	KV       kvstore.Store
	Signer   *session.Signer
	Throttle *throttle.Throttle
	Presence *presence.Cache
	Status   *presence.StatusCache
	Rooms    Rooms
	Clock    clock.Clock
	Logger   hclog.Logger
}

func (d *Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock.Now().UTC()
}

// IsAdministrator reports whether userId is one of the configured administrators.
func IsAdministrator(userId string, administrators []string) bool {
	if userId == "" {
		return false
	}
	for _, a := range administrators {
		if a == userId {
			return true
		}
	}
	return false
}

func randomAvatar() string {
	return fmt.Sprintf("/avatar/%d.jpg", rand.Intn(avatarCount))
}

func validId(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// hashPassword returns the bcrypt hash of password and the salt prefix embedded in it.
func hashPassword(password string) (hash, salt string, err error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", "", err
	}
	// $2a$10$ followed by 22 characters of salt
	return string(h), string(h[:29]), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (d *Deps) join(conn *Conn, room string) {
	d.Rooms.Join(conn.ID, room)
	conn.addRoom(room)
}

func (d *Deps) leave(conn *Conn, room string) {
	d.Rooms.Leave(conn.ID, room)
	conn.removeRoom(room)
}

// saveConn writes the connection record. Presence queries of other connections read it.
func (d *Deps) saveConn(conn *Conn) error {
	return d.Store.StoreConnection(conn.Record())
}

// commit writes the record of next, the future state of conn, and then runs apply. If apply fails the
// previous record of conn is written back, so a failed operation leaves neither a durable change nor a
// changed connection behind. On success conn takes the state of next, without joining any live room.
func (d *Deps) commit(conn, next *Conn, apply func() error) error {
	if err := d.saveConn(next); err != nil {
		return err
	}
	if err := apply(); err != nil {
		if rerr := d.saveConn(conn); rerr != nil {
			d.Logger.Error("could not restore connection", "conn", conn.ID, "error", rerr)
		}
		return err
	}
	*conn = *next
	return nil
}

// messageViews resolves the senders of msgs, which are newest first, and returns them oldest first.
func (d *Deps) messageViews(msgs []*types.Message) ([]*types.MessageView, error) {
	ids := make([]string, 0, len(msgs))
	seen := make(map[string]bool)
	for _, m := range msgs {
		if !seen[m.From] {
			seen[m.From] = true
			ids = append(ids, m.From)
		}
	}
	users, err := d.Store.GetUsers(ids)
	if err != nil {
		return nil, err
	}
	byId := make(map[string]*types.UserView, len(users))
	for _, u := range users {
		byId[u.Id] = types.NewUserView(u)
	}
	views := make([]*types.MessageView, len(msgs))
	for i, m := range msgs {
		views[len(msgs)-1-i] = &types.MessageView{
			Id:         m.Id,
			Type:       m.Type,
			Content:    m.Content,
			From:       byId[m.From],
			CreateTime: m.CreateTime,
			Deleted:    m.Deleted,
		}
	}
	return views, nil
}

func (d *Deps) recentMessages(groupId string, limit int) ([]*types.MessageView, error) {
	msgs, err := d.Store.GetGroupMessages(groupId, limit)
	if err != nil {
		return nil, err
	}
	return d.messageViews(msgs)
}

func newUserKey(userId string) string {
	return newUserKeyPrefix + userId
}

// markNewUser flags users registered less than a day ago until their first day is over.
func (d *Deps) markNewUser(ctx context.Context, user *types.User) error {
	left := user.CreateTime.Add(newUserPeriod).Sub(d.now())
	if left <= 0 {
		return nil
	}
	return d.KV.Set(ctx, newUserKey(user.Id), user.Id, left)
}

// keyedMutex serializes work per key, entries are dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock locks key and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
