package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-presence/persistence"
	"github.com/tcriess/lightspeed-presence/types"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

// Hub keeps track of the live clients and of the rooms their connections are enrolled in. It implements
// service.Rooms.
type Hub struct {
	// Registered clients, by connection id.
	clients map[string]*Client

	// room -> connection ids
	rooms map[string]map[string]struct{}

	// Register a new client to the hub.
	Register chan *Client

	// Unregister a client from the hub.
	Unregister chan *Client

	// closed when Run returns
	done chan struct{}

	store  persistence.Persister
	logger hclog.Logger

	// guards clients and rooms, and sending to a client's Send channel
	sync.RWMutex
}

func NewHub(store persistence.Persister, logger hclog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		store:      store,
		logger:     logger,
	}
}

// NoClients returns the number of clients registered
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

// Done is closed once Run has returned. Register and Unregister are not served anymore after that.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run is the main hub event loop handling register and unregister events. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.Register:
			h.Lock()
			h.clients[client.ID()] = client
			h.Unlock()
			close(client.registered)
			h.logger.Debug("client registered", "conn", client.ID())

		case client := <-h.Unregister:
			h.unregister(client)

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) unregister(client *Client) {
	id := client.ID()
	h.Lock()
	if _, ok := h.clients[id]; !ok {
		h.Unlock()
		return
	}
	delete(h.clients, id)
	for room, members := range h.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	// nobody sends to Send without holding the read lock and checking registration first
	close(client.Send)
	h.Unlock()

	// a connection that is gone must not count as online anymore
	if err := h.store.DeleteConnection(id); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		h.logger.Error("could not delete connection", "conn", id, "error", err)
	}
	h.logger.Debug("client unregistered", "conn", id)
}

func (h *Hub) Join(connId, room string) {
	h.Lock()
	defer h.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[connId] = struct{}{}
}

func (h *Hub) Leave(connId, room string) {
	h.Lock()
	defer h.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, connId)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize returns the number of connections enrolled in room.
func (h *Hub) RoomSize(room string) int {
	h.RLock()
	defer h.RUnlock()
	return len(h.rooms[room])
}

// Emit sends event to every connection in room.
func (h *Hub) Emit(room, event string, payload interface{}) {
	msg, err := pushMessage(event, payload)
	if err != nil {
		h.logger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	for id := range h.rooms[room] {
		h.sendLocked(id, msg)
	}
}

// EmitTo sends event to the listed connections.
func (h *Hub) EmitTo(connIds []string, event string, payload interface{}) {
	msg, err := pushMessage(event, payload)
	if err != nil {
		h.logger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	for _, id := range connIds {
		h.sendLocked(id, msg)
	}
}

// send queues msg for the connection id, if it is still registered.
func (h *Hub) send(id string, msg []byte) {
	h.RLock()
	defer h.RUnlock()
	h.sendLocked(id, msg)
}

func (h *Hub) sendLocked(id string, msg []byte) {
	client, ok := h.clients[id]
	if !ok {
		return
	}
	select {
	case client.Send <- msg:
	default:
		h.logger.Warn("send buffer full, dropping message", "conn", id)
	}
}

func pushMessage(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.WebsocketMessage{Event: event, Data: data})
}
