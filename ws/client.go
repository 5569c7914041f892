package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-presence/service"
	"github.com/tcriess/lightspeed-presence/types"
	"go.uber.org/ratelimit"
)

// Client is a middleman between the websocket connection and the services.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// session state, only touched by ReadLoop
	session *service.Conn

	dispatcher *Dispatcher
	limiter    ratelimit.Limiter
	logger     hclog.Logger

	registered chan struct{}
	doneChan   chan struct{}

	// WaitGroup which keeps track of the running read/write loops.
	sync.WaitGroup
}

// NewClient wraps conn. requestsPerSecond paces the requests of this client, 0 means unlimited.
func NewClient(hub *Hub, conn *websocket.Conn, session *service.Conn, dispatcher *Dispatcher, requestsPerSecond int, logger hclog.Logger) *Client {
	limiter := ratelimit.NewUnlimited()
	if requestsPerSecond > 0 {
		limiter = ratelimit.New(requestsPerSecond)
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		Send:       make(chan []byte, sendChannelSize),
		session:    session,
		dispatcher: dispatcher,
		limiter:    limiter,
		logger:     logger.With("conn", session.ID),
		registered: make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.session.ID
}

// ReadLoop reads requests from the websocket connection, handles them one after another and queues the
// responses.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.conn.Close()
		close(c.doneChan)
		c.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Info("ws closed unexpectedly", "error", err)
			}
			return
		}

		message := &types.WebsocketMessage{}
		err = json.Unmarshal(raw, message)
		if err != nil {
			c.logger.Debug("could not unmarshal ws message", "error", err)
			return
		}

		c.limiter.Take()
		resp := c.dispatcher.Handle(ctx, c.session, message)
		out, err := json.Marshal(resp)
		if err != nil {
			c.logger.Error("could not marshal response", "event", message.Event, "error", err)
			continue
		}
		c.hub.send(c.ID(), out)
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Done()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("could not send ping message, exiting write loop", "error", err)
				return
			}

		case <-c.doneChan:
			return
		}
	}
}
