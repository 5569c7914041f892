package ws

import (
	"net"
	"net/http"
	"strings"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-presence/persistence"
	"github.com/tcriess/lightspeed-presence/service"
)

// Server upgrades HTTP requests to websocket connections and serves them until they close.
type Server struct {
	hub               *Hub
	dispatcher        *Dispatcher
	store             persistence.Persister
	clock             clock.Clock
	requestsPerSecond int
	logger            hclog.Logger

	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, dispatcher *Dispatcher, store persistence.Persister, clk clock.Clock, requestsPerSecond int, logger hclog.Logger) *Server {
	return &Server{
		hub:               hub,
		dispatcher:        dispatcher,
		store:             store,
		clock:             clk,
		requestsPerSecond: requestsPerSecond,
		logger:            logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles one websocket connection. It returns once the connection is closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error", "error", err)
		return
	}
	// When this frame returns close the Websocket
	defer conn.Close() //nolint

	session := service.NewConn(uuid.NewString(), RemoteIP(r), s.clock.Now().UTC())
	if err := s.store.StoreConnection(session.Record()); err != nil {
		s.logger.Error("could not store connection", "error", err)
		return
	}
	c := NewClient(s.hub, conn, session, s.dispatcher, s.requestsPerSecond, s.logger)

	select {
	case s.hub.Register <- c:
	case <-s.hub.Done():
		s.logger.Debug("hub stopped, rejecting connection", "conn", session.ID)
		if err := s.store.DeleteConnection(session.ID); err != nil {
			s.logger.Error("could not delete connection", "conn", session.ID, "error", err)
		}
		return
	}
	<-c.registered
	defer func() {
		select {
		case s.hub.Unregister <- c:
		case <-s.hub.Done():
		}
	}()
	s.logger.Debug("connection opened", "conn", session.ID, "addr", session.IP)

	c.Add(2)
	go c.ReadLoop()
	go c.WriteLoop()
	<-c.doneChan
	s.logger.Debug("connection closed", "conn", session.ID)
}

// RemoteIP returns the client address of r, preferring the headers set by a reverse proxy.
func RemoteIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
