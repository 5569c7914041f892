package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-presence/types"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, seq uint64, data interface{}) {
	require.NoError(t, conn.WriteJSON(request(t, event, seq, data)))
}

// receive reads messages until one with event and seq arrives.
func receive(t *testing.T, conn *websocket.Conn, event string, seq uint64) *types.WebsocketMessage {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		msg := &types.WebsocketMessage{}
		require.NoError(t, conn.ReadJSON(msg))
		if msg.Event == event && msg.Seq == seq {
			return msg
		}
	}
}

func TestServerRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(NewServer(e.hub, e.dispatcher, e.store, e.clock, 0, hclog.NewNullLogger()))
	defer srv.Close()

	alice := dial(t, srv)
	bob := dial(t, srv)

	send(t, alice, types.WireEventRegister, 1, credentials("alice"))
	auth := &types.AuthResponse{}
	resp := receive(t, alice, types.WireEventRegister, 1)
	require.Empty(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, auth))
	assert.NotEmpty(t, auth.Token)
	require.Len(t, auth.Groups, 1)
	assert.NotNil(t, auth.Groups[0].Messages)
	assert.Contains(t, string(resp.Data), `"messages":[]`)

	send(t, bob, types.WireEventRegister, 1, credentials("bob"))
	resp = receive(t, bob, types.WireEventRegister, 1)
	require.Empty(t, resp.Error)
	bobAuth := &types.AuthResponse{}
	require.NoError(t, json.Unmarshal(resp.Data, bobAuth))

	send(t, alice, types.WireEventCreateGroup, 2, map[string]string{"name": "team"})
	resp = receive(t, alice, types.WireEventCreateGroup, 2)
	require.Empty(t, resp.Error)
	group := &types.GroupView{}
	require.NoError(t, json.Unmarshal(resp.Data, group))

	send(t, bob, types.WireEventJoinGroup, 2, map[string]string{"groupId": group.Id})
	require.Empty(t, receive(t, bob, types.WireEventJoinGroup, 2).Error)

	send(t, alice, types.WireEventChangeGroupName, 3, map[string]string{"groupId": group.Id, "name": "crew"})
	require.Empty(t, receive(t, alice, types.WireEventChangeGroupName, 3).Error)

	// pushed events carry no seq
	push := receive(t, bob, types.EventChangeGroupName, 0)
	assert.JSONEq(t, `{"groupId":"`+group.Id+`","name":"crew"}`, string(push.Data))

	send(t, alice, types.WireEventGetUserOnlineStatus, 4, map[string]string{"userId": bobAuth.Id})
	resp = receive(t, alice, types.WireEventGetUserOnlineStatus, 4)
	require.Empty(t, resp.Error)
	assert.JSONEq(t, `{"isOnline":true}`, string(resp.Data))

	require.NoError(t, bob.Close())
	assert.Eventually(t, func() bool {
		conns, err := e.store.GetConnectionsByUsers([]string{bobAuth.Id})
		return err == nil && len(conns) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return e.hub.NoClients() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, e.hub.RoomSize(group.Id))
}

func TestServerUnauthenticated(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(NewServer(e.hub, e.dispatcher, e.store, e.clock, 0, hclog.NewNullLogger()))
	defer srv.Close()

	conn := dial(t, srv)
	send(t, conn, types.WireEventJoinGroup, 1, map[string]string{"groupId": e.lobby.Id})
	assert.Equal(t, errLoginRequired, receive(t, conn, types.WireEventJoinGroup, 1).Error)

	send(t, conn, types.WireEventGuest, 2, map[string]string{"os": "ios", "browser": "safari", "environment": "mobile"})
	resp := receive(t, conn, types.WireEventGuest, 2)
	require.Empty(t, resp.Error)
	view := &types.GroupHistoryView{}
	require.NoError(t, json.Unmarshal(resp.Data, view))
	assert.Equal(t, e.lobby.Id, view.Id)
	assert.Equal(t, 1, e.hub.RoomSize(e.lobby.Id))
}

func TestServerHubStopped(t *testing.T) {
	e := newTestEnv(t)
	srv := NewServer(e.hub, e.dispatcher, e.store, e.clock, 0, hclog.NewNullLogger())
	returned := make(chan struct{}, 2)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.ServeHTTP(w, r)
		returned <- struct{}{}
	}))
	defer ts.Close()

	open := dial(t, ts)
	require.Eventually(t, func() bool { return e.hub.NoClients() == 1 }, 5*time.Second, 10*time.Millisecond)

	e.stopHub()
	select {
	case <-e.hub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}

	// closing a registered connection after the hub stopped must not hang its handler
	require.NoError(t, open.Close())
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("handler of the open connection did not return")
	}

	// new connections are turned away without waiting for the hub
	late := dial(t, ts)
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("handler of the late connection did not return")
	}
	require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := late.ReadMessage()
	assert.Error(t, err)
}

func TestRemoteIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", RemoteIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", RemoteIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", RemoteIP(r))
}
