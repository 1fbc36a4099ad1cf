package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/pkg/interfaces"
)

// wsPair upgrades one connection server-side and dials it client-side,
// returning the wrapped server connection and the raw client socket.
func wsPair(t *testing.T, connID, userID string) (*Connection, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- NewConnection(connID, userID, ws)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	conn := <-connCh
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

func readEnvelope(t *testing.T, client *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestEmitToConn(t *testing.T) {
	hub := NewHub()
	conn, client := wsPair(t, "c1", "u1")
	hub.Add(conn)

	require.NoError(t, hub.EmitToConn("c1", "greeting", map[string]string{"text": "hi"}))

	env := readEnvelope(t, client)
	assert.Equal(t, "greeting", env.Event)
	assert.JSONEq(t, `{"text":"hi"}`, string(env.Data))
}

func TestEmitToConnUnknown(t *testing.T) {
	hub := NewHub()
	err := hub.EmitToConn("ghost", "greeting", nil)
	assert.ErrorIs(t, err, interfaces.ErrConnNotFound)
}

func TestEmitToGroup(t *testing.T) {
	hub := NewHub()
	conn1, client1 := wsPair(t, "c1", "u1")
	conn2, client2 := wsPair(t, "c2", "u2")
	conn3, client3 := wsPair(t, "c3", "u3")
	hub.Add(conn1)
	hub.Add(conn2)
	hub.Add(conn3)

	hub.JoinGroup("c1", "room")
	hub.JoinGroup("c2", "room")

	hub.EmitToGroup("room", "message", map[string]string{"text": "hello"})

	for _, client := range []*websocket.Conn{client1, client2} {
		env := readEnvelope(t, client)
		assert.Equal(t, "message", env.Event)
	}

	// c3 never joined the group and receives nothing.
	require.NoError(t, client3.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := client3.ReadMessage()
	assert.Error(t, err)
}

func TestLeaveGroupStopsDelivery(t *testing.T) {
	hub := NewHub()
	conn, client := wsPair(t, "c1", "u1")
	hub.Add(conn)
	hub.JoinGroup("c1", "room")
	hub.LeaveGroup("c1", "room")

	hub.EmitToGroup("room", "message", map[string]string{"text": "hello"})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)
}

func TestRemoveDropsMemberships(t *testing.T) {
	hub := NewHub()
	conn, _ := wsPair(t, "c1", "u1")
	hub.Add(conn)
	hub.JoinGroup("c1", "room")
	hub.JoinGroup("c1", "u1")

	hub.Remove("c1")

	assert.Zero(t, hub.ConnectionCount())
	assert.ErrorIs(t, hub.EmitToConn("c1", "x", nil), interfaces.ErrConnNotFound)
	// Emitting to the old groups is a harmless no-op.
	hub.EmitToGroup("room", "message", nil)
}

func TestEmitAfterCloseFails(t *testing.T) {
	hub := NewHub()
	conn, _ := wsPair(t, "c1", "u1")
	hub.Add(conn)

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Emit("x", nil), ErrConnectionClosed)
}
