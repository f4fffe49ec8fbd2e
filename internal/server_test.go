package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/storage"
)

func newTestServer(t *testing.T, opts ServerOptions) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}
	server := NewServer(opts)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.ServeWS)
	mux.HandleFunc("/health", server.HandleHealth)
	mux.HandleFunc("/rooms", server.HandleRooms)
	mux.HandleFunc("/exists", server.HandleRoomExists)
	mux.HandleFunc("/api/audit", server.HandleAudit)
	mux.Handle("/metrics", server.MetricsHandler())
	httpServer := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.CloseConnections()
		httpServer.Close()
		server.Close()
	})
	return server, httpServer
}

func newAuditStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func dial(t *testing.T, httpServer *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func expectFrame(t *testing.T, conn *websocket.Conn, frameType string) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, frameType, frame.Type, "unexpected frame %+v", frame)
	return frame
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func joinOverWire(t *testing.T, conn *websocket.Conn, name, room string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Frame{Type: TypeJoin, Name: name, Room: room}))
	ack := expectFrame(t, conn, TypeJoinAck)
	require.Equal(t, room, ack.Room)
	expectFrame(t, conn, TypeRoster)
	expectFrame(t, conn, TypeRooms)
}

func TestWebsocketChatFlow(t *testing.T) {
	store := newAuditStore(t)
	server, httpServer := newTestServer(t, ServerOptions{Store: store})

	alice := dial(t, httpServer)
	welcome := expectFrame(t, alice, TypeWelcome)
	assert.Equal(t, DefaultWelcome, welcome.Text)
	assert.Empty(t, expectFrame(t, alice, TypeRooms).Rooms)
	joinOverWire(t, alice, "alice", "lobby")

	bob := dial(t, httpServer)
	expectFrame(t, bob, TypeWelcome)
	assert.Equal(t, []string{"lobby"}, expectFrame(t, bob, TypeRooms).Rooms)
	joinOverWire(t, bob, "bob", "lobby")

	joined := expectFrame(t, alice, TypeJoined)
	assert.Equal(t, "bob", joined.Name)
	assert.Equal(t, []string{"alice", "bob"}, rosterNames(expectFrame(t, alice, TypeRoster)))
	expectFrame(t, alice, TypeRooms)

	require.NoError(t, bob.WriteJSON(Frame{
		Type: TypeMessage,
		Name: "someone-else",
		Text: "see file",
		Attachment: &Attachment{
			Name: "hello.txt",
			Size: 1,
			Type: "text/plain",
			Data: []byte("hello"),
		},
	}))
	for _, conn := range []*websocket.Conn{alice, bob} {
		message := expectFrame(t, conn, TypeMessage)
		assert.Equal(t, "bob", message.Name)
		assert.Equal(t, "see file", message.Text)
		require.NotNil(t, message.Attachment)
		assert.Equal(t, []byte("hello"), message.Attachment.Data)
		assert.Equal(t, int64(5), message.Attachment.Size)
		assert.True(t, message.Timestamp.Equal(fixedNow))
	}

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	assert.Equal(t, "unknown event type", expectFrame(t, alice, TypeRejected).Reason)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{{`)))
	assert.Equal(t, "malformed frame", expectFrame(t, alice, TypeRejected).Reason)

	var rooms roomsResponse
	require.Equal(t, http.StatusOK, getJSON(t, httpServer.URL+"/rooms", &rooms))
	assert.Equal(t, []roomSummary{{Name: "lobby", Members: 2}}, rooms.Rooms)

	var health healthResponse
	require.Equal(t, http.StatusOK, getJSON(t, httpServer.URL+"/health", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Connections)
	assert.Equal(t, 1, health.Rooms)
	assert.True(t, health.Audit)
	assert.Equal(t, Version, health.Build.Version)

	assert.Equal(t, http.StatusOK, getJSON(t, httpServer.URL+"/exists?room=lobby", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, httpServer.URL+"/exists?room=attic", nil))

	require.NoError(t, bob.Close())
	left := expectFrame(t, alice, TypeLeft)
	assert.Equal(t, "bob", left.Name)
	assert.Equal(t, []string{"alice"}, rosterNames(expectFrame(t, alice, TypeRoster)))
	expectFrame(t, alice, TypeRooms)
	assert.Equal(t, 1, server.Registry().Len())

	var metrics map[string]float64
	require.Equal(t, http.StatusOK, getJSON(t, httpServer.URL+"/metrics", &metrics))
	assert.Equal(t, float64(1), metrics["messages_total"])
	assert.Equal(t, float64(2), metrics["joins_total"])
	assert.Equal(t, float64(1), metrics["active_connections"])

	require.Eventually(t, func() bool {
		resp, err := http.Get(httpServer.URL + "/api/audit?room=lobby")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var audit auditResponse
		if err := json.NewDecoder(resp.Body).Decode(&audit); err != nil {
			return false
		}
		return audit.Counts["join"] == 2 && audit.Counts["disconnect"] == 1
	}, 5*time.Second, 20*time.Millisecond)

	var audit auditResponse
	require.Equal(t, http.StatusOK, getJSON(t, httpServer.URL+"/api/audit?limit=1", &audit))
	require.Len(t, audit.Events, 1)
	assert.Equal(t, "disconnect", audit.Events[0].Kind)
	assert.Equal(t, "bob", audit.Events[0].Name)
}

func TestOversizedAttachmentKeepsConnection(t *testing.T) {
	_, httpServer := newTestServer(t, ServerOptions{MaxAttachmentSize: 16})

	conn := dial(t, httpServer)
	expectFrame(t, conn, TypeWelcome)
	expectFrame(t, conn, TypeRooms)
	joinOverWire(t, conn, "alice", "lobby")

	require.NoError(t, conn.WriteJSON(Frame{
		Type:       TypeMessage,
		Attachment: &Attachment{Name: "big.txt", Type: "text/plain", Data: []byte(strings.Repeat("x", 17))},
	}))
	assert.Equal(t, "size limit exceeded", expectFrame(t, conn, TypeRejected).Reason)

	require.NoError(t, conn.WriteJSON(Frame{Type: TypeMessage, Text: "still connected"}))
	assert.Equal(t, "still connected", expectFrame(t, conn, TypeMessage).Text)
}

func TestMessageBeforeJoinOverWire(t *testing.T) {
	_, httpServer := newTestServer(t, ServerOptions{})

	conn := dial(t, httpServer)
	expectFrame(t, conn, TypeWelcome)
	expectFrame(t, conn, TypeRooms)

	require.NoError(t, conn.WriteJSON(Frame{Type: TypeMessage, Text: "hello?"}))
	assert.Equal(t, "not in a room", expectFrame(t, conn, TypeRejected).Reason)

	require.NoError(t, conn.WriteJSON(Frame{Type: TypeJoin, Name: "", Room: "lobby"}))
	assert.Equal(t, "name required", expectFrame(t, conn, TypeRejected).Reason)
}

func TestConnectRateLimit(t *testing.T) {
	_, httpServer := newTestServer(t, ServerOptions{ConnectBurst: 1})

	dial(t, httpServer)
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestCloseConnectionsDisconnectsEveryone(t *testing.T) {
	server, httpServer := newTestServer(t, ServerOptions{})
	for _, name := range []string{"alice", "bob"} {
		conn := dial(t, httpServer)
		expectFrame(t, conn, TypeWelcome)
		expectFrame(t, conn, TypeRooms)
		joinOverWire(t, conn, name, "lobby")
	}
	require.Eventually(t, func() bool { return server.Registry().Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	server.CloseConnections()

	require.Eventually(t, func() bool {
		return server.Registry().Len() == 0 && len(server.Registry().ActiveRooms()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAuditDisabled(t *testing.T) {
	_, httpServer := newTestServer(t, ServerOptions{})

	resp, err := http.Get(httpServer.URL + "/api/audit")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(httpServer.URL+"/rooms", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestClientIP(t *testing.T) {
	server := NewServer(ServerOptions{})
	request := httptest.NewRequest(http.MethodGet, "/ws", nil)
	request.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", server.clientIP(request))

	request.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", server.clientIP(request))
}
