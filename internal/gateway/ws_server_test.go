package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/see-server/internal/roles"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type mockResolver struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockResolver) Resolve(fromID, callID string, result json.RawMessage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fromID+"|"+callID+"|"+string(result))
	return true
}

func (m *mockResolver) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type received struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, cfg Config) (*Server, *roles.Registry, *mockResolver, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := roles.NewRegistry(logger)
	resolver := &mockResolver{}
	server := NewServer(registry, resolver, cfg, logger)

	e := echo.New()
	server.RegisterRoutes(e)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	return server, registry, resolver, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) received {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read error: %v", err)
	}
	return msg
}

func handshake(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	connected := readEvent(t, ws)
	if connected.Event != EventConnected {
		t.Fatalf("expected %s, got %s", EventConnected, connected.Event)
	}
	var payload ConnectedPayload
	_ = json.Unmarshal(connected.Data, &payload)

	turn := readEvent(t, ws)
	if turn.Event != EventUseTurnServers {
		t.Fatalf("expected %s, got %s", EventUseTurnServers, turn.Event)
	}
	return payload.ID
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_EmitsTurnSettingOnConnect(t *testing.T) {
	_, _, _, url := newTestServer(t, Config{UseTURN: true})
	ws := dial(t, url)

	if id := readEvent(t, ws); id.Event != EventConnected {
		t.Fatalf("expected connected event, got %s", id.Event)
	}
	msg := readEvent(t, ws)
	if msg.Event != EventUseTurnServers || string(msg.Data) != "true" {
		t.Errorf("expected useTurnServers=true, got %s %s", msg.Event, msg.Data)
	}
}

func TestServer_RoleAnnouncementAndDisconnect(t *testing.T) {
	server, registry, _, url := newTestServer(t, Config{})
	ws := dial(t, url)
	id := handshake(t, ws)

	if err := ws.WriteJSON(Message{Event: "broadcaster", ID: "1"}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	ack := readEvent(t, ws)
	if ack.Event != EventAck || ack.ID != "1" {
		t.Fatalf("expected ack for 1, got %+v", ack)
	}

	holder, ok := registry.HolderOf(roles.Producer)
	if !ok || holder.ID() != id {
		t.Fatalf("expected producer %s, got %v", id, holder)
	}
	if server.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", server.ConnectionCount())
	}

	ws.Close()
	waitFor(t, func() bool {
		_, ok := registry.HolderOf(roles.Producer)
		return !ok && server.ConnectionCount() == 0
	})
}

func TestServer_ViewerAnnouncement(t *testing.T) {
	_, registry, _, url := newTestServer(t, Config{})
	ws := dial(t, url)
	id := handshake(t, ws)

	_ = ws.WriteJSON(Message{Event: "viewer"})
	waitFor(t, func() bool {
		_, ok := registry.Viewer(id)
		return ok
	})
}

func TestServer_AckRoutedToResolver(t *testing.T) {
	_, _, resolver, url := newTestServer(t, Config{})
	ws := dial(t, url)
	id := handshake(t, ws)

	_ = ws.WriteJSON(Message{Event: EventAck, ID: "call-1", Data: json.RawMessage(`{"status":200}`)})
	waitFor(t, func() bool { return len(resolver.snapshot()) == 1 })

	if got := resolver.snapshot()[0]; got != id+`|call-1|{"status":200}` {
		t.Errorf("unexpected resolve %s", got)
	}
}

func TestServer_HandlerDispatch(t *testing.T) {
	server, _, _, url := newTestServer(t, Config{})

	server.Handle("ping", func(conn *Conn, msg *Message) {
		var body map[string]int
		_ = msg.Decode(&body)
		_ = conn.Ack(msg.ID, map[string]int{"n": body["n"] + 1})
	})

	ws := dial(t, url)
	handshake(t, ws)

	_ = ws.WriteJSON(Message{Event: "ping", ID: "7", Data: json.RawMessage(`{"n":1}`)})
	ack := readEvent(t, ws)
	if ack.Event != EventAck || ack.ID != "7" || string(ack.Data) != `{"n":2}` {
		t.Errorf("unexpected ack %+v", ack)
	}
}

func TestServer_UnknownEvent(t *testing.T) {
	_, _, _, url := newTestServer(t, Config{})
	ws := dial(t, url)
	handshake(t, ws)

	_ = ws.WriteJSON(Message{Event: "nope"})
	msg := readEvent(t, ws)
	if msg.Event != EventError {
		t.Errorf("expected error event, got %s", msg.Event)
	}
}

func TestServer_IgnoresMalformedMessages(t *testing.T) {
	_, registry, _, url := newTestServer(t, Config{})
	ws := dial(t, url)
	id := handshake(t, ws)

	_ = ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	_ = ws.WriteJSON(Message{Event: "react-app-real"})
	waitFor(t, func() bool { return registry.IsHolder(id, roles.ControlApp) })
}

func TestServer_Shutdown(t *testing.T) {
	server, _, _, url := newTestServer(t, Config{})
	ws := dial(t, url)
	handshake(t, ws)

	server.Shutdown()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}
