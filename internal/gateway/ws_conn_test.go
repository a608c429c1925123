package gateway

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		time.Sleep(100 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	return NewConn(ws, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewConn(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()

	if !strings.HasPrefix(conn.ID(), "conn_") {
		t.Errorf("expected conn_ prefix, got %s", conn.ID())
	}
	if cap(conn.send) != sendBufferSize {
		t.Errorf("expected send buffer %d, got %d", sendBufferSize, cap(conn.send))
	}
}

func TestConn_EmitQueues(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()

	if err := conn.Emit("detections", []string{"a"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := conn.Request("learn-face", "call-1", nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	first := <-conn.send
	if first.Event != "detections" || first.ID != "" {
		t.Errorf("unexpected message %+v", first)
	}
	second := <-conn.send
	if second.Event != "learn-face" || second.ID != "call-1" {
		t.Errorf("unexpected message %+v", second)
	}
}

func TestConn_AckWithoutIDIsNoop(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()

	if err := conn.Ack("", "x"); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if len(conn.send) != 0 {
		t.Error("ack without id should not be queued")
	}
}

func TestConn_BufferFull(t *testing.T) {
	conn := newTestConn(t)
	defer conn.Close()

	for i := 0; i < sendBufferSize; i++ {
		if err := conn.Emit("e", i); err != nil {
			t.Fatalf("Emit %d failed: %v", i, err)
		}
	}
	if err := conn.Emit("e", "overflow"); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("expected ErrSendBufferFull, got %v", err)
	}
}

func TestConn_EmitAfterClose(t *testing.T) {
	conn := newTestConn(t)
	_ = conn.Close()

	if err := conn.Emit("e", nil); !errors.Is(err, ErrConnClosed) {
		t.Errorf("expected ErrConnClosed, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	select {
	case <-conn.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestMessage_Decode(t *testing.T) {
	msg := Message{Data: []byte(`{"a":1}`)}
	var v map[string]int
	if err := msg.Decode(&v); err != nil || v["a"] != 1 {
		t.Errorf("unexpected decode %v %v", v, err)
	}

	var empty *struct{}
	if err := (&Message{}).Decode(&empty); err != nil {
		t.Errorf("empty data should decode as null, got %v", err)
	}
}
