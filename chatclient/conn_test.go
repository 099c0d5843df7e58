package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stayhub/chat/internal/model"
	"github.com/stayhub/chat/internal/ws"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsTestServer upgrades one connection and hands it to fn.
func wsTestServer(t *testing.T, fn func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn, r)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestEmitWhenDownFailsLoudly(t *testing.T) {
	c := NewConn("ws://127.0.0.1:1/ws")
	err := c.Emit(ws.EventTyping, ws.IncomingMessage{ThreadID: "t1"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestConnectCarriesBearerAndDispatches(t *testing.T) {
	gotAuth := make(chan string, 1)
	frames := make(chan ws.IncomingMessage, 1)

	srv := wsTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")

		payload, _ := json.Marshal(ws.NewMessagePayload{
			ThreadID: "t1",
			Message:  &model.Message{ID: "m1", ThreadID: "t1", SenderID: "bob", Content: "hi"},
		})
		if err := conn.WriteJSON(map[string]json.RawMessage{
			"type":    json.RawMessage(`"new-message"`),
			"payload": payload,
		}); err != nil {
			return
		}

		var frame ws.IncomingMessage
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		frames <- frame
	})
	defer srv.Close()

	c := NewConn(wsURL(srv) + "/ws")
	defer c.Disconnect()

	received := make(chan json.RawMessage, 1)
	c.On(ws.EventNewMessage, func(payload json.RawMessage) {
		select {
		case received <- payload:
		default:
		}
	})

	if err := c.Connect(context.Background(), "tok-123"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("not connected after Connect")
	}

	select {
	case auth := <-gotAuth:
		if auth != "Bearer tok-123" {
			t.Fatalf("handshake auth = %q, want bearer token", auth)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never reached server")
	}

	select {
	case payload := <-received:
		var p ws.NewMessagePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if p.Message == nil || p.Message.ID != "m1" {
			t.Fatalf("payload = %+v, want message m1", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("new-message never dispatched")
	}

	if err := c.Emit(ws.EventJoinThread, ws.IncomingMessage{ThreadID: "t1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case frame := <-frames:
		if frame.Type != ws.EventJoinThread || frame.ThreadID != "t1" {
			t.Fatalf("server got %+v, want join-thread t1", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("emitted frame never reached server")
	}
}

func TestConnectNoopWhenAlreadyConnected(t *testing.T) {
	handshakes := make(chan struct{}, 4)
	srv := wsTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		handshakes <- struct{}{}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := NewConn(wsURL(srv) + "/ws")
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	<-handshakes
	select {
	case <-handshakes:
		t.Fatal("second Connect performed a second handshake")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRacingDialKeepsSingleConnection(t *testing.T) {
	var active atomic.Int32
	srv := wsTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		active.Add(1)
		defer active.Add(-1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := NewConn(wsURL(srv) + "/ws")
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// A background redial that resolves after an explicit Connect must
	// not displace or duplicate the established connection.
	if err := c.dial(context.Background()); err != nil {
		t.Fatalf("racing dial: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for active.Load() != 1 {
		select {
		case <-deadline:
			t.Fatalf("live websocket connections = %d, want 1", active.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
	if !c.IsConnected() {
		t.Fatal("established connection was dropped")
	}
	if err := c.Emit(ws.EventTyping, ws.IncomingMessage{ThreadID: "t1"}); err != nil {
		t.Fatalf("emit over surviving connection: %v", err)
	}
}

func TestOffStopsDispatch(t *testing.T) {
	c := NewConn("ws://unused/ws")
	calls := 0
	off := c.On(ws.EventError, func(json.RawMessage) { calls++ })
	c.dispatch(serverFrame{Type: ws.EventError, Payload: json.RawMessage(`{}`)})
	off()
	c.dispatch(serverFrame{Type: ws.EventError, Payload: json.RawMessage(`{}`)})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDisconnectedConnRejectsUse(t *testing.T) {
	c := NewConn("ws://unused/ws")
	c.Disconnect()
	if err := c.Connect(context.Background(), "tok"); !errors.Is(err, ErrClosed) {
		t.Fatalf("connect after disconnect = %v, want ErrClosed", err)
	}
	if err := c.Emit(ws.EventTyping, ws.IncomingMessage{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("emit after disconnect = %v, want ErrClosed", err)
	}
}

func TestStateChangeNotifies(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := NewConn(wsURL(srv) + "/ws")
	defer c.Disconnect()

	states := make(chan bool, 4)
	c.OnStateChange(func(connected bool) { states <- connected })

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case up := <-states:
		if !up {
			t.Fatal("first state change should report connected")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no state change on connect")
	}
}
