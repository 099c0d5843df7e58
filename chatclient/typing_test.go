package chatclient

import (
	"testing"
	"time"

	"github.com/stayhub/chat/internal/ws"
)

func TestTypingDebounceAndAutoStop(t *testing.T) {
	conn := newFakeConn(true)
	sig := NewTypingSignaler(conn, "t1")
	defer sig.Close()

	// A burst of keystrokes collapses into one typing event.
	for i := 0; i < 5; i++ {
		sig.NotifyTyping()
	}
	if types := conn.emittedTypes(); len(types) != 1 || types[0] != ws.EventTyping {
		t.Fatalf("emits = %v, want single typing", types)
	}

	// One second of silence emits stop-typing without caller action.
	deadline := time.After(3 * time.Second)
	for {
		types := conn.emittedTypes()
		if len(types) == 2 {
			if types[1] != ws.EventStopTyping {
				t.Fatalf("emits = %v, want [typing stop-typing]", types)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("auto stop-typing never emitted, emits = %v", types)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestExplicitStopTyping(t *testing.T) {
	conn := newFakeConn(true)
	sig := NewTypingSignaler(conn, "t1")
	defer sig.Close()

	sig.NotifyTyping()
	sig.StopTyping()
	sig.StopTyping() // second stop is a no-op

	types := conn.emittedTypes()
	if len(types) != 2 || types[0] != ws.EventTyping || types[1] != ws.EventStopTyping {
		t.Fatalf("emits = %v, want [typing stop-typing]", types)
	}
}

func TestRemoteTypingStopRemoves(t *testing.T) {
	conn := newFakeConn(true)
	sig := NewTypingSignaler(conn, "t1")
	defer sig.Close()

	conn.fire(t, ws.EventUserTyping, ws.TypingPayload{ThreadID: "t1", UserID: "bob"})
	if got := sig.Typing(); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("typing = %v, want [bob]", got)
	}

	conn.fire(t, ws.EventUserStopTyping, ws.TypingPayload{ThreadID: "t1", UserID: "bob"})
	if got := sig.Typing(); len(got) != 0 {
		t.Fatalf("typing = %v, want empty after stop", got)
	}
}

func TestRemoteTypingAutoExpiry(t *testing.T) {
	conn := newFakeConn(true)
	sig := NewTypingSignaler(conn, "t1")
	defer sig.Close()

	var got []string
	changed := make(chan []string, 4)
	sig.OnRemoteChange(func(userIDs []string) {
		select {
		case changed <- userIDs:
		default:
		}
	})

	conn.fire(t, ws.EventUserTyping, ws.TypingPayload{ThreadID: "t1", UserID: "bob"})
	select {
	case got = <-changed:
	case <-time.After(time.Second):
		t.Fatal("no change callback for typing start")
	}
	if len(got) != 1 {
		t.Fatalf("typing set = %v, want [bob]", got)
	}

	// No stop event ever arrives; the safety timeout clears the entry.
	select {
	case got = <-changed:
	case <-time.After(remoteTypingExpiry + time.Second):
		t.Fatal("typing entry never expired")
	}
	if len(got) != 0 {
		t.Fatalf("typing set = %v, want empty after expiry", got)
	}
	if still := sig.Typing(); len(still) != 0 {
		t.Fatalf("typing = %v, want empty", still)
	}
}

func TestRemoteTypingOtherThreadIgnored(t *testing.T) {
	conn := newFakeConn(true)
	sig := NewTypingSignaler(conn, "t1")
	defer sig.Close()

	conn.fire(t, ws.EventUserTyping, ws.TypingPayload{ThreadID: "t2", UserID: "bob"})
	if got := sig.Typing(); len(got) != 0 {
		t.Fatalf("typing = %v, want empty for other thread", got)
	}
}

func TestTypingEmitsDropWhenDisconnected(t *testing.T) {
	conn := newFakeConn(false)
	sig := NewTypingSignaler(conn, "t1")
	defer sig.Close()

	sig.NotifyTyping()
	sig.StopTyping()
	if types := conn.emittedTypes(); len(types) != 0 {
		t.Fatalf("emits = %v, want none while down", types)
	}
}
