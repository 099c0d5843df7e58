package chatclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stayhub/chat/internal/model"
	"github.com/stayhub/chat/internal/ws"
)

func msg(id, threadID, senderID, content string) model.Message {
	return model.Message{
		ID:          id,
		ThreadID:    threadID,
		SenderID:    senderID,
		Content:     content,
		ContentType: model.ContentTypeText,
		CreatedAt:   time.Now(),
	}
}

func openStore(t *testing.T, api *fakeAPI, conn *fakeConn, threadID string) *Store {
	t.Helper()
	s := NewStore(api, conn, nil, "alice")
	if err := s.Open(context.Background(), threadID); err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func entryIDs(t *testing.T, s *Store) []string {
	t.Helper()
	entries := s.Entries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Message.ID
	}
	return ids
}

func TestSendOverRESTConfirmsInPlace(t *testing.T) {
	api := newFakeAPI()
	conn := newFakeConn(false) // live path down, REST carries the send
	s := openStore(t, api, conn, "t1")

	tempID, err := s.Send(context.Background(), "Hello", model.ContentTypeText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.State != StateConfirmed {
		t.Fatalf("state = %v, want confirmed", e.State)
	}
	if e.Message.ID != "srv-"+tempID {
		t.Fatalf("id = %q, want %q", e.Message.ID, "srv-"+tempID)
	}
	if e.Message.Content != "Hello" {
		t.Fatalf("content = %q, want Hello", e.Message.Content)
	}
	if api.sendCalls != 1 {
		t.Fatalf("REST sends = %d, want 1", api.sendCalls)
	}
	if got := conn.emittedTypes(); len(got) != 0 {
		t.Fatalf("live emits = %v, want none", got)
	}
}

func TestSendOverLiveEmitsExactlyOnePath(t *testing.T) {
	api := newFakeAPI()
	conn := newFakeConn(true)
	s := openStore(t, api, conn, "t1")

	tempID, err := s.Send(context.Background(), "hi", model.ContentTypeText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if api.sendCalls != 0 {
		t.Fatalf("REST sends = %d, want 0", api.sendCalls)
	}

	var sent *ws.IncomingMessage
	for i := range conn.emitted {
		if conn.emitted[i].Type == ws.EventSendMessage {
			sent = &conn.emitted[i]
		}
	}
	if sent == nil {
		t.Fatalf("no send-message frame emitted, frames: %v", conn.emittedTypes())
	}
	if sent.TempID != tempID {
		t.Fatalf("frame temp id = %q, want %q", sent.TempID, tempID)
	}

	entries := s.Entries()
	if len(entries) != 1 || entries[0].State != StatePending {
		t.Fatalf("want single pending entry, got %+v", entries)
	}
}

func TestLiveEchoReconcilesByTempID(t *testing.T) {
	api := newFakeAPI()
	api.pages[1] = []model.Message{msg("m2", "t1", "bob", "b"), msg("m1", "t1", "alice", "a")}
	conn := newFakeConn(true)
	s := openStore(t, api, conn, "t1")

	tempID, err := s.Send(context.Background(), "hi", model.ContentTypeText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	confirmed := msg("m3", "t1", "alice", "hi")
	confirmed.TempID = tempID
	conn.fire(t, ws.EventNewMessage, ws.NewMessagePayload{ThreadID: "t1", Message: &confirmed})

	ids := entryIDs(t, s)
	want := []string{"m1", "m2", "m3"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	if entries := s.Entries(); entries[2].State != StateConfirmed {
		t.Fatalf("state = %v, want confirmed", entries[2].State)
	}
}

func TestLiveEchoHeuristicFallback(t *testing.T) {
	api := newFakeAPI()
	conn := newFakeConn(true)
	s := openStore(t, api, conn, "t1")

	if _, err := s.Send(context.Background(), "base64-image-bytes", model.ContentTypeImage); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Echo without a temp id and with rewritten content, as an image
	// send comes back: same sender, same type, inside the window.
	confirmed := msg("m1", "t1", "alice", "/uploads/img-1.jpg")
	confirmed.ContentType = model.ContentTypeImage
	conn.fire(t, ws.EventNewMessage, ws.NewMessagePayload{ThreadID: "t1", Message: &confirmed})

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (replacement, not append)", len(entries))
	}
	if entries[0].State != StateConfirmed || entries[0].Message.ID != "m1" {
		t.Fatalf("got %+v, want confirmed m1", entries[0])
	}
}

func TestDuplicateDeliveryAbsorbed(t *testing.T) {
	api := newFakeAPI()
	conn := newFakeConn(false)
	s := openStore(t, api, conn, "t1")

	tempID, err := s.Send(context.Background(), "once", model.ContentTypeText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// The same confirmed message arrives again over the live stream.
	dup := msg("srv-"+tempID, "t1", "alice", "once")
	dup.TempID = tempID
	s.OnRemoteMessage(&dup)
	s.OnRemoteMessage(&dup)

	if ids := entryIDs(t, s); len(ids) != 1 {
		t.Fatalf("ids = %v, want exactly one entry", ids)
	}
}

func TestFailedSendRollsBack(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = errors.New("boom")
	conn := newFakeConn(false)
	s := openStore(t, api, conn, "t1")

	var failedTemp string
	s.OnSendFailed(func(tempID string, err error) { failedTemp = tempID })

	tempID, err := s.Send(context.Background(), "doomed", model.ContentTypeText)
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
	if len(s.Entries()) != 0 {
		t.Fatalf("entries = %v, want empty after rollback", s.Entries())
	}
	if failedTemp != tempID {
		t.Fatalf("failure callback temp id = %q, want %q", failedTemp, tempID)
	}
}

func TestOrderUnderConcurrentOlderLoadAndLiveAppend(t *testing.T) {
	api := newFakeAPI()
	api.pages[1] = []model.Message{msg("m4", "t1", "bob", "4"), msg("m3", "t1", "alice", "3")}
	api.pages[2] = []model.Message{msg("m2", "t1", "bob", "2"), msg("m1", "t1", "alice", "1")}
	conn := newFakeConn(true)

	s := NewStore(api, conn, nil, "alice")
	s.pageSize = 2
	if err := s.Open(context.Background(), "t1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	// A live message lands while the older-page fetch is in flight.
	api.pageHook = func(page int) {
		if page == 2 {
			live := msg("m5", "t1", "bob", "5")
			conn.fire(t, ws.EventNewMessage, ws.NewMessagePayload{ThreadID: "t1", Message: &live})
		}
	}
	if err := s.LoadOlder(context.Background()); err != nil {
		t.Fatalf("load older: %v", err)
	}

	ids := entryIDs(t, s)
	want := []string{"m1", "m2", "m3", "m4", "m5"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestStaleOlderPageDiscardedAfterClose(t *testing.T) {
	api := newFakeAPI()
	api.pages[1] = []model.Message{msg("m2", "t1", "bob", "2"), msg("m1", "t1", "alice", "1")}
	api.pages[2] = []model.Message{msg("m0", "t1", "bob", "0")}
	conn := newFakeConn(true)

	s := NewStore(api, conn, nil, "alice")
	s.pageSize = 2
	if err := s.Open(context.Background(), "t1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Navigation away happens while the older-page fetch is in flight;
	// its response must not be applied.
	api.pageHook = func(page int) {
		if page == 2 {
			s.Close()
		}
	}
	if err := s.LoadOlder(context.Background()); err != nil {
		t.Fatalf("load older: %v", err)
	}
	if got := s.Entries(); len(got) != 0 {
		t.Fatalf("entries = %v, want empty after close", got)
	}
}

func TestLoadOlderFullPage(t *testing.T) {
	api := newFakeAPI()
	// Two full pages of 50, newest-first per page, m001 oldest.
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("m%03d", 100-i)
		api.pages[1] = append(api.pages[1], msg(id, "t1", "bob", id))
	}
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("m%03d", 50-i)
		api.pages[2] = append(api.pages[2], msg(id, "t1", "bob", id))
	}
	conn := newFakeConn(false)
	s := openStore(t, api, conn, "t1")

	if !s.HasMore() {
		t.Fatal("full first page should leave hasMore set")
	}
	if err := s.LoadOlder(context.Background()); err != nil {
		t.Fatalf("load older: %v", err)
	}

	ids := entryIDs(t, s)
	if len(ids) != 100 {
		t.Fatalf("len = %d, want 100", len(ids))
	}
	seen := make(map[string]struct{}, 100)
	for i, id := range ids {
		want := fmt.Sprintf("m%03d", i+1)
		if id != want {
			t.Fatalf("ids[%d] = %q, want %q", i, id, want)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestRemoteMessageForegroundMarksRead(t *testing.T) {
	api := newFakeAPI()
	conn := newFakeConn(true)
	s := openStore(t, api, conn, "t1")
	<-api.markReads // the open itself marks the thread read

	incoming := msg("m1", "t1", "bob", "hey")
	s.OnRemoteMessage(&incoming)

	select {
	case threadID := <-api.markReads:
		if threadID != "t1" {
			t.Fatalf("marked %q read, want t1", threadID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("foreground message never marked read")
	}
	if ids := entryIDs(t, s); len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("ids = %v, want [m1]", ids)
	}
}

func TestRemoteMessageBackgroundPokesUnread(t *testing.T) {
	api := newFakeAPI()
	conn := newFakeConn(true)
	unread := newFakeUnread()
	s := NewStore(api, conn, unread, "alice")
	if err := s.Open(context.Background(), "t1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	s.SetForeground(false)

	incoming := msg("m1", "t1", "bob", "hey")
	s.OnRemoteMessage(&incoming)

	select {
	case <-unread.refreshed:
	default:
		t.Fatal("backgrounded message should poke the unread aggregator")
	}
}

func TestRemoteMessageOtherThreadNotAppended(t *testing.T) {
	api := newFakeAPI()
	conn := newFakeConn(true)
	unread := newFakeUnread()
	s := NewStore(api, conn, unread, "alice")
	if err := s.Open(context.Background(), "t1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	other := msg("x1", "t2", "bob", "elsewhere")
	s.OnRemoteMessage(&other)

	if got := s.Entries(); len(got) != 0 {
		t.Fatalf("entries = %v, want empty", got)
	}
	select {
	case <-unread.refreshed:
	default:
		t.Fatal("message in another thread should poke the unread aggregator")
	}
}

func TestOpenJoinsRoomAndReconnectRejoins(t *testing.T) {
	api := newFakeAPI()
	conn := newFakeConn(true)
	_ = openStore(t, api, conn, "t1")

	types := conn.emittedTypes()
	if len(types) != 1 || types[0] != ws.EventJoinThread {
		t.Fatalf("emits = %v, want [join-thread]", types)
	}

	// A redial fires the reconnect hooks; the store re-joins its room.
	conn.mu.Lock()
	hooks := make([]func(), 0, len(conn.reconnect))
	for _, fn := range conn.reconnect {
		hooks = append(hooks, fn)
	}
	conn.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	types = conn.emittedTypes()
	if len(types) != 2 || types[1] != ws.EventJoinThread {
		t.Fatalf("emits = %v, want second join-thread after reconnect", types)
	}
}

func TestEntriesSnapshotDetached(t *testing.T) {
	api := newFakeAPI()
	api.pages[1] = []model.Message{msg("m1", "t1", "bob", "original")}
	s := openStore(t, api, newFakeConn(false), "t1")

	snap := s.Entries()
	snap[0].Message.Content = "mutated"

	if got := s.Entries()[0].Message.Content; got != "original" {
		t.Fatalf("content = %q, snapshot mutation leaked into the store", got)
	}
}

func TestSendWithoutOpenThread(t *testing.T) {
	s := NewStore(newFakeAPI(), newFakeConn(true), nil, "alice")
	if _, err := s.Send(context.Background(), "x", model.ContentTypeText); !errors.Is(err, ErrNoActiveThread) {
		t.Fatalf("err = %v, want ErrNoActiveThread", err)
	}
	if err := s.LoadOlder(context.Background()); !errors.Is(err, ErrNoActiveThread) {
		t.Fatalf("err = %v, want ErrNoActiveThread", err)
	}
}
