package chatclient

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stayhub/chat/internal/model"
	"github.com/stayhub/chat/internal/ws"
)

// fakeConn stands in for the live connection. Handlers fire synchronously
// from fire().
type fakeConn struct {
	mu        sync.Mutex
	connected bool
	emitted   []ws.IncomingMessage
	nextID    int
	handlers  map[ws.EventType]map[int]Handler
	reconnect map[int]func()
}

func newFakeConn(connected bool) *fakeConn {
	return &fakeConn{
		connected: connected,
		handlers:  make(map[ws.EventType]map[int]Handler),
		reconnect: make(map[int]func()),
	}
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) Emit(event ws.EventType, frame ws.IncomingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	frame.Type = event
	f.emitted = append(f.emitted, frame)
	return nil
}

func (f *fakeConn) On(event ws.EventType, h Handler) (off func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]Handler)
	}
	id := f.nextID
	f.nextID++
	f.handlers[event][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeConn) OnReconnect(fn func()) (off func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.reconnect[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.reconnect, id)
	}
}

func (f *fakeConn) fire(t *testing.T, event ws.EventType, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.mu.Lock()
	hs := make([]Handler, 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(raw)
	}
}

func (f *fakeConn) emittedTypes() []ws.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ws.EventType, len(f.emitted))
	for i, frame := range f.emitted {
		out[i] = frame.Type
	}
	return out
}

// fakeAPI stands in for the REST collaborator. Pages are newest-first,
// matching the wire contract.
type fakeAPI struct {
	mu        sync.Mutex
	pages     map[int][]model.Message
	pageHook  func(page int)
	sendErr   error
	sendCalls int
	markReads chan string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:     make(map[int][]model.Message),
		markReads: make(chan string, 16),
	}
}

func (f *fakeAPI) Messages(ctx context.Context, threadID string, page, limit int) ([]model.Message, error) {
	f.mu.Lock()
	hook := f.pageHook
	msgs := f.pages[page]
	f.mu.Unlock()
	if hook != nil {
		hook(page)
	}
	return msgs, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, threadID, content string, contentType model.ContentType, tempID string) (*model.Message, error) {
	f.mu.Lock()
	f.sendCalls++
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.Message{
		ID:          "srv-" + tempID,
		ThreadID:    threadID,
		SenderID:    "alice",
		Content:     content,
		ContentType: contentType,
		TempID:      tempID,
	}, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, threadID string) error {
	select {
	case f.markReads <- threadID:
	default:
	}
	return nil
}

type fakeUnread struct {
	refreshed chan struct{}
}

func newFakeUnread() *fakeUnread {
	return &fakeUnread{refreshed: make(chan struct{}, 16)}
}

func (u *fakeUnread) Refresh() {
	select {
	case u.refreshed <- struct{}{}:
	default:
	}
}
