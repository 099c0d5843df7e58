package chatclient

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/stayhub/chat/internal/logger"
	"github.com/stayhub/chat/internal/ws"
)

const (
	// typingDebounce collapses rapid keystrokes into one typing event.
	typingDebounce = 300 * time.Millisecond
	// typingIdleStop auto-emits stop-typing after this much silence.
	typingIdleStop = time.Second
	// remoteTypingExpiry drops a remote typing entry that never got its
	// stop event, e.g. because the sender's connection died.
	remoteTypingExpiry = 3 * time.Second
)

// TypingSignaler debounces the local typing signal and tracks the set of
// remote users currently typing in one thread. Remote entries expire on
// a safety timer so a lost stop event cannot leave the indicator stuck.
type TypingSignaler struct {
	conn liveConn

	mu       sync.Mutex
	threadID string
	closed   bool

	emitted   bool
	lastEmit  time.Time
	idleTimer *time.Timer

	remote     map[string]*time.Timer
	nextSubID  int
	remoteSubs map[int]func(userIDs []string)
	offEvents  []func()
}

// NewTypingSignaler attaches to one thread's typing traffic. Call Close
// when navigating away.
func NewTypingSignaler(conn liveConn, threadID string) *TypingSignaler {
	t := &TypingSignaler{
		conn:       conn,
		threadID:   threadID,
		remote:     make(map[string]*time.Timer),
		remoteSubs: make(map[int]func([]string)),
	}
	offStart := conn.On(ws.EventUserTyping, t.handleRemote(true))
	offStop := conn.On(ws.EventUserStopTyping, t.handleRemote(false))
	t.offEvents = []func(){offStart, offStop}
	return t
}

// NotifyTyping records one local keystroke. The first call in a burst
// emits a typing event; further calls inside the debounce window only
// push the idle deadline out. One second of silence emits stop-typing
// without any caller action.
func (t *TypingSignaler) NotifyTyping() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	emit := !t.emitted || time.Since(t.lastEmit) >= typingDebounce
	if emit {
		t.emitted = true
		t.lastEmit = time.Now()
	}
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(typingIdleStop, t.StopTyping)
	threadID := t.threadID
	t.mu.Unlock()

	if emit {
		t.emit(ws.EventTyping, threadID)
	}
}

// StopTyping emits the stop event immediately. Also invoked by the idle
// timer.
func (t *TypingSignaler) StopTyping() {
	t.mu.Lock()
	if t.closed || !t.emitted {
		t.mu.Unlock()
		return
	}
	t.emitted = false
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	threadID := t.threadID
	t.mu.Unlock()

	t.emit(ws.EventStopTyping, threadID)
}

func (t *TypingSignaler) emit(event ws.EventType, threadID string) {
	if !t.conn.IsConnected() {
		// Typing signals are best-effort; a downed connection just
		// drops them.
		return
	}
	if err := t.conn.Emit(event, ws.IncomingMessage{ThreadID: threadID}); err != nil {
		logger.Errorf("chatclient: typing emit: %v", err)
	}
}

func (t *TypingSignaler) handleRemote(typing bool) Handler {
	return func(payload json.RawMessage) {
		var p ws.TypingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		t.mu.Lock()
		if t.closed || p.ThreadID != t.threadID {
			t.mu.Unlock()
			return
		}
		if typing {
			if timer, ok := t.remote[p.UserID]; ok {
				timer.Stop()
			}
			userID := p.UserID
			t.remote[userID] = time.AfterFunc(remoteTypingExpiry, func() {
				t.expireRemote(userID)
			})
		} else {
			if timer, ok := t.remote[p.UserID]; ok {
				timer.Stop()
				delete(t.remote, p.UserID)
			}
		}
		t.mu.Unlock()
		t.notifyRemote()
	}
}

func (t *TypingSignaler) expireRemote(userID string) {
	t.mu.Lock()
	if _, ok := t.remote[userID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.remote, userID)
	t.mu.Unlock()
	t.notifyRemote()
}

// Typing returns the user ids currently typing in the thread.
func (t *TypingSignaler) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.remote))
	for id := range t.remote {
		out = append(out, id)
	}
	return out
}

// OnRemoteChange registers a callback fired whenever the remote typing
// set changes; it receives the new set.
func (t *TypingSignaler) OnRemoteChange(f func(userIDs []string)) (off func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSubID
	t.nextSubID++
	t.remoteSubs[id] = f
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.remoteSubs, id)
	}
}

func (t *TypingSignaler) notifyRemote() {
	t.mu.Lock()
	set := make([]string, 0, len(t.remote))
	for id := range t.remote {
		set = append(set, id)
	}
	subs := make([]func([]string), 0, len(t.remoteSubs))
	for _, f := range t.remoteSubs {
		subs = append(subs, f)
	}
	t.mu.Unlock()
	for _, f := range subs {
		f(set)
	}
}

// Close emits a final stop-typing if one is owed, detaches from the
// event stream and stops all timers.
func (t *TypingSignaler) Close() {
	t.StopTyping()

	t.mu.Lock()
	t.closed = true
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	for id, timer := range t.remote {
		timer.Stop()
		delete(t.remote, id)
	}
	offs := t.offEvents
	t.offEvents = nil
	t.remoteSubs = make(map[int]func([]string))
	t.mu.Unlock()

	for _, off := range offs {
		off()
	}
}
