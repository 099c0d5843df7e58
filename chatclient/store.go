package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stayhub/chat/internal/logger"
	"github.com/stayhub/chat/internal/model"
	"github.com/stayhub/chat/internal/ws"
)

const (
	// DefaultPageSize matches the server's message page size.
	DefaultPageSize = 50

	// pendingMatchWindow bounds the heuristic reconciliation of a live
	// echo against a still-pending optimistic entry.
	pendingMatchWindow = 5 * time.Second

	// confirmTimeout is how long a live-path send may stay pending
	// before it is treated as failed.
	confirmTimeout = 10 * time.Second
)

// Entry is one row of the open thread's message sequence. Exactly one of
// the two identities is meaningful at a time: TempID while pending, the
// confirmed Message.ID afterwards.
type Entry struct {
	Message *model.Message
	TempID  string
	State   DeliveryState
}

type historyAPI interface {
	Messages(ctx context.Context, threadID string, page, limit int) ([]model.Message, error)
	SendMessage(ctx context.Context, threadID, content string, contentType model.ContentType, tempID string) (*model.Message, error)
	MarkRead(ctx context.Context, threadID string) error
}

type liveConn interface {
	IsConnected() bool
	Emit(event ws.EventType, frame ws.IncomingMessage) error
	On(event ws.EventType, h Handler) (off func())
	OnReconnect(f func()) (off func())
}

type unreadRefresher interface {
	Refresh()
}

// Store holds the ordered message sequence of the one currently open
// thread. Older history prepends, live events append, and optimistic
// sends reconcile in place. Only one thread is materialized at a time;
// Open replaces whatever was loaded before.
type Store struct {
	api    historyAPI
	conn   liveConn
	unread unreadRefresher // may be nil

	selfID   string
	pageSize int

	mu         sync.Mutex
	threadID   string
	entries    []*Entry
	hasMore    bool
	oldestPage int
	// loadSeq tags every in-flight page load; bumping it on Open/Close
	// invalidates responses that resolve after navigation.
	loadSeq uint64
	loading bool

	foreground bool

	nextSubID int
	changeSub map[int]func()
	failSub   map[int]func(tempID string, err error)

	offs []func()
}

// NewStore wires a message store over the REST and live collaborators.
// selfID is the authenticated user; it drives the own-echo reconciliation
// branch. unread may be nil when no aggregator is attached.
func NewStore(api historyAPI, conn liveConn, unread unreadRefresher, selfID string) *Store {
	return &Store{
		api:        api,
		conn:       conn,
		unread:     unread,
		selfID:     selfID,
		pageSize:   DefaultPageSize,
		foreground: true,
		changeSub:  make(map[int]func()),
		failSub:    make(map[int]func(string, error)),
	}
}

// Open loads the newest page of a thread, joins its live room and marks
// it read. Any previously open thread is closed first.
func (s *Store) Open(ctx context.Context, threadID string) error {
	s.closeCurrent()

	s.mu.Lock()
	s.threadID = threadID
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()

	page, err := s.api.Messages(ctx, threadID, 1, s.pageSize)
	if err != nil {
		return fmt.Errorf("load initial page: %w", err)
	}

	s.mu.Lock()
	if s.loadSeq != seq || s.threadID != threadID {
		s.mu.Unlock()
		return nil
	}
	s.entries = make([]*Entry, 0, len(page))
	// Server pages are newest-first; display order is oldest-first.
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		s.entries = append(s.entries, &Entry{Message: &m, State: StateConfirmed})
	}
	s.hasMore = len(page) == s.pageSize
	s.oldestPage = 1
	s.mu.Unlock()

	if s.conn != nil {
		s.joinRoom(threadID)
		offMsg := s.conn.On(ws.EventNewMessage, s.handleNewMessageFrame)
		offRe := s.conn.OnReconnect(func() { s.joinRoom(threadID) })
		s.mu.Lock()
		s.offs = append(s.offs, offMsg, offRe)
		s.mu.Unlock()
	}

	if err := s.api.MarkRead(ctx, threadID); err != nil {
		logger.Errorf("chatclient: mark read: %v", err)
	}

	s.notifyChange()
	return nil
}

// Close leaves the live room and clears the in-memory sequence. Safe to
// call when nothing is open.
func (s *Store) Close() {
	s.closeCurrent()
	s.notifyChange()
}

func (s *Store) closeCurrent() {
	s.mu.Lock()
	threadID := s.threadID
	offs := s.offs
	s.offs = nil
	s.threadID = ""
	s.entries = nil
	s.hasMore = false
	s.oldestPage = 0
	s.loadSeq++
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if threadID != "" && s.conn != nil && s.conn.IsConnected() {
		if err := s.conn.Emit(ws.EventLeaveThread, ws.IncomingMessage{ThreadID: threadID}); err != nil {
			logger.Errorf("chatclient: leave thread: %v", err)
		}
	}
}

func (s *Store) joinRoom(threadID string) {
	if !s.conn.IsConnected() {
		return
	}
	if err := s.conn.Emit(ws.EventJoinThread, ws.IncomingMessage{ThreadID: threadID}); err != nil {
		logger.Errorf("chatclient: join thread: %v", err)
	}
}

// LoadOlder fetches the page strictly older than the oldest loaded one
// and prepends it. A response that resolves after the thread changed is
// discarded rather than applied to the wrong sequence.
func (s *Store) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.threadID == "" {
		s.mu.Unlock()
		return ErrNoActiveThread
	}
	if !s.hasMore || s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	threadID := s.threadID
	nextPage := s.oldestPage + 1
	seq := s.loadSeq
	s.mu.Unlock()

	page, err := s.api.Messages(ctx, threadID, nextPage, s.pageSize)

	s.mu.Lock()
	s.loading = false
	if s.loadSeq != seq {
		// Stale prepend: the sequence was replaced while this load was
		// in flight.
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load older page: %w", err)
	}

	seen := make(map[string]struct{}, len(s.entries))
	for _, e := range s.entries {
		if e.State == StateConfirmed {
			seen[e.Message.ID] = struct{}{}
		}
	}
	older := make([]*Entry, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		if _, dup := seen[m.ID]; dup {
			continue
		}
		older = append(older, &Entry{Message: &m, State: StateConfirmed})
	}
	s.entries = append(older, s.entries...)
	s.hasMore = len(page) == s.pageSize
	s.oldestPage = nextPage
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

// Send appends an optimistic pending entry and attempts delivery over
// exactly one path: the live connection when up, REST otherwise. The
// returned temp id identifies the pending entry until confirmation.
func (s *Store) Send(ctx context.Context, content string, contentType model.ContentType) (string, error) {
	s.mu.Lock()
	if s.threadID == "" {
		s.mu.Unlock()
		return "", ErrNoActiveThread
	}
	threadID := s.threadID
	tempID := uuid.NewString()
	pending := &Entry{
		Message: &model.Message{
			ThreadID:    threadID,
			SenderID:    s.selfID,
			Content:     content,
			ContentType: contentType,
			CreatedAt:   time.Now(),
		},
		TempID: tempID,
		State:  StatePending,
	}
	s.entries = append(s.entries, pending)
	live := s.conn != nil && s.conn.IsConnected()
	s.mu.Unlock()
	s.notifyChange()

	if live {
		frame := ws.IncomingMessage{
			ThreadID:    threadID,
			Content:     content,
			ContentType: contentType,
			TempID:      tempID,
		}
		if err := s.conn.Emit(ws.EventSendMessage, frame); err != nil {
			s.failPending(tempID, fmt.Errorf("%w: %v", ErrSendFailed, err))
			return tempID, fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
		// Confirmation arrives as the echoed new-message event; bound
		// the wait so a lost echo does not leave the entry pending
		// forever.
		time.AfterFunc(confirmTimeout, func() {
			s.failPending(tempID, fmt.Errorf("%w: no confirmation", ErrSendFailed))
		})
		return tempID, nil
	}

	confirmed, err := s.api.SendMessage(ctx, threadID, content, contentType, tempID)
	if err != nil {
		s.failPending(tempID, err)
		return tempID, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	s.reconcile(confirmed)
	return tempID, nil
}

// failPending removes a still-pending entry and notifies failure
// subscribers. A no-op when the entry was already confirmed or removed.
func (s *Store) failPending(tempID string, cause error) {
	s.mu.Lock()
	idx := -1
	for i, e := range s.entries {
		if e.State == StatePending && e.TempID == tempID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.entries[idx].State = StateFailed
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	failSubs := make([]func(string, error), 0, len(s.failSub))
	for _, f := range s.failSub {
		failSubs = append(failSubs, f)
	}
	s.mu.Unlock()

	for _, f := range failSubs {
		f(tempID, cause)
	}
	s.notifyChange()
}

func (s *Store) handleNewMessageFrame(payload json.RawMessage) {
	var p ws.NewMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Errorf("chatclient: bad new-message payload: %v", err)
		return
	}
	if p.Message == nil {
		return
	}
	s.OnRemoteMessage(p.Message)
}

// OnRemoteMessage folds one live message into the sequence: duplicates
// are absorbed, own echoes reconcile a pending entry in place, everything
// else appends. Messages for other threads only poke the unread
// aggregator.
func (s *Store) OnRemoteMessage(m *model.Message) {
	s.mu.Lock()
	current := s.threadID
	s.mu.Unlock()

	if m.ThreadID != current {
		if m.SenderID != s.selfID && s.unread != nil {
			s.unread.Refresh()
		}
		return
	}
	s.reconcile(m)

	if m.SenderID != s.selfID {
		s.mu.Lock()
		fg := s.foreground
		s.mu.Unlock()
		if fg {
			// The open thread is on screen, so the message is read the
			// moment it lands.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := s.api.MarkRead(ctx, m.ThreadID); err != nil {
					logger.Errorf("chatclient: mark read: %v", err)
				}
			}()
		} else if s.unread != nil {
			s.unread.Refresh()
		}
	}
}

// reconcile applies the arrival of a confirmed message, whether it came
// over the live stream or as the direct REST response.
func (s *Store) reconcile(m *model.Message) {
	s.mu.Lock()
	for _, e := range s.entries {
		if e.State == StateConfirmed && e.Message.ID == m.ID {
			// Duplicate delivery, e.g. REST response plus live echo.
			s.mu.Unlock()
			return
		}
	}

	if m.SenderID == s.selfID {
		if idx := s.findPending(m); idx >= 0 {
			e := s.entries[idx]
			e.Message = m
			e.TempID = ""
			e.State = StateConfirmed
			s.mu.Unlock()
			s.notifyChange()
			return
		}
	}

	s.entries = append(s.entries, &Entry{Message: m, State: StateConfirmed})
	s.mu.Unlock()
	s.notifyChange()
}

// findPending locates the pending entry a confirmed own message settles.
// The echoed temp id is authoritative; when it is absent (older servers,
// a send from before a reconnect) fall back to matching the newest
// pending entry of the same content type created within the trailing
// window. Content equality is deliberately not part of the match: an
// image travels out as base64 and comes back as a served path.
func (s *Store) findPending(m *model.Message) int {
	if m.TempID != "" {
		for i, e := range s.entries {
			if e.State == StatePending && e.TempID == m.TempID {
				return i
			}
		}
		return -1
	}
	cutoff := time.Now().Add(-pendingMatchWindow)
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.State == StatePending &&
			e.Message.ContentType == m.ContentType &&
			e.Message.CreatedAt.After(cutoff) {
			return i
		}
	}
	return -1
}

// Entries returns a snapshot of the sequence, oldest first. Messages are
// copied, so mutating the snapshot never reaches the store.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
		if e.Message != nil {
			m := *e.Message
			out[i].Message = &m
		}
	}
	return out
}

// HasMore reports whether older pages remain.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// ThreadID returns the currently open thread, or "".
func (s *Store) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// SetForeground tells the store whether the open thread is on screen.
// Backgrounded threads route incoming messages to the unread aggregator
// instead of marking them read.
func (s *Store) SetForeground(fg bool) {
	s.mu.Lock()
	s.foreground = fg
	s.mu.Unlock()
}

// OnChange registers a sequence-change callback and returns its
// unsubscribe func.
func (s *Store) OnChange(f func()) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.changeSub[id] = f
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.changeSub, id)
	}
}

// OnSendFailed registers a callback for rolled-back sends.
func (s *Store) OnSendFailed(f func(tempID string, err error)) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.failSub[id] = f
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.failSub, id)
	}
}

func (s *Store) notifyChange() {
	s.mu.Lock()
	subs := make([]func(), 0, len(s.changeSub))
	for _, f := range s.changeSub {
		subs = append(subs, f)
	}
	s.mu.Unlock()
	for _, f := range subs {
		f()
	}
}
