package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stayhub/chat/internal/logger"
	"github.com/stayhub/chat/internal/model"
	"github.com/stayhub/chat/internal/repository"
	"github.com/stayhub/chat/internal/storage"
)

// PushNotifier delivers push notifications to users with no live
// connection. nil disables push.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Hub tracks every live connection and the per-thread rooms clients have
// joined. Messages fan out to all sessions of every thread participant;
// typing signals only to sessions that joined the thread's room.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	joined   map[*Client]map[string]struct{}
	total    int
	maxConns int

	threadRepo      *repository.ThreadRepository
	msgRepo         *repository.MessageRepository
	participantRepo *repository.ParticipantRepository
	unread          storage.UnreadCache
	pushClient      PushNotifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(
	threadRepo *repository.ThreadRepository,
	msgRepo *repository.MessageRepository,
	participantRepo *repository.ParticipantRepository,
	unread storage.UnreadCache,
	maxConns int,
	pushClient PushNotifier,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:         make(map[string]map[*Client]struct{}),
		rooms:           make(map[string]map[*Client]struct{}),
		joined:          make(map[*Client]map[string]struct{}),
		maxConns:        maxConns,
		threadRepo:      threadRepo,
		msgRepo:         msgRepo,
		participantRepo: participantRepo,
		unread:          unread,
		pushClient:      pushClient,
		register:        make(chan *Client, 64),
		unregister:      make(chan *Client, 64),
		done:            make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.joined = make(map[*Client]map[string]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	// Releasing the session releases all of its room subscriptions.
	for threadID := range h.joined[c] {
		if room, ok := h.rooms[threadID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, threadID)
			}
		}
	}
	delete(h.joined, c)
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// HandleMessage dispatches incoming live-stream events.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventJoinThread:
		h.handleJoinThread(ctx, c, msg)
	case EventLeaveThread:
		h.handleLeaveThread(c, msg)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, msg)
	case EventTyping:
		h.handleTyping(c, msg, EventUserTyping)
	case EventStopTyping:
		h.handleTyping(c, msg, EventUserStopTyping)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "unknown event type"}})
	}
}

func (h *Hub) handleJoinThread(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ThreadID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "thread_id required"}})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	isMember, err := h.threadRepo.IsMember(ctx, msg.ThreadID, c.userID)
	if err != nil {
		logger.Errorf("ws check membership thread=%s user=%s: %v", msg.ThreadID, c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "internal error"}})
		return
	}
	if !isMember {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "not a thread participant"}})
		return
	}

	h.mu.Lock()
	if _, ok := h.rooms[msg.ThreadID]; !ok {
		h.rooms[msg.ThreadID] = make(map[*Client]struct{})
	}
	h.rooms[msg.ThreadID][c] = struct{}{}
	if _, ok := h.joined[c]; !ok {
		h.joined[c] = make(map[string]struct{})
	}
	h.joined[c][msg.ThreadID] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) handleLeaveThread(c *Client, msg IncomingMessage) {
	if msg.ThreadID == "" {
		return
	}
	h.mu.Lock()
	if room, ok := h.rooms[msg.ThreadID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, msg.ThreadID)
		}
	}
	if joined, ok := h.joined[c]; ok {
		delete(joined, msg.ThreadID)
	}
	h.mu.Unlock()
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	if msg.ThreadID == "" || msg.Content == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "thread_id and content required"}})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	isMember, err := h.threadRepo.IsMember(ctx, msg.ThreadID, c.userID)
	if err != nil {
		logger.Errorf("ws check membership thread=%s user=%s: %v", msg.ThreadID, c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "internal error"}})
		return
	}
	if !isMember {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "not a thread participant"}})
		return
	}

	contentType := model.ContentTypeText
	if msg.ContentType != "" {
		contentType = msg.ContentType
	}

	m := &model.Message{
		ID:          uuid.New().String(),
		ThreadID:    msg.ThreadID,
		SenderID:    c.userID,
		Content:     msg.Content,
		ContentType: contentType,
		Status:      model.MessageStatusSent,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.msgRepo.Create(ctx, m); err != nil {
		logger.Errorf("ws save message thread=%s user=%s: %v", msg.ThreadID, c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "failed to save message"}})
		return
	}
	if err := h.threadRepo.TouchLastMessage(ctx, m); err != nil {
		logger.Errorf("ws touch thread %s: %v", msg.ThreadID, err)
	}

	if sender, err := h.participantRepo.GetByID(ctx, c.userID); err == nil {
		m.Sender = sender
	}

	h.Deliver(ctx, m, msg.TempID)
}

// Deliver fans a persisted message out to every session of every thread
// participant, invalidates recipient unread caches, and push-notifies
// participants with no live session. tempID, when set, is echoed only on
// the sender's own copies so their optimistic entry reconciles by id.
func (h *Hub) Deliver(ctx context.Context, m *model.Message, tempID string) {
	memberIDs, err := h.threadRepo.MemberIDs(ctx, m.ThreadID)
	if err != nil {
		logger.Errorf("ws get members thread=%s: %v", m.ThreadID, err)
		return
	}

	echo := *m
	echo.TempID = tempID

	for _, uid := range memberIDs {
		payload := NewMessagePayload{ThreadID: m.ThreadID, Message: m}
		if uid == m.SenderID && tempID != "" {
			payload.Message = &echo
		}
		h.sendToUser(uid, OutgoingMessage{Type: EventNewMessage, Payload: payload})

		if uid == m.SenderID {
			continue
		}
		if h.unread != nil {
			if err := h.unread.Invalidate(ctx, uid); err != nil {
				logger.Errorf("ws invalidate unread user=%s: %v", uid, err)
			}
		}
	}

	if h.pushClient == nil {
		return
	}
	senderName := ""
	if m.Sender != nil {
		senderName = m.Sender.Name
	}
	if senderName == "" {
		senderName = "New message"
	}
	body := m.Content
	if m.ContentType != model.ContentTypeText || body == "" {
		body = "Attachment"
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	data := map[string]string{"thread_id": m.ThreadID, "message_id": m.ID}
	for _, uid := range memberIDs {
		if uid == m.SenderID || h.IsOnline(uid) {
			continue
		}
		uid := uid
		go h.pushClient.Notify(context.Background(), uid, senderName, body, data)
	}
}

// handleTyping relays typing/stop-typing to room members except the sender.
// Signals are ephemeral: no membership query, no persistence, a client not
// joined to the room simply reaches nobody.
func (h *Hub) handleTyping(c *Client, msg IncomingMessage, out EventType) {
	if msg.ThreadID == "" {
		return
	}

	h.mu.RLock()
	if _, ok := h.joined[c][msg.ThreadID]; !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, 4)
	for member := range h.rooms[msg.ThreadID] {
		if member.userID != c.userID {
			targets = append(targets, member)
		}
	}
	h.mu.RUnlock()

	ev := OutgoingMessage{Type: out, Payload: TypingPayload{ThreadID: msg.ThreadID, UserID: c.userID}}
	for _, member := range targets {
		h.sendToClient(member, ev)
	}
}

// IsOnline reports whether a user has at least one live session.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
