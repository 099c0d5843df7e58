// Package ws implements the live event stream: the server-side hub with
// per-thread rooms, and the wire-level event vocabulary shared with the
// client SDK.
package ws

import "github.com/stayhub/chat/internal/model"

type EventType string

// Client -> server events.
const (
	EventJoinThread  EventType = "join-thread"
	EventLeaveThread EventType = "leave-thread"
	EventSendMessage EventType = "send-message"
	EventTyping      EventType = "typing"
	EventStopTyping  EventType = "stop-typing"
)

// Server -> client events.
const (
	EventNewMessage     EventType = "new-message"
	EventUserTyping     EventType = "user-typing"
	EventUserStopTyping EventType = "user-stop-typing"
	EventError          EventType = "error"
)

// IncomingMessage is what a client sends over the stream.
type IncomingMessage struct {
	Type        EventType         `json:"type"`
	ThreadID    string            `json:"thread_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	ContentType model.ContentType `json:"content_type,omitempty"`

	// TempID is the sender's optimistic-entry id; echoed back on the
	// sender's own new-message event so it can reconcile without the
	// recency heuristic.
	TempID string `json:"temp_id,omitempty"`
}

// OutgoingMessage is what the server sends to a client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// NewMessagePayload carries a persisted message to thread participants.
type NewMessagePayload struct {
	ThreadID string         `json:"thread_id"`
	Message  *model.Message `json:"message"`
}

// TypingPayload is broadcast for user-typing and user-stop-typing.
type TypingPayload struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
}

// ErrorPayload carries an error event to one client.
type ErrorPayload struct {
	Message string `json:"message"`
}
