package model

import "time"

type ContentType string

const (
	ContentTypeText   ContentType = "text"
	ContentTypeImage  ContentType = "image"
	ContentTypeFile   ContentType = "file"
	ContentTypeSystem ContentType = "system"
)

type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
	MessageStatusRead MessageStatus = "read"
)

type Message struct {
	ID          string        `json:"id"`
	ThreadID    string        `json:"thread_id"`
	SenderID    string        `json:"sender_id"`
	Content     string        `json:"content"`
	ContentType ContentType   `json:"content_type"`
	Status      MessageStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	Sender      *Participant  `json:"sender,omitempty"`

	// TempID echoes the client-local id of an optimistic send so the
	// sender can reconcile its pending entry. Never persisted.
	TempID string `json:"temp_id,omitempty"`
}
