package model

import (
	"errors"
	"time"
)

// Role identifies which side of the platform a participant acts as.
type Role string

const (
	RoleGuest Role = "guest"
	RoleHost  Role = "host"
	RoleAdmin Role = "admin"
)

// ThreadKind is the participant-role pair of a 1:1 thread.
type ThreadKind string

const (
	ThreadGuestHost  ThreadKind = "guest-host"
	ThreadGuestAdmin ThreadKind = "guest-admin"
	ThreadHostAdmin  ThreadKind = "host-admin"
)

// Participant is the public view of one thread member.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      Role   `json:"role"`
}

// LastMessage is the snapshot kept on a thread for list previews.
type LastMessage struct {
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	SenderID    string      `json:"sender_id"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Thread is a 1:1 conversation between two of {guest, host, admin},
// optionally scoped to a listing. Exactly the two slots named by Kind
// are populated; the third stays empty.
type Thread struct {
	ID        string     `json:"id"`
	Kind      ThreadKind `json:"kind"`
	GuestID   string     `json:"guest_id,omitempty"`
	HostID    string     `json:"host_id,omitempty"`
	AdminID   string     `json:"admin_id,omitempty"`
	ListingID string     `json:"listing_id,omitempty"`

	Guest *Participant `json:"guest,omitempty"`
	Host  *Participant `json:"host,omitempty"`
	Admin *Participant `json:"admin,omitempty"`

	LastMessage   *LastMessage `json:"last_message,omitempty"`
	LastMessageAt time.Time    `json:"last_message_at"`

	// Per-role unread counters; only the two counters matching Kind are meaningful.
	GuestUnread int `json:"guest_unread"`
	HostUnread  int `json:"host_unread"`
	AdminUnread int `json:"admin_unread"`

	CreatedAt time.Time `json:"created_at"`
}

// ErrNotParticipant is returned when a viewer id matches none of the
// populated participant slots of a thread.
var ErrNotParticipant = errors.New("viewer is not a participant of thread")

// ViewerRole returns the role slot occupied by viewerID.
func (t *Thread) ViewerRole(viewerID string) (Role, error) {
	switch viewerID {
	case "":
		return "", ErrNotParticipant
	case t.GuestID:
		return RoleGuest, nil
	case t.HostID:
		return RoleHost, nil
	case t.AdminID:
		return RoleAdmin, nil
	}
	return "", ErrNotParticipant
}

// ResolveCounterparty returns the populated participant that is not the
// viewer. Every consumer goes through this instead of re-deriving the
// slot branch.
func (t *Thread) ResolveCounterparty(viewerID string) (*Participant, error) {
	role, err := t.ViewerRole(viewerID)
	if err != nil {
		return nil, err
	}
	for _, p := range []*Participant{t.Guest, t.Host, t.Admin} {
		if p != nil && p.Role != role {
			return p, nil
		}
	}
	return nil, ErrNotParticipant
}

// UnreadFor returns the viewer's unread counter.
func (t *Thread) UnreadFor(viewerID string) int {
	role, err := t.ViewerRole(viewerID)
	if err != nil {
		return 0
	}
	switch role {
	case RoleGuest:
		return t.GuestUnread
	case RoleHost:
		return t.HostUnread
	case RoleAdmin:
		return t.AdminUnread
	}
	return 0
}

// KindFor derives the thread kind from two participant roles, in either order.
func KindFor(a, b Role) (ThreadKind, error) {
	switch {
	case a == RoleGuest && b == RoleHost, a == RoleHost && b == RoleGuest:
		return ThreadGuestHost, nil
	case a == RoleGuest && b == RoleAdmin, a == RoleAdmin && b == RoleGuest:
		return ThreadGuestAdmin, nil
	case a == RoleHost && b == RoleAdmin, a == RoleAdmin && b == RoleHost:
		return ThreadHostAdmin, nil
	}
	return "", errors.New("invalid participant role pair")
}
