package storage

import "context"

// UnreadCache caches per-user unread totals so badge polling does not hit
// Postgres on every refresh. Counts are derived data: a miss or a stale
// value is always safe, the repository remains the source of truth.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type UnreadCache interface {
	// GetUnread returns the cached unread total for a user.
	// ok is false on cache miss.
	GetUnread(ctx context.Context, userID string) (n int, ok bool, err error)
	SetUnread(ctx context.Context, userID string, n int) error
	// Invalidate drops a user's cached total (new message or mark-read).
	Invalidate(ctx context.Context, userID string) error
	Close() error
}
