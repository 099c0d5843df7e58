package chatclient

import (
	"context"
	"sync"
	"time"

	"github.com/stayhub/chat/internal/logger"
)

const unreadPollInterval = 30 * time.Second

// FetchFunc produces one badge counter. Fetches run with a bounded
// timeout; an error leaves the previous cached value untouched.
type FetchFunc func(ctx context.Context) (int, error)

// Counts is one snapshot of the two badge counters. Chat and
// notifications are independent surfaces that happen to both render as
// badges.
type Counts struct {
	Chat          int
	Notifications int
}

// Unread owns the session-wide badge counters. It refreshes on a fixed
// interval, on explicit pokes (a message landing in a backgrounded
// thread) and on app-foreground transitions. Start it after login, Stop
// it on logout; stopping zeroes the counters.
type Unread struct {
	fetchChat  FetchFunc
	fetchNotif FetchFunc

	mu        sync.Mutex
	counts    Counts
	running   bool
	cancel    context.CancelFunc
	kick      chan struct{}
	nextSubID int
	subs      map[int]func(Counts)
}

// NewUnread builds an aggregator from the two counter sources. Either
// fetch func may be nil, leaving that surface at zero.
func NewUnread(fetchChat, fetchNotif FetchFunc) *Unread {
	return &Unread{
		fetchChat:  fetchChat,
		fetchNotif: fetchNotif,
		subs:       make(map[int]func(Counts)),
	}
}

// Start begins the poll loop and performs an immediate refresh. A no-op
// when already running.
func (u *Unread) Start() {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return
	}
	u.running = true
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.kick = make(chan struct{}, 1)
	kick := u.kick
	u.mu.Unlock()

	go u.loop(ctx, kick)
	u.Refresh()
}

// Stop halts polling and resets both counters to zero, notifying
// subscribers of the reset.
func (u *Unread) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	u.cancel()
	u.cancel = nil
	u.counts = Counts{}
	subs := u.snapshotSubs()
	u.mu.Unlock()

	for _, f := range subs {
		f(Counts{})
	}
}

// Refresh schedules an immediate re-fetch of both counters. Coalesces
// with an already-queued refresh.
func (u *Unread) Refresh() {
	u.mu.Lock()
	kick := u.kick
	running := u.running
	u.mu.Unlock()
	if !running {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

// Foreground signals an app-foreground transition, which triggers a
// refresh.
func (u *Unread) Foreground() {
	u.Refresh()
}

// Counts returns the current cached counters.
func (u *Unread) Counts() Counts {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts
}

// Subscribe registers a callback invoked with every counter change,
// returning its unsubscribe func.
func (u *Unread) Subscribe(f func(Counts)) (off func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := u.nextSubID
	u.nextSubID++
	u.subs[id] = f
	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		delete(u.subs, id)
	}
}

func (u *Unread) loop(ctx context.Context, kick <-chan struct{}) {
	ticker := time.NewTicker(unreadPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.refreshNow(ctx)
		case <-kick:
			u.refreshNow(ctx)
		}
	}
}

func (u *Unread) refreshNow(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	u.mu.Lock()
	next := u.counts
	u.mu.Unlock()

	changed := false
	if u.fetchChat != nil {
		if n, err := u.fetchChat(fetchCtx); err != nil {
			// Keep the previous value; a flaky fetch must not blank a
			// real badge.
			logger.Errorf("chatclient: unread fetch: %v", err)
		} else if n != next.Chat {
			next.Chat = n
			changed = true
		}
	}
	if u.fetchNotif != nil {
		if n, err := u.fetchNotif(fetchCtx); err != nil {
			logger.Errorf("chatclient: notification fetch: %v", err)
		} else if n != next.Notifications {
			next.Notifications = n
			changed = true
		}
	}
	if !changed {
		return
	}

	u.mu.Lock()
	if !u.running {
		// Stop won the race while the fetch was in flight; a late
		// commit would resurrect a badge after logout.
		u.mu.Unlock()
		return
	}
	u.counts = next
	subs := u.snapshotSubs()
	u.mu.Unlock()
	for _, f := range subs {
		f(next)
	}
}

// snapshotSubs must be called with u.mu held.
func (u *Unread) snapshotSubs() []func(Counts) {
	out := make([]func(Counts), 0, len(u.subs))
	for _, f := range u.subs {
		out = append(out, f)
	}
	return out
}
