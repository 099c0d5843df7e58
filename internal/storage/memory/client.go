// Package memory is an in-process UnreadCache for -dev runs without Redis.
package memory

import (
	"context"
	"sync"
	"time"
)

const unreadTTL = 60 * time.Second

type item struct {
	n   int
	exp time.Time
}

type Client struct {
	mu     sync.RWMutex
	unread map[string]item
}

func New() *Client {
	return &Client{unread: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) GetUnread(ctx context.Context, userID string) (int, bool, error) {
	c.mu.RLock()
	it, ok := c.unread[userID]
	c.mu.RUnlock()
	if !ok || time.Now().After(it.exp) {
		return 0, false, nil
	}
	return it.n, true, nil
}

func (c *Client) SetUnread(ctx context.Context, userID string, n int) error {
	c.mu.Lock()
	c.unread[userID] = item{n: n, exp: time.Now().Add(unreadTTL)}
	c.mu.Unlock()
	return nil
}

func (c *Client) Invalidate(ctx context.Context, userID string) error {
	c.mu.Lock()
	delete(c.unread, userID)
	c.mu.Unlock()
	return nil
}
