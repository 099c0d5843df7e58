package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cached unread totals expire on their own so a missed invalidation can
// only show a stale badge for a short window.
const unreadTTL = 60 * time.Second

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func unreadKey(userID string) string { return "unread:" + userID }

// GetUnread returns the cached unread total; ok=false on miss.
func (c *Client) GetUnread(ctx context.Context, userID string) (int, bool, error) {
	val, err := c.cli.Get(ctx, unreadKey(userID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// SetUnread caches the unread total with TTL.
func (c *Client) SetUnread(ctx context.Context, userID string, n int) error {
	return c.cli.Set(ctx, unreadKey(userID), strconv.Itoa(n), unreadTTL).Err()
}

// Invalidate drops the cached total after a new message or mark-read.
func (c *Client) Invalidate(ctx context.Context, userID string) error {
	return c.cli.Del(ctx, unreadKey(userID)).Err()
}
