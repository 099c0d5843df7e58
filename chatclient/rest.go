// Package chatclient is the realtime chat synchronization core used by the
// homestay apps: it reconciles optimistic local sends with server-confirmed
// messages arriving over the live event stream, pages history, and keeps
// typing and unread state.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stayhub/chat/internal/model"
)

const restTimeout = 30 * time.Second

// Client is the REST collaborator of the sync core. It carries the bearer
// credential on every call and applies a bounded timeout so a dead network
// surfaces as ErrTimeout instead of a hang.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// notificationsURL is the optional generic-notifications collaborator;
	// empty disables the second badge counter.
	notificationsURL string
}

// NewClient creates a REST client for the chat service.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: restTimeout},
	}
}

// WithNotifications points the client at the generic notification counter
// endpoint (a different collaborator than chat unread).
func (c *Client) WithNotifications(url string) *Client {
	c.notificationsURL = strings.TrimSuffix(url, "/")
	return c
}

// SetToken replaces the bearer credential (login/token refresh).
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chatclient: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("chatclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) && uerr.Timeout() {
			return fmt.Errorf("%w: %s %s", ErrTimeout, method, rawURL)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", ErrTimeout, method, rawURL)
		}
		return fmt.Errorf("chatclient: %s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode >= 300:
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chatclient: decode response: %w", err)
	}
	return nil
}

// MyThreads lists the caller's threads, newest activity first.
func (c *Client) MyThreads(ctx context.Context, page, limit int) ([]model.Thread, error) {
	u := c.baseURL + "/threads/my-threads?page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
	var threads []model.Thread
	if err := c.do(ctx, http.MethodGet, u, nil, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// FindOrCreateRequest identifies the counterparty and listing context of a
// thread resolution.
type FindOrCreateRequest struct {
	OtherPartyID   string     `json:"other_party_id"`
	OtherPartyRole model.Role `json:"other_party_role"`
	OtherPartyName string     `json:"other_party_name,omitempty"`
	ListingID      string     `json:"listing_id,omitempty"`
}

// FindOrCreateThread resolves (or creates) the thread for a counterparty
// and listing. Idempotent server-side.
func (c *Client) FindOrCreateThread(ctx context.Context, req FindOrCreateRequest) (*model.Thread, error) {
	t := &model.Thread{}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/threads/find-or-create", req, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetThread loads one thread the caller participates in.
func (c *Client) GetThread(ctx context.Context, threadID string) (*model.Thread, error) {
	t := &model.Thread{}
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/threads/"+threadID, nil, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Messages fetches one history page, newest first (the store reverses it
// for display order).
func (c *Client) Messages(ctx context.Context, threadID string, page, limit int) ([]model.Message, error) {
	u := c.baseURL + "/threads/" + threadID + "/messages?page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
	var messages []model.Message
	if err := c.do(ctx, http.MethodGet, u, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage is the REST delivery path; the response is the confirmed
// message, temp id echoed.
func (c *Client) SendMessage(ctx context.Context, threadID, content string, contentType model.ContentType, tempID string) (*model.Message, error) {
	body := struct {
		Content     string            `json:"content"`
		ContentType model.ContentType `json:"content_type,omitempty"`
		TempID      string            `json:"temp_id,omitempty"`
	}{Content: content, ContentType: contentType, TempID: tempID}
	m := &model.Message{}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/threads/"+threadID+"/messages", body, m); err != nil {
		return nil, err
	}
	return m, nil
}

// MarkRead marks every message of a thread as read for the caller.
func (c *Client) MarkRead(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodPut, c.baseURL+"/threads/"+threadID+"/read", nil, nil)
}

// UnreadCount fetches the caller's chat unread total.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/threads/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// NotificationCount fetches the generic notification badge counter, a
// collaborator independent from chat unread. Returns 0 when the client is
// not configured with a notifications endpoint.
func (c *Client) NotificationCount(ctx context.Context) (int, error) {
	if c.notificationsURL == "" {
		return 0, nil
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, c.notificationsURL, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}
