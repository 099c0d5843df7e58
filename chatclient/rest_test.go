package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stayhub/chat/internal/model"
)

func TestClientErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/threads/denied":
			http.Error(w, `{"error":"not your thread"}`, http.StatusForbidden)
		case "/threads/anon":
			http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
		default:
			http.Error(w, `{"error":"thread not found"}`, http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")

	if _, err := c.GetThread(context.Background(), "denied"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if _, err := c.GetThread(context.Background(), "anon"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	_, err := c.GetThread(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "thread not found" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestClientSendsBearerHeader(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]model.Message{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-9")
	if _, err := c.Messages(context.Background(), "t1", 1, 50); err != nil {
		t.Fatalf("messages: %v", err)
	}
	if auth := <-got; auth != "Bearer tok-9" {
		t.Fatalf("auth = %q, want bearer header", auth)
	}
}

func TestSendMessageEchoesTempID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content     string            `json:"content"`
			ContentType model.ContentType `json:"content_type"`
			TempID      string            `json:"temp_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(model.Message{
			ID:          "m1",
			ThreadID:    "t1",
			Content:     req.Content,
			ContentType: req.ContentType,
			TempID:      req.TempID,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	m, err := c.SendMessage(context.Background(), "t1", "hello", model.ContentTypeText, "tmp-7")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m.ID != "m1" || m.TempID != "tmp-7" {
		t.Fatalf("message = %+v, want m1 with temp id echoed", m)
	}
}

func TestUnreadAndNotificationCounts(t *testing.T) {
	chat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/unread-count" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"count": 4})
	}))
	defer chat.Close()
	notif := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"count": 11})
	}))
	defer notif.Close()

	c := NewClient(chat.URL, "tok")
	if n, err := c.UnreadCount(context.Background()); err != nil || n != 4 {
		t.Fatalf("unread = %d, %v, want 4", n, err)
	}
	// Without a notifications endpoint the second badge stays zero.
	if n, err := c.NotificationCount(context.Background()); err != nil || n != 0 {
		t.Fatalf("notifications = %d, %v, want 0 unconfigured", n, err)
	}

	c.WithNotifications(notif.URL)
	if n, err := c.NotificationCount(context.Background()); err != nil || n != 11 {
		t.Fatalf("notifications = %d, %v, want 11", n, err)
	}
}
