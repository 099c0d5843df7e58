package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/stayhub/chat/internal/logger"
	"github.com/stayhub/chat/internal/middleware"
	"github.com/stayhub/chat/internal/model"
	"github.com/stayhub/chat/internal/repository"
	"github.com/stayhub/chat/internal/ws"
)

type WSHandler struct {
	hub             *ws.Hub
	participantRepo *repository.ParticipantRepository
	allowedOrigins  string
}

// NewWSHandler creates the WebSocket upgrade handler. allowedOrigins works
// like CORS (comma-separated list or "*").
func NewWSHandler(hub *ws.Hub, participantRepo *repository.ParticipantRepository, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, participantRepo: participantRepo, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// The session may be the participant's first contact with the chat
	// service; make sure their record exists before any thread activity.
	if err := h.participantRepo.Upsert(r.Context(), &model.Participant{
		ID:   userID,
		Name: middleware.GetUserName(r.Context()),
		Role: middleware.GetUserRole(r.Context()),
	}); err != nil {
		logger.Errorf("ws upsert participant %s: %v", userID, err)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, userID)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
