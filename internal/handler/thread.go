package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stayhub/chat/internal/logger"
	"github.com/stayhub/chat/internal/middleware"
	"github.com/stayhub/chat/internal/model"
	"github.com/stayhub/chat/internal/repository"
	"github.com/stayhub/chat/internal/storage"
	"github.com/stayhub/chat/internal/ws"
)

type ThreadHandler struct {
	threadRepo      *repository.ThreadRepository
	msgRepo         *repository.MessageRepository
	participantRepo *repository.ParticipantRepository
	unread          storage.UnreadCache
	hub             *ws.Hub
	pageSize        int
}

func NewThreadHandler(
	threadRepo *repository.ThreadRepository,
	msgRepo *repository.MessageRepository,
	participantRepo *repository.ParticipantRepository,
	unread storage.UnreadCache,
	hub *ws.Hub,
	pageSize int,
) *ThreadHandler {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &ThreadHandler{
		threadRepo:      threadRepo,
		msgRepo:         msgRepo,
		participantRepo: participantRepo,
		unread:          unread,
		hub:             hub,
		pageSize:        pageSize,
	}
}

// MyThreads returns the caller's threads ordered by last message, newest
// first. Supports page/limit.
func (h *ThreadHandler) MyThreads(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 100 {
		limit = 50
	}
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}

	threads, err := h.threadRepo.ListForUser(r.Context(), userID, limit, (page-1)*limit)
	if err != nil {
		logger.Errorf("my-threads user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

type FindOrCreateRequest struct {
	OtherPartyID   string     `json:"other_party_id"`
	OtherPartyRole model.Role `json:"other_party_role"`
	OtherPartyName string     `json:"other_party_name,omitempty"`
	ListingID      string     `json:"listing_id,omitempty"`
}

// FindOrCreate resolves the thread for (caller, other party, listing),
// creating it on first use. Idempotent per tuple.
func (h *ThreadHandler) FindOrCreate(w http.ResponseWriter, r *http.Request) {
	var req FindOrCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.OtherPartyID == "" || req.OtherPartyRole == "" {
		writeError(w, http.StatusBadRequest, "other_party_id and other_party_role required")
		return
	}

	me := &model.Participant{
		ID:   middleware.GetUserID(r.Context()),
		Name: middleware.GetUserName(r.Context()),
		Role: middleware.GetUserRole(r.Context()),
	}
	if req.OtherPartyID == me.ID {
		writeError(w, http.StatusBadRequest, "cannot open a thread with yourself")
		return
	}
	other := &model.Participant{
		ID:   req.OtherPartyID,
		Name: req.OtherPartyName,
		Role: req.OtherPartyRole,
	}
	if _, err := model.KindFor(me.Role, other.Role); err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant role pair")
		return
	}

	// Both slots must exist as participants before the thread row can
	// reference them.
	for _, p := range []*model.Participant{me, other} {
		if err := h.participantRepo.Upsert(r.Context(), p); err != nil {
			logger.Errorf("find-or-create upsert participant %s: %v", p.ID, err)
			writeError(w, http.StatusInternalServerError, "failed to resolve thread")
			return
		}
	}

	thread, err := h.threadRepo.FindOrCreate(r.Context(), me, other, req.ListingID)
	if err != nil {
		logger.Errorf("find-or-create user=%s other=%s: %v", me.ID, other.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to resolve thread")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// GetThread returns one thread. Non-participants get 403, not 404.
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	thread, err := h.threadRepo.GetForViewer(r.Context(), threadID, userID)
	if errors.Is(err, repository.ErrForbidden) {
		writeError(w, http.StatusForbidden, "not a thread participant")
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		logger.Errorf("get thread %s: %v", threadID, err)
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// Messages returns one history page, newest first.
func (h *ThreadHandler) Messages(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	if _, err := h.threadRepo.GetForViewer(r.Context(), threadID, userID); err != nil {
		switch {
		case errors.Is(err, repository.ErrForbidden):
			writeError(w, http.StatusForbidden, "not a thread participant")
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "thread not found")
		default:
			logger.Errorf("messages thread=%s: %v", threadID, err)
			writeError(w, http.StatusInternalServerError, "failed to load messages")
		}
		return
	}

	limit := queryInt(r, "limit", h.pageSize)
	if limit < 1 || limit > 100 {
		limit = h.pageSize
	}
	page := queryInt(r, "page", 1)

	messages, err := h.msgRepo.Page(r.Context(), threadID, page, limit)
	if err != nil {
		logger.Errorf("messages thread=%s page=%d: %v", threadID, page, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type SendMessageRequest struct {
	Content     string            `json:"content"`
	ContentType model.ContentType `json:"content_type,omitempty"`
	TempID      string            `json:"temp_id,omitempty"`
}

// SendMessage is the REST delivery path, used when the live connection is
// down. The confirmed message is returned directly and also fanned out
// over the hub, so other sessions and the counterparty see it live.
func (h *ThreadHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}

	if _, err := h.threadRepo.GetForViewer(r.Context(), threadID, userID); err != nil {
		switch {
		case errors.Is(err, repository.ErrForbidden):
			writeError(w, http.StatusForbidden, "not a thread participant")
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "thread not found")
		default:
			logger.Errorf("send message thread=%s: %v", threadID, err)
			writeError(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	contentType := model.ContentTypeText
	if req.ContentType != "" {
		contentType = req.ContentType
	}
	m := &model.Message{
		ID:          uuid.New().String(),
		ThreadID:    threadID,
		SenderID:    userID,
		Content:     req.Content,
		ContentType: contentType,
		Status:      model.MessageStatusSent,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.msgRepo.Create(r.Context(), m); err != nil {
		logger.Errorf("send message thread=%s: %v", threadID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	if err := h.threadRepo.TouchLastMessage(r.Context(), m); err != nil {
		logger.Errorf("touch thread %s: %v", threadID, err)
	}
	if sender, err := h.participantRepo.GetByID(r.Context(), userID); err == nil {
		m.Sender = sender
	}

	h.hub.Deliver(r.Context(), m, req.TempID)

	confirmed := *m
	confirmed.TempID = req.TempID
	writeJSON(w, http.StatusCreated, &confirmed)
}

// MarkRead marks every message in the thread as read for the caller and
// zeroes their unread counter.
func (h *ThreadHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	if _, err := h.threadRepo.GetForViewer(r.Context(), threadID, userID); err != nil {
		switch {
		case errors.Is(err, repository.ErrForbidden):
			writeError(w, http.StatusForbidden, "not a thread participant")
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "thread not found")
		default:
			logger.Errorf("mark read thread=%s: %v", threadID, err)
			writeError(w, http.StatusInternalServerError, "failed to mark read")
		}
		return
	}

	if err := h.msgRepo.MarkAsRead(r.Context(), threadID, userID); err != nil {
		logger.Errorf("mark read thread=%s user=%s: %v", threadID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	if err := h.threadRepo.MarkRead(r.Context(), threadID, userID); err != nil {
		logger.Errorf("zero unread thread=%s user=%s: %v", threadID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	if h.unread != nil {
		if err := h.unread.Invalidate(r.Context(), userID); err != nil {
			logger.Errorf("invalidate unread user=%s: %v", userID, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

// UnreadCount returns the caller's unread total across threads,
// read-through the cache.
func (h *ThreadHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if h.unread != nil {
		if n, ok, err := h.unread.GetUnread(r.Context(), userID); err == nil && ok {
			writeJSON(w, http.StatusOK, unreadCountResponse{Count: n})
			return
		}
	}

	total, err := h.threadRepo.UnreadTotal(r.Context(), userID)
	if err != nil {
		logger.Errorf("unread count user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}
	if h.unread != nil {
		if err := h.unread.SetUnread(r.Context(), userID, total); err != nil {
			logger.Errorf("cache unread user=%s: %v", userID, err)
		}
	}
	writeJSON(w, http.StatusOK, unreadCountResponse{Count: total})
}
