package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stayhub/chat/internal/logger"
	"github.com/stayhub/chat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, thread_id, sender_id, content, content_type, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ThreadID, m.SenderID, m.Content, m.ContentType, m.Status, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	sender := &model.Participant{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.thread_id, m.sender_id, m.content, m.content_type, m.status, m.created_at,
		        p.id, p.name, p.avatar_url, p.role
		 FROM messages m
		 JOIN participants p ON p.id = m.sender_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Content, &m.ContentType, &m.Status, &m.CreatedAt,
		&sender.ID, &sender.Name, &sender.AvatarURL, &sender.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	m.Sender = sender
	return m, nil
}

// Page returns one history page newest-first. page is 1-based; the client
// reverses pages for oldest-to-newest display.
func (r *MessageRepository) Page(ctx context.Context, threadID string, page, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Page", time.Now())()
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.thread_id, m.sender_id, m.content, m.content_type, m.status, m.created_at,
		        p.id, p.name, p.avatar_url, p.role
		 FROM messages m
		 JOIN participants p ON p.id = m.sender_id
		 WHERE m.thread_id = $1
		 ORDER BY m.created_at DESC, m.seq DESC
		 LIMIT $2 OFFSET $3`, threadID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Page query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		sender := &model.Participant{}
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Content, &m.ContentType, &m.Status, &m.CreatedAt,
			&sender.ID, &sender.Name, &sender.AvatarURL, &sender.Role); err != nil {
			return nil, fmt.Errorf("msgRepo.Page scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Page rows: %w", err)
	}
	return messages, nil
}

// MarkAsRead marks every message in a thread not sent by readerID as read.
func (r *MessageRepository) MarkAsRead(ctx context.Context, threadID, readerID string) error {
	defer logger.DeferLogDuration("msg.MarkAsRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = $3
		 WHERE thread_id = $1 AND sender_id <> $2 AND status <> $3`,
		threadID, readerID, model.MessageStatusRead,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkAsRead: %w", err)
	}
	return nil
}
