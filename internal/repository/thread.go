package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stayhub/chat/internal/logger"
	"github.com/stayhub/chat/internal/model"
)

type ThreadRepository struct {
	pool *pgxpool.Pool
}

func NewThreadRepository(pool *pgxpool.Pool) *ThreadRepository {
	return &ThreadRepository{pool: pool}
}

const threadColumns = `
	t.id, t.kind, COALESCE(t.guest_id, ''), COALESCE(t.host_id, ''), COALESCE(t.admin_id, ''), t.listing_id,
	t.last_message_content, t.last_message_type, t.last_message_sender, t.last_message_at,
	t.guest_unread, t.host_unread, t.admin_unread, t.created_at,
	COALESCE(g.name, ''), COALESCE(g.avatar_url, ''),
	COALESCE(h.name, ''), COALESCE(h.avatar_url, ''),
	COALESCE(a.name, ''), COALESCE(a.avatar_url, '')`

const threadJoins = `
	FROM threads t
	LEFT JOIN participants g ON g.id = t.guest_id
	LEFT JOIN participants h ON h.id = t.host_id
	LEFT JOIN participants a ON a.id = t.admin_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*model.Thread, error) {
	t := &model.Thread{}
	var (
		lastContent, lastType, lastSender       string
		guestName, guestAvatar                  string
		hostName, hostAvatar                    string
		adminName, adminAvatar                  string
	)
	err := row.Scan(&t.ID, &t.Kind, &t.GuestID, &t.HostID, &t.AdminID, &t.ListingID,
		&lastContent, &lastType, &lastSender, &t.LastMessageAt,
		&t.GuestUnread, &t.HostUnread, &t.AdminUnread, &t.CreatedAt,
		&guestName, &guestAvatar, &hostName, &hostAvatar, &adminName, &adminAvatar)
	if err != nil {
		return nil, err
	}
	if t.GuestID != "" {
		t.Guest = &model.Participant{ID: t.GuestID, Name: guestName, AvatarURL: guestAvatar, Role: model.RoleGuest}
	}
	if t.HostID != "" {
		t.Host = &model.Participant{ID: t.HostID, Name: hostName, AvatarURL: hostAvatar, Role: model.RoleHost}
	}
	if t.AdminID != "" {
		t.Admin = &model.Participant{ID: t.AdminID, Name: adminName, AvatarURL: adminAvatar, Role: model.RoleAdmin}
	}
	if lastSender != "" {
		t.LastMessage = &model.LastMessage{
			Content:     lastContent,
			ContentType: model.ContentType(lastType),
			SenderID:    lastSender,
			CreatedAt:   t.LastMessageAt,
		}
	}
	return t, nil
}

// slotFor maps a participant onto the thread column occupied by its role.
func slotFor(p *model.Participant, guestID, hostID, adminID *string) error {
	switch p.Role {
	case model.RoleGuest:
		*guestID = p.ID
	case model.RoleHost:
		*hostID = p.ID
	case model.RoleAdmin:
		*adminID = p.ID
	default:
		return fmt.Errorf("unknown role %q", p.Role)
	}
	return nil
}

// FindOrCreate resolves the thread for a participant pair and listing,
// creating it on first call. Idempotent: the unique key on
// (kind, slots, listing) guarantees the same tuple always lands on the
// same thread id, including under concurrent first calls.
func (r *ThreadRepository) FindOrCreate(ctx context.Context, a, b *model.Participant, listingID string) (*model.Thread, error) {
	defer logger.DeferLogDuration("thread.FindOrCreate", time.Now())()
	kind, err := model.KindFor(a.Role, b.Role)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.FindOrCreate: %w", err)
	}
	var guestID, hostID, adminID string
	if err := slotFor(a, &guestID, &hostID, &adminID); err != nil {
		return nil, fmt.Errorf("threadRepo.FindOrCreate: %w", err)
	}
	if err := slotFor(b, &guestID, &hostID, &adminID); err != nil {
		return nil, fmt.Errorf("threadRepo.FindOrCreate: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO threads (id, kind, guest_id, host_id, admin_id, listing_id, created_at, last_message_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $7)
		 ON CONFLICT (kind, COALESCE(guest_id, ''), COALESCE(host_id, ''), COALESCE(admin_id, ''), listing_id)
		 DO NOTHING`,
		uuid.New().String(), kind, guestID, hostID, adminID, listingID, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.FindOrCreate insert: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT`+threadColumns+threadJoins+`
		 WHERE t.kind = $1
		   AND COALESCE(t.guest_id, '') = $2
		   AND COALESCE(t.host_id, '') = $3
		   AND COALESCE(t.admin_id, '') = $4
		   AND t.listing_id = $5`,
		kind, guestID, hostID, adminID, listingID,
	)
	t, err := scanThread(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("threadRepo.FindOrCreate select: %w", err)
	}
	return t, nil
}

func (r *ThreadRepository) GetByID(ctx context.Context, id string) (*model.Thread, error) {
	defer logger.DeferLogDuration("thread.GetByID", time.Now())()
	row := r.pool.QueryRow(ctx, `SELECT`+threadColumns+threadJoins+` WHERE t.id = $1`, id)
	t, err := scanThread(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("threadRepo.GetByID: %w", err)
	}
	return t, nil
}

// GetForViewer loads a thread and enforces that viewerID occupies one of
// its slots. A thread the viewer cannot see yields ErrForbidden, not
// ErrNotFound.
func (r *ThreadRepository) GetForViewer(ctx context.Context, id, viewerID string) (*model.Thread, error) {
	t, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := t.ViewerRole(viewerID); err != nil {
		return nil, ErrForbidden
	}
	return t, nil
}

// ListForUser returns the user's threads ordered by last-message time,
// newest first.
func (r *ThreadRepository) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Thread, error) {
	defer logger.DeferLogDuration("thread.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT`+threadColumns+threadJoins+`
		 WHERE t.guest_id = $1 OR t.host_id = $1 OR t.admin_id = $1
		 ORDER BY t.last_message_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	threads := make([]model.Thread, 0, limit)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("threadRepo.ListForUser scan: %w", err)
		}
		threads = append(threads, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("threadRepo.ListForUser rows: %w", err)
	}
	return threads, nil
}

// TouchLastMessage updates the thread's preview snapshot and bumps the
// unread counter of every populated slot except the sender's.
func (r *ThreadRepository) TouchLastMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("thread.TouchLastMessage", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE threads SET
			last_message_content = $2,
			last_message_type = $3,
			last_message_sender = $4,
			last_message_at = $5,
			guest_unread = guest_unread + CASE WHEN guest_id IS NOT NULL AND guest_id <> $4 THEN 1 ELSE 0 END,
			host_unread  = host_unread  + CASE WHEN host_id  IS NOT NULL AND host_id  <> $4 THEN 1 ELSE 0 END,
			admin_unread = admin_unread + CASE WHEN admin_id IS NOT NULL AND admin_id <> $4 THEN 1 ELSE 0 END
		 WHERE id = $1`,
		m.ThreadID, m.Content, m.ContentType, m.SenderID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("threadRepo.TouchLastMessage: %w", err)
	}
	return nil
}

// MarkRead zeroes the viewer's unread counter.
func (r *ThreadRepository) MarkRead(ctx context.Context, threadID, viewerID string) error {
	defer logger.DeferLogDuration("thread.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE threads SET
			guest_unread = CASE WHEN guest_id = $2 THEN 0 ELSE guest_unread END,
			host_unread  = CASE WHEN host_id  = $2 THEN 0 ELSE host_unread  END,
			admin_unread = CASE WHEN admin_id = $2 THEN 0 ELSE admin_unread END
		 WHERE id = $1`,
		threadID, viewerID,
	)
	if err != nil {
		return fmt.Errorf("threadRepo.MarkRead: %w", err)
	}
	return nil
}

// UnreadTotal sums the viewer's unread counters across all their threads.
func (r *ThreadRepository) UnreadTotal(ctx context.Context, userID string) (int, error) {
	defer logger.DeferLogDuration("thread.UnreadTotal", time.Now())()
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(
			CASE WHEN guest_id = $1 THEN guest_unread
			     WHEN host_id  = $1 THEN host_unread
			     ELSE admin_unread END), 0)
		 FROM threads
		 WHERE guest_id = $1 OR host_id = $1 OR admin_id = $1`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("threadRepo.UnreadTotal: %w", err)
	}
	return total, nil
}

// IsMember reports whether userID occupies a slot of the thread.
func (r *ThreadRepository) IsMember(ctx context.Context, threadID, userID string) (bool, error) {
	defer logger.DeferLogDuration("thread.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM threads
			WHERE id = $1 AND (guest_id = $2 OR host_id = $2 OR admin_id = $2))`,
		threadID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("threadRepo.IsMember: %w", err)
	}
	return exists, nil
}

// MemberIDs returns the populated participant ids of a thread.
func (r *ThreadRepository) MemberIDs(ctx context.Context, threadID string) ([]string, error) {
	defer logger.DeferLogDuration("thread.MemberIDs", time.Now())()
	var guestID, hostID, adminID string
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(guest_id, ''), COALESCE(host_id, ''), COALESCE(admin_id, '')
		 FROM threads WHERE id = $1`, threadID,
	).Scan(&guestID, &hostID, &adminID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("threadRepo.MemberIDs: %w", err)
	}
	ids := make([]string, 0, 2)
	for _, id := range []string{guestID, hostID, adminID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
