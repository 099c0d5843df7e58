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

var (
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a caller asks for a thread they are not
	// a participant of. Deliberately distinct from ErrNotFound: the thread
	// may exist, the caller just may not see it.
	ErrForbidden = errors.New("not a thread participant")
)

type ParticipantRepository struct {
	pool *pgxpool.Pool
}

func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

// Upsert creates or refreshes a participant record. Called on every
// authenticated request that introduces a participant, so display name
// and avatar stay current.
func (r *ParticipantRepository) Upsert(ctx context.Context, p *model.Participant) error {
	defer logger.DeferLogDuration("participant.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO participants (id, name, avatar_url, role)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url`,
		p.ID, p.Name, p.AvatarURL, p.Role,
	)
	if err != nil {
		return fmt.Errorf("participantRepo.Upsert: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) GetByID(ctx context.Context, id string) (*model.Participant, error) {
	defer logger.DeferLogDuration("participant.GetByID", time.Now())()
	p := &model.Participant{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, avatar_url, role FROM participants WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.AvatarURL, &p.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("participantRepo.GetByID: %w", err)
	}
	return p, nil
}
