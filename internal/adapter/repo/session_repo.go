package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// SessionRepositoryPG implements domain.SessionRepository.
type SessionRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository backed by PostgreSQL.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepositoryPG {
	return &SessionRepositoryPG{pool: pool}
}

// Create inserts a new session record.
func (r *SessionRepositoryPG) Create(ctx context.Context, s *domain.SessionState) error {
	query := `
INSERT INTO sessions (id, last_activity_at, expires_at, cleared, created_at)
VALUES ($1, $2, $3, $4, $5);
`
	_, err := r.pool.Exec(ctx, query, s.ID, s.LastActivityAt, s.ExpiresAt, s.Cleared, s.CreatedAt)
	return err
}

// GetByID fetches a session by its identifier.
func (r *SessionRepositoryPG) GetByID(ctx context.Context, id string) (*domain.SessionState, error) {
	query := `
SELECT id, last_activity_at, expires_at, cleared, created_at
FROM sessions
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var s domain.SessionState
	if err := row.Scan(&s.ID, &s.LastActivityAt, &s.ExpiresAt, &s.Cleared, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Touch advances the activity window of a live session.
func (r *SessionRepositoryPG) Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	query := `
UPDATE sessions
SET last_activity_at = $2,
    expires_at = $3
WHERE id = $1 AND cleared = FALSE;
`
	tag, err := r.pool.Exec(ctx, query, id, lastActivity, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkCleared flips the cleared flag and reports whether this call won the
// flip. The conditional update makes expiry cleanup run at most once per
// session even with concurrent sweepers.
func (r *SessionRepositoryPG) MarkCleared(ctx context.Context, id string) (bool, error) {
	query := `
UPDATE sessions
SET cleared = TRUE
WHERE id = $1 AND cleared = FALSE;
`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpired returns uncleared sessions whose deadline has passed.
func (r *SessionRepositoryPG) ListExpired(ctx context.Context, cutoff time.Time) ([]domain.SessionState, error) {
	query := `
SELECT id, last_activity_at, expires_at, cleared, created_at
FROM sessions
WHERE cleared = FALSE AND expires_at <= $1
ORDER BY expires_at ASC;
`
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SessionState
	for rows.Next() {
		var s domain.SessionState
		if err := rows.Scan(&s.ID, &s.LastActivityAt, &s.ExpiresAt, &s.Cleared, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
