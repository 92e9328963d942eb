package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new swap job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new swap job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.SwapJob) error {
	query := `
INSERT INTO swap_jobs (id, session_id, kind, status, vendor_task_id, poll_endpoint, source_key, poster_id, result_key, error_message, attempts, intermediate, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.SessionID,
		job.Kind,
		job.Status,
		job.VendorTaskID,
		job.PollEndpoint,
		job.SourceKey,
		job.PosterID,
		job.ResultKey,
		job.ErrorMessage,
		job.Attempts,
		job.Intermediate,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// Update persists the mutable job fields. Status transitions are decided by
// the callers; the row simply records the latest observed state.
func (r *JobRepositoryPG) Update(ctx context.Context, job *domain.SwapJob) error {
	query := `
UPDATE swap_jobs
SET status = $2,
    vendor_task_id = $3,
    poll_endpoint = $4,
    result_key = $5,
    error_message = $6,
    attempts = $7,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.VendorTaskID,
		job.PollEndpoint,
		job.ResultKey,
		job.ErrorMessage,
		job.Attempts,
	)
	return err
}

// GetByID fetches a swap job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.SwapJob, error) {
	query := `
SELECT id, session_id, kind, status, vendor_task_id, poll_endpoint, source_key, poster_id, result_key, error_message, attempts, intermediate, created_at, updated_at
FROM swap_jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListBySession returns every job created under a session, newest first.
func (r *JobRepositoryPG) ListBySession(ctx context.Context, sessionID string) ([]domain.SwapJob, error) {
	query := `
SELECT id, session_id, kind, status, vendor_task_id, poll_endpoint, source_key, poster_id, result_key, error_message, attempts, intermediate, created_at, updated_at
FROM swap_jobs
WHERE session_id = $1
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SwapJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*domain.SwapJob, error) {
	var job domain.SwapJob
	if err := row.Scan(
		&job.ID,
		&job.SessionID,
		&job.Kind,
		&job.Status,
		&job.VendorTaskID,
		&job.PollEndpoint,
		&job.SourceKey,
		&job.PosterID,
		&job.ResultKey,
		&job.ErrorMessage,
		&job.Attempts,
		&job.Intermediate,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}
