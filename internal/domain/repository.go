package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for swap jobs. Updates apply to one row
// by id; no cross-job coordination is required.
type JobRepository interface {
	Create(ctx context.Context, job *SwapJob) error
	GetByID(ctx context.Context, jobID string) (*SwapJob, error)
	Update(ctx context.Context, job *SwapJob) error
	ListBySession(ctx context.Context, sessionID string) ([]SwapJob, error)
}

// SessionRepository defines persistence for session activity windows.
type SessionRepository interface {
	Create(ctx context.Context, s *SessionState) error
	GetByID(ctx context.Context, sessionID string) (*SessionState, error)
	// Touch resets the activity window to the given instants.
	Touch(ctx context.Context, sessionID string, lastActivity, expiresAt time.Time) error
	// MarkCleared flips the cleared flag and reports whether this call won
	// the transition (false when some other sweep already cleared it).
	MarkCleared(ctx context.Context, sessionID string) (bool, error)
	// ListExpired returns sessions whose window lapsed before the cutoff and
	// that have not been cleared yet.
	ListExpired(ctx context.Context, cutoff time.Time) ([]SessionState, error)
}
