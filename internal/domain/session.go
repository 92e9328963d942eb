package domain

import "time"

// SessionStatus enumerates the activity lifecycle of a session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionWarning SessionStatus = "warning"
	SessionExpired SessionStatus = "expired"
)

// SessionState tracks one user session's activity window. Status is always
// derived from LastActivityAt/ExpiresAt against a supplied clock, never
// stored independently of them.
type SessionState struct {
	ID             string
	LastActivityAt time.Time
	ExpiresAt      time.Time
	Cleared        bool
	CreatedAt      time.Time
}

// StatusAt derives the lifecycle status at the given instant.
func (s *SessionState) StatusAt(now time.Time, warnThreshold time.Duration) SessionStatus {
	remaining := s.ExpiresAt.Sub(now)
	switch {
	case remaining <= 0:
		return SessionExpired
	case remaining <= warnThreshold:
		return SessionWarning
	default:
		return SessionActive
	}
}

// Remaining returns the time budget left at the given instant. Never negative.
func (s *SessionState) Remaining(now time.Time) time.Duration {
	if r := s.ExpiresAt.Sub(now); r > 0 {
		return r
	}
	return 0
}
