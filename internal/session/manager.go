// Package session tracks per-session activity windows and enforces the
// per-session time budget independently of any single HTTP request.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Clock abstracts wall-clock reads for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Manager.
type Options struct {
	TTL           time.Duration
	WarnThreshold time.Duration
	Debounce      time.Duration
	SweepCadence  time.Duration
	Clock         Clock
	Logger        *zerolog.Logger
}

// Manager owns the session activity state machine: ACTIVE -> WARNING ->
// EXPIRED, with EXPIRED terminal. Status is always derived from the stored
// activity window, never stored on its own.
type Manager struct {
	repo     domain.SessionRepository
	ttl      time.Duration
	warn     time.Duration
	debounce time.Duration
	cadence  time.Duration
	clock    Clock
	logger   zerolog.Logger

	cron *cron.Cron

	mu       sync.Mutex
	watchers map[string][]context.CancelFunc
}

// NewManager wires a manager over the session store.
func NewManager(repo domain.SessionRepository, opts Options) *Manager {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	warn := opts.WarnThreshold
	if warn <= 0 {
		warn = time.Minute
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 30 * time.Second
	}
	cadence := opts.SweepCadence
	if cadence <= 0 {
		cadence = 30 * time.Second
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Manager{
		repo:     repo,
		ttl:      ttl,
		warn:     warn,
		debounce: debounce,
		cadence:  cadence,
		clock:    clock,
		logger:   logger,
		watchers: make(map[string][]context.CancelFunc),
	}
}

// Now exposes the manager's clock so callers record activity on the same
// timeline the expiry checks run on.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// Begin creates a fresh session with a full time budget.
func (m *Manager) Begin(ctx context.Context) (*domain.SessionState, error) {
	now := m.clock.Now()
	s := &domain.SessionState{
		ID:             uuid.NewString(),
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.ttl),
		CreatedAt:      now,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info().Str("session_id", s.ID).Time("expires_at", s.ExpiresAt).Msg("session: started")
	return s, nil
}

// Get loads a session together with its derived status.
func (m *Manager) Get(ctx context.Context, id string) (*domain.SessionState, domain.SessionStatus, error) {
	s, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return s, s.StatusAt(m.clock.Now(), m.warn), nil
}

// Guard fails with ErrSessionExpired unless the session still has budget.
func (m *Manager) Guard(ctx context.Context, id string) error {
	_, status, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if status == domain.SessionExpired {
		return fmt.Errorf("%w: session %s", domain.ErrSessionExpired, id)
	}
	return nil
}

// RecordActivity registers an activity signal observed at the given instant.
// Signals inside the debounce interval are dropped (returns false) so
// continuous interaction does not hammer the store. Activity on an expired
// session is rejected.
func (m *Manager) RecordActivity(ctx context.Context, id string, at time.Time) (bool, error) {
	s, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if s.StatusAt(at, m.warn) == domain.SessionExpired {
		return false, fmt.Errorf("%w: session %s", domain.ErrSessionExpired, id)
	}
	if at.Sub(s.LastActivityAt) <= m.debounce {
		return false, nil
	}
	if err := m.repo.Touch(ctx, id, at, at.Add(m.ttl)); err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return true, nil
}

// Extend resets the session clock unconditionally. Unlike RecordActivity it
// ignores the debounce, but an expired session stays expired.
func (m *Manager) Extend(ctx context.Context, id string) (*domain.SessionState, error) {
	s, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if s.StatusAt(now, m.warn) == domain.SessionExpired {
		return nil, fmt.Errorf("%w: session %s", domain.ErrSessionExpired, id)
	}
	if err := m.repo.Touch(ctx, id, now, now.Add(m.ttl)); err != nil {
		return nil, fmt.Errorf("extend session: %w", err)
	}
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(m.ttl)
	return s, nil
}

// WatchContext derives a context that is cancelled when the session expires.
// In-flight work for the session (pollers in particular) runs under it so
// expiry abandons the work cooperatively.
func (m *Manager) WatchContext(ctx context.Context, id string) (context.Context, context.CancelFunc, error) {
	if err := m.Guard(ctx, id); err != nil {
		return nil, nil, err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.watchers[id] = append(m.watchers[id], cancel)
	m.mu.Unlock()
	return watchCtx, cancel, nil
}

// Sweep recomputes status for lapsed sessions and fires the session-cleared
// side effect exactly once per session: the conditional store update decides
// a single winner, which then cancels any in-flight watchers. Returns the
// number of sessions cleared by this run.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.clock.Now()
	expired, err := m.repo.ListExpired(ctx, now)
	if err != nil {
		m.logger.Error().Err(err).Msg("session: sweep list failed")
		return 0
	}
	cleared := 0
	for i := range expired {
		id := expired[i].ID
		won, err := m.repo.MarkCleared(ctx, id)
		if err != nil {
			m.logger.Error().Err(err).Str("session_id", id).Msg("session: mark cleared failed")
			continue
		}
		if !won {
			continue
		}
		m.cancelWatchers(id)
		cleared++
		m.logger.Info().Str("session_id", id).Msg("session: expired, in-flight work abandoned")
	}
	return cleared
}

// StartSweeper runs Sweep on the configured cadence until StopSweeper.
func (m *Manager) StartSweeper(ctx context.Context) error {
	if m.cron != nil {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", m.cadence), func() {
		m.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	c.Start()
	m.cron = c
	m.logger.Info().Dur("cadence", m.cadence).Msg("session: sweeper started")
	return nil
}

// StopSweeper stops the background sweep schedule.
func (m *Manager) StopSweeper() {
	if m.cron == nil {
		return
	}
	m.cron.Stop()
	m.cron = nil
}

func (m *Manager) cancelWatchers(id string) {
	m.mu.Lock()
	cancels := m.watchers[id]
	delete(m.watchers, id)
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
