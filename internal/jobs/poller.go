// Package jobs drives the submit -> poll -> terminal-state loop for
// long-running swap jobs at the external vision service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/faceswap"
	"server/internal/retry"
)

// Clock abstracts time so the poll loop is testable without real waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Options configures a Poller.
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
	CallTimeout  time.Duration
	Clock        Clock
	Logger       *zerolog.Logger
}

// Poller owns the polling state machine for async jobs. One goroutine drives
// all polls for a given job, so responses are consumed in issuance order.
type Poller struct {
	querier     faceswap.StatusQuerier
	policy      retry.Policy
	jobs        domain.JobRepository
	clock       Clock
	interval    time.Duration
	maxAttempts int
	callTimeout time.Duration
	logger      zerolog.Logger
}

// Result is the terminal outcome of a poll loop. Image carries the vendor
// output for a freshly completed job; for a job that was already terminal it
// is nil and ResultKey on the job points at the stored artifact.
type Result struct {
	Job   *domain.SwapJob
	Image []byte
}

// NewPoller wires a poller over the status querier and job store.
func NewPoller(querier faceswap.StatusQuerier, policy retry.Policy, repo domain.JobRepository, opts Options) *Poller {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Poller{
		querier:     querier,
		policy:      policy,
		jobs:        repo,
		clock:       clock,
		interval:    interval,
		maxAttempts: maxAttempts,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Wait drives the job to a terminal state and returns it. Terminal states are
// sticky: when the stored job is already terminal the cached outcome is
// returned without contacting the upstream. Cancellation is cooperative; the
// context is checked between ticks and before each network call, never by
// interrupting a call in flight.
func (p *Poller) Wait(ctx context.Context, jobID string) (*Result, error) {
	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return &Result{Job: job}, terminalErr(job)
	}
	if job.PollEndpoint == "" {
		return nil, fmt.Errorf("%w: job %s has no poll endpoint", domain.ErrBadUpstreamResponse, jobID)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		status, err := p.query(ctx, job)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, p.abandon(ctx, job, err)
		}

		job.Attempts = attempt
		job.Status = status.Status
		if !job.Terminal() {
			// Anything non-terminal reported while we hold the handle is
			// in-flight from our side.
			job.Status = domain.JobStatusProcessing
		}
		if job.Status == domain.JobStatusFailed {
			job.ErrorMessage = "upstream reported failure"
		}
		p.persist(ctx, job)

		switch status.Status {
		case domain.JobStatusCompleted:
			p.logger.Info().Str("job_id", job.ID).Int("attempts", attempt).Msg("poller: job completed")
			return &Result{Job: job, Image: status.Image}, nil
		case domain.JobStatusFailed:
			p.logger.Warn().Str("job_id", job.ID).Int("attempts", attempt).Msg("poller: job failed upstream")
			return &Result{Job: job}, fmt.Errorf("%w: job %s", domain.ErrJobFailed, job.ID)
		}

		if attempt >= p.maxAttempts {
			job.Status = domain.JobStatusTimedOut
			job.ErrorMessage = fmt.Sprintf("gave up after %d polls", attempt)
			p.persist(ctx, job)
			p.logger.Warn().Str("job_id", job.ID).Int("attempts", attempt).Msg("poller: gave up waiting")
			return &Result{Job: job}, fmt.Errorf("%w: job %s", domain.ErrJobTimedOut, job.ID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(p.interval):
		}
	}
}

// query issues one status poll, retrying transient sub-failures per policy.
func (p *Poller) query(ctx context.Context, job *domain.SwapJob) (*faceswap.PollStatus, error) {
	var lastErr error
	for retryAttempt := 0; ; retryAttempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, p.policy.CallTimeout(p.callTimeout, retryAttempt))
		status, err := p.querier.PollStatus(callCtx, job.PollEndpoint)
		cancel()
		if err == nil {
			return status, nil
		}
		lastErr = err
		decision := p.policy.Decide(retryAttempt, faceswap.StatusCode(err), err)
		if !decision.Retry {
			return nil, lastErr
		}
		p.logger.Debug().
			Str("job_id", job.ID).
			Int("retry", retryAttempt+1).
			Dur("delay", decision.Delay).
			Err(err).
			Msg("poller: transient poll failure")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(decision.Delay):
		}
	}
}

// abandon records why polling stopped without a terminal upstream answer.
// Retry-exhausted transient failures leave the job timed out (the upstream
// never said no); contract violations and hard rejections mark it failed.
func (p *Poller) abandon(ctx context.Context, job *domain.SwapJob, cause error) error {
	if errors.Is(cause, domain.ErrUpstreamTimeout) || errors.Is(cause, domain.ErrUpstreamUnavailable) {
		job.Status = domain.JobStatusTimedOut
	} else {
		job.Status = domain.JobStatusFailed
	}
	job.ErrorMessage = cause.Error()
	p.persist(ctx, job)
	return cause
}

func (p *Poller) persist(ctx context.Context, job *domain.SwapJob) {
	job.UpdatedAt = p.clock.Now()
	if err := p.jobs.Update(ctx, job); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("poller: persist job state")
	}
}

func terminalErr(job *domain.SwapJob) error {
	switch job.Status {
	case domain.JobStatusFailed:
		return fmt.Errorf("%w: job %s", domain.ErrJobFailed, job.ID)
	case domain.JobStatusTimedOut:
		return fmt.Errorf("%w: job %s", domain.ErrJobTimedOut, job.ID)
	default:
		return nil
	}
}
