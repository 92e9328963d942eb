// Package pipeline composes the poster region codec, the external swap
// client, the job poller and the session budget into one orchestrated swap.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/jobs"
	"server/internal/poster"
	"server/internal/providers/faceswap"
	"server/internal/retry"
	"server/internal/session"
	"server/internal/storage"
)

// Options configures an Orchestrator.
type Options struct {
	SubmitTimeout time.Duration
	Clock         jobs.Clock
	Logger        *zerolog.Logger
}

// Orchestrator runs one swap per call: confirm the session budget, cut the
// poster, drive the external job to a terminal state, composite the result.
type Orchestrator struct {
	sessions *session.Manager
	catalog  *poster.Catalog
	client   faceswap.Submitter
	poller   *jobs.Poller
	jobs     domain.JobRepository
	store    *storage.FileStore
	policy   retry.Policy
	timeout  time.Duration
	clock    jobs.Clock
	logger   zerolog.Logger
}

// Output is the artifact of a finished swap: the composited poster plus the
// job metadata for audit.
type Output struct {
	Job       *domain.SwapJob
	ResultKey string
	Image     []byte
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(
	sessions *session.Manager,
	catalog *poster.Catalog,
	client faceswap.Submitter,
	poller *jobs.Poller,
	jobRepo domain.JobRepository,
	store *storage.FileStore,
	policy retry.Policy,
	opts Options,
) *Orchestrator {
	timeout := opts.SubmitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clock := opts.Clock
	if clock == nil {
		clock = jobs.RealClock()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Orchestrator{
		sessions: sessions,
		catalog:  catalog,
		client:   client,
		poller:   poller,
		jobs:     jobRepo,
		store:    store,
		policy:   policy,
		timeout:  timeout,
		clock:    clock,
		logger:   logger,
	}
}

// RunSwap swaps the uploaded source into the poster identified by posterID
// and returns the composited poster. Blocks until the external job reaches a
// terminal state or the owning session runs out of budget.
func (o *Orchestrator) RunSwap(ctx context.Context, sessionID, sourceKey, posterID string, kind domain.JobKind) (*Output, error) {
	// Born claimed: a queued row belongs to the worker pool, and this call
	// is about to drive the job itself.
	job := &domain.SwapJob{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Status:    domain.JobStatusProcessing,
		SourceKey: sourceKey,
		PosterID:  posterID,
		CreatedAt: o.clock.Now(),
		UpdatedAt: o.clock.Now(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return o.RunJob(ctx, job.ID)
}

// RunJob drives an existing queued job to completion. The worker binary uses
// this entry for jobs enqueued over the API.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string) (*Output, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Kind == domain.JobKindHairSwap {
		return o.runHair(ctx, job)
	}
	return o.runFace(ctx, job)
}

// RunHairSwap runs a face swap and chains its output into a second
// asynchronous hair-swap job against the same poster. The same poller and
// retry policy drive both jobs.
func (o *Orchestrator) RunHairSwap(ctx context.Context, sessionID, sourceKey, posterID string) (*Output, error) {
	return o.RunSwap(ctx, sessionID, sourceKey, posterID, domain.JobKindHairSwap)
}

func (o *Orchestrator) runFace(ctx context.Context, job *domain.SwapJob) (*Output, error) {
	watchCtx, release, err := o.sessions.WatchContext(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, posterImg, source, err := o.loadInputs(ctx, job)
	if err != nil {
		return nil, err
	}

	ws, err := o.store.NewWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	swapped, err := o.swapRegion(watchCtx, ws, job, posterImg, p.Side, source)
	if err != nil {
		return nil, o.sessionize(ctx, watchCtx, job, err)
	}
	return o.composite(ctx, job, posterImg, swapped, p.Side)
}

// runHair performs the chained variant: the face-swapped region of the first
// job becomes the target input of a second asynchronous job.
func (o *Orchestrator) runHair(ctx context.Context, job *domain.SwapJob) (*Output, error) {
	watchCtx, release, err := o.sessions.WatchContext(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, posterImg, source, err := o.loadInputs(ctx, job)
	if err != nil {
		return nil, err
	}

	ws, err := o.store.NewWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	faceJob := &domain.SwapJob{
		ID:           uuid.NewString(),
		SessionID:    job.SessionID,
		Kind:         domain.JobKindFaceSwap,
		Status:       domain.JobStatusProcessing,
		SourceKey:    job.SourceKey,
		PosterID:     job.PosterID,
		Intermediate: true,
		CreatedAt:    o.clock.Now(),
		UpdatedAt:    o.clock.Now(),
	}
	if err := o.jobs.Create(ctx, faceJob); err != nil {
		return nil, fmt.Errorf("create chained face job: %w", err)
	}
	faceRegion, err := o.swapRegion(watchCtx, ws, faceJob, posterImg, p.Side, source)
	if err != nil {
		return nil, o.sessionize(ctx, watchCtx, faceJob, err)
	}

	hairRegion, err := o.swapChained(watchCtx, ws, job, faceRegion, source)
	if err != nil {
		return nil, o.sessionize(ctx, watchCtx, job, err)
	}
	return o.composite(ctx, job, posterImg, hairRegion, p.Side)
}

// loadInputs resolves the poster and reads both images from the store.
func (o *Orchestrator) loadInputs(ctx context.Context, job *domain.SwapJob) (poster.Poster, image.Image, []byte, error) {
	p, err := o.catalog.Lookup(job.PosterID)
	if err != nil {
		return poster.Poster{}, nil, nil, err
	}
	posterData, err := o.store.Read(ctx, p.ImageKey)
	if err != nil {
		return poster.Poster{}, nil, nil, fmt.Errorf("%w: poster %s unreadable", domain.ErrInvalidImage, p.ID)
	}
	posterImg, err := decodeImage(posterData)
	if err != nil {
		return poster.Poster{}, nil, nil, err
	}
	source, err := o.store.Read(ctx, job.SourceKey)
	if err != nil {
		return poster.Poster{}, nil, nil, fmt.Errorf("%w: source %s unreadable", domain.ErrInvalidImage, job.SourceKey)
	}
	return p, posterImg, source, nil
}

// swapRegion extracts the poster half and runs one swap round against it.
func (o *Orchestrator) swapRegion(ctx context.Context, ws *storage.Workspace, job *domain.SwapJob, posterImg image.Image, side poster.Side, source []byte) ([]byte, error) {
	_, regionBuf, err := poster.ExtractRegion(posterImg, side)
	if err != nil {
		return nil, err
	}
	regionPNG, err := encodePNG(regionBuf)
	if err != nil {
		return nil, err
	}
	if _, err := ws.WriteFile(job.ID+"-region.png", regionPNG); err != nil {
		return nil, err
	}
	return o.swapChained(ctx, ws, job, regionPNG, source)
}

// swapChained submits source against an arbitrary target region and drives
// the job to a terminal state.
func (o *Orchestrator) swapChained(ctx context.Context, ws *storage.Workspace, job *domain.SwapJob, target, source []byte) ([]byte, error) {
	outcome, err := o.submit(ctx, faceswap.SwapRequest{
		SourceImage: source,
		TargetImage: target,
		Kind:        job.Kind,
	})
	if err != nil {
		o.markFailed(ctx, job, err)
		return nil, err
	}

	if outcome.Kind == faceswap.OutcomeSync {
		// An intermediate leg is done here. A top-level job completes in
		// composite, together with its stored result key.
		if job.Intermediate {
			job.Status = domain.JobStatusCompleted
		}
		job.Attempts = 1
		job.UpdatedAt = o.clock.Now()
		if err := o.jobs.Update(ctx, job); err != nil {
			return nil, fmt.Errorf("persist job: %w", err)
		}
		o.logger.Info().Str("job_id", job.ID).Msg("pipeline: synchronous swap result")
		return outcome.Image, nil
	}

	job.Status = outcome.Handle.Status
	if !job.Terminal() {
		// The vendor may still report QUEUED; from our side the handle is
		// in flight, and a queued row would be claimable by the worker.
		job.Status = domain.JobStatusProcessing
	}
	job.VendorTaskID = outcome.Handle.JobID
	job.PollEndpoint = outcome.Handle.PollEndpoint
	job.UpdatedAt = o.clock.Now()
	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job handle: %w", err)
	}

	res, err := o.poller.Wait(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	*job = *res.Job
	if _, err := ws.WriteFile(job.ID+"-swapped.png", res.Image); err != nil {
		return nil, err
	}
	return res.Image, nil
}

// submit performs the upstream submission with bounded retries on transient
// failures. Non-retryable errors surface immediately.
func (o *Orchestrator) submit(ctx context.Context, req faceswap.SwapRequest) (*faceswap.SubmitOutcome, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, o.policy.CallTimeout(o.timeout, attempt))
		outcome, err := o.client.Submit(callCtx, req)
		cancel()
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		decision := o.policy.Decide(attempt, faceswap.StatusCode(err), err)
		if !decision.Retry {
			return nil, lastErr
		}
		o.logger.Debug().Int("retry", attempt+1).Dur("delay", decision.Delay).Err(err).Msg("pipeline: transient submit failure")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.clock.After(decision.Delay):
		}
	}
}

// composite re-inserts the swapped region and persists the final poster.
func (o *Orchestrator) composite(ctx context.Context, job *domain.SwapJob, posterImg image.Image, swapped []byte, side poster.Side) (*Output, error) {
	swappedImg, err := decodeImage(swapped)
	if err != nil {
		o.markFailed(ctx, job, err)
		return nil, fmt.Errorf("%w: swapped region undecodable", domain.ErrComposite)
	}
	final, err := poster.CompositeRegion(posterImg, swappedImg, side)
	if err != nil {
		o.markFailed(ctx, job, err)
		return nil, err
	}
	finalPNG, err := encodePNG(final)
	if err != nil {
		o.markFailed(ctx, job, err)
		return nil, err
	}
	key, err := o.store.Write(ctx, "results/"+job.ID+".png", finalPNG)
	if err != nil {
		o.markFailed(ctx, job, err)
		return nil, err
	}
	job.ResultKey = key
	job.Status = domain.JobStatusCompleted
	job.UpdatedAt = o.clock.Now()
	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist result: %w", err)
	}
	o.logger.Info().Str("job_id", job.ID).Str("result_key", key).Msg("pipeline: swap composited")
	return &Output{Job: job, ResultKey: key, Image: finalPNG}, nil
}

// sessionize translates a cancellation caused by session expiry into the
// session taxonomy; a caller-driven cancellation passes through untouched.
func (o *Orchestrator) sessionize(ctx, watchCtx context.Context, job *domain.SwapJob, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if watchCtx.Err() != nil {
		o.logger.Warn().Str("job_id", job.ID).Str("session_id", job.SessionID).Msg("pipeline: session expired mid-swap, job abandoned")
		return fmt.Errorf("%w: session %s", domain.ErrSessionExpired, job.SessionID)
	}
	return err
}

// markFailed records a hard failure. Jobs already failed or timed out keep
// their first terminal state; a completed job that cannot yield a stored
// result is downgraded so a completed row always carries its result key.
func (o *Orchestrator) markFailed(ctx context.Context, job *domain.SwapJob, cause error) {
	if job.Status == domain.JobStatusFailed || job.Status == domain.JobStatusTimedOut {
		return
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = cause.Error()
	job.UpdatedAt = o.clock.Now()
	if err := o.jobs.Update(ctx, job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: persist failure state")
	}
}

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", domain.ErrInvalidImage)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

