package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/jobs"
	"server/internal/pipeline"
	"server/internal/poster"
	"server/internal/providers/faceswap"
	"server/internal/retry"
	"server/internal/session"
	"server/internal/sqlinline"
	"server/internal/storage"
)

const (
	jobPollInterval   = 2 * time.Second
	staleClaimMaxAge  = "10 minutes"
	staleReleaseEvery = time.Minute
)

// swapRunner is the slice of the orchestrator the claim loop needs.
type swapRunner interface {
	RunJob(ctx context.Context, jobID string) (*pipeline.Output, error)
}

type jobWorker struct {
	ctx    context.Context
	runner *infra.SQLRunner
	orch   swapRunner
	jobs   domain.JobRepository
	logger infra.Logger
}

var errNoJobAvailable = errors.New("no job available")

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	store, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	sessions := session.NewManager(repo.NewSessionRepository(pool), session.Options{
		TTL:           cfg.SessionTTL,
		WarnThreshold: cfg.SessionWarnThreshold,
		Debounce:      cfg.ActivityDebounce,
		SweepCadence:  cfg.SweepCadence,
		Logger:        &logger,
	})
	if err := sessions.StartSweeper(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to start session sweeper")
	}
	defer sessions.StopSweeper()

	apiKey := strings.TrimSpace(cfg.FaceSwapAPIKey)
	if apiKey == "" {
		credStore := credentials.NewStore(runner)
		keyFromStore, err := credStore.FaceSwapAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("worker: failed to load face swap api key from store")
		} else {
			apiKey = keyFromStore
		}
	}

	jobRepo := repo.NewJobRepository(pool)
	policy := retry.NewPolicy(cfg.MaxRetries, cfg.RetryWaitBase, cfg.RetryWaitMax, cfg.RetryTimeoutIncrement, cfg.RetryableStatuses)
	client := faceswap.NewClient(faceswap.Options{
		APIKey:     apiKey,
		BaseURL:    cfg.FaceSwapBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Timeout:    cfg.RequestTimeout,
		Logger:     &logger,
	})
	poller := jobs.NewPoller(client, policy, jobRepo, jobs.Options{
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxPollAttempts,
		CallTimeout:  cfg.RequestTimeout,
		Logger:       &logger,
	})
	orch := pipeline.NewOrchestrator(sessions, poster.NewCatalog(), client, poller, jobRepo, store, policy, pipeline.Options{
		Logger: &logger,
	})

	worker := &jobWorker{ctx: ctx, runner: runner, orch: orch, jobs: jobRepo, logger: logger}
	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *jobWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	lastRelease := time.Now()
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		if time.Since(lastRelease) >= staleReleaseEvery {
			w.releaseStaleClaims()
			lastRelease = time.Now()
		}

		jobID, err := w.claimJob()
		if err != nil {
			if errors.Is(err, errNoJobAvailable) {
				time.Sleep(jobPollInterval)
				continue
			}
			w.logger.Error().Err(err).Msg("worker: failed to claim job")
			time.Sleep(jobPollInterval)
			continue
		}

		w.handleJob(jobID)
	}
}

func (w *jobWorker) claimJob() (string, error) {
	row := w.runner.QueryRow(w.ctx, sqlinline.QWorkerClaimSwapJob)
	var id string
	if err := row.Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return "", errNoJobAvailable
		}
		return "", err
	}
	return id, nil
}

func (w *jobWorker) releaseStaleClaims() {
	if _, err := w.runner.Exec(w.ctx, sqlinline.QWorkerReleaseStaleJobs, staleClaimMaxAge); err != nil {
		w.logger.Error().Err(err).Msg("worker: failed to release stale claims")
	}
}

func (w *jobWorker) handleJob(jobID string) {
	w.logger.Info().Str("job_id", jobID).Msg("worker: picked job")
	out, err := w.orch.RunJob(w.ctx, jobID)
	switch {
	case err == nil:
		w.logger.Info().Str("job_id", jobID).Str("result_key", out.ResultKey).Msg("worker: job completed")
	case errors.Is(err, domain.ErrSessionExpired):
		// The claim left the row processing; without a terminal status the
		// stale release would requeue it and the guard would bounce it again.
		w.abandonJob(jobID, err)
		w.logger.Info().Str("job_id", jobID).Msg("worker: job abandoned, session expired")
	case errors.Is(err, domain.ErrJobTimedOut):
		w.logger.Warn().Str("job_id", jobID).Msg("worker: job timed out")
	default:
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: job failed")
	}
}

func (w *jobWorker) abandonJob(jobID string, cause error) {
	job, err := w.jobs.GetByID(w.ctx, jobID)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: load job for abandon")
		return
	}
	if job.Terminal() {
		return
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = cause.Error()
	job.UpdatedAt = time.Now()
	if err := w.jobs.Update(w.ctx, job); err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: persist abandoned job")
	}
}
