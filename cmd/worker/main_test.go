package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/pipeline"
)

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]domain.SwapJob
}

func newMemJobRepo() *memJobRepo { return &memJobRepo{jobs: make(map[string]domain.SwapJob)} }

func (r *memJobRepo) Create(ctx context.Context, job *domain.SwapJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *memJobRepo) GetByID(ctx context.Context, jobID string) (*domain.SwapJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := job
	return &copied, nil
}

func (r *memJobRepo) Update(ctx context.Context, job *domain.SwapJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *memJobRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.SwapJob, error) {
	return nil, nil
}

type stubRunner struct {
	err   error
	calls int
}

func (s *stubRunner) RunJob(ctx context.Context, jobID string) (*pipeline.Output, error) {
	s.calls++
	return nil, s.err
}

func TestHandleJobExpiredSessionReachesTerminalState(t *testing.T) {
	repo := newMemJobRepo()
	job := &domain.SwapJob{
		ID:        "job-1",
		SessionID: "sess-1",
		Kind:      domain.JobKindFaceSwap,
		Status:    domain.JobStatusProcessing,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	runner := &stubRunner{err: fmt.Errorf("%w: session sess-1", domain.ErrSessionExpired)}
	logger := zerolog.Nop()
	w := &jobWorker{ctx: context.Background(), orch: runner, jobs: repo, logger: logger}

	w.handleJob("job-1")

	got, err := repo.GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Terminal() {
		t.Fatalf("job must be terminal after expired-session abandon, got %s", got.Status)
	}
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("abandoned job must record why")
	}

	// A second pass over the same row must not move it off its first
	// terminal state.
	firstMessage := got.ErrorMessage
	w.handleJob("job-1")
	again, _ := repo.GetByID(context.Background(), "job-1")
	if again.Status != domain.JobStatusFailed || again.ErrorMessage != firstMessage {
		t.Fatalf("terminal state must stick: %+v", again)
	}
	if runner.calls != 2 {
		t.Fatalf("expected 2 runner calls, got %d", runner.calls)
	}
}
