package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"server/internal/domain"
	"server/internal/providers/faceswap"
	"server/internal/retry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the fake clock and fires immediately.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]domain.SwapJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]domain.SwapJob)}
}

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
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SwapJob
	for _, j := range r.jobs {
		if j.SessionID == sessionID {
			out = append(out, j)
		}
	}
	return out, nil
}

type scriptedQuerier struct {
	mu      sync.Mutex
	calls   int
	script  []func() (*faceswap.PollStatus, error)
	onPoll  func(call int)
	forever *faceswap.PollStatus
}

func (q *scriptedQuerier) PollStatus(ctx context.Context, pollEndpoint string) (*faceswap.PollStatus, error) {
	q.mu.Lock()
	call := q.calls
	q.calls++
	q.mu.Unlock()
	if q.onPoll != nil {
		q.onPoll(call)
	}
	if call < len(q.script) {
		return q.script[call]()
	}
	if q.forever != nil {
		return q.forever, nil
	}
	return nil, fmt.Errorf("unexpected poll %d", call)
}

func (q *scriptedQuerier) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func processing() (*faceswap.PollStatus, error) {
	return &faceswap.PollStatus{Status: domain.JobStatusProcessing}, nil
}

func completed(image []byte) func() (*faceswap.PollStatus, error) {
	return func() (*faceswap.PollStatus, error) {
		return &faceswap.PollStatus{Status: domain.JobStatusCompleted, Image: image}, nil
	}
}

func testPolicy() retry.Policy {
	return retry.NewPolicy(2, time.Millisecond, 10*time.Millisecond, 0, nil)
}

func seedJob(t *testing.T, repo *memJobRepo, status domain.JobStatus) *domain.SwapJob {
	t.Helper()
	job := &domain.SwapJob{
		ID:           "job-1",
		SessionID:    "sess-1",
		Kind:         domain.JobKindFaceSwap,
		Status:       status,
		PollEndpoint: "https://vendor.example.com/tasks/job-1",
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestWaitCompletesAfterScriptedPolls(t *testing.T) {
	repo := newMemJobRepo()
	seedJob(t, repo, domain.JobStatusQueued)
	image := []byte("swapped")
	querier := &scriptedQuerier{script: []func() (*faceswap.PollStatus, error){
		processing, processing, completed(image),
	}}
	p := NewPoller(querier, testPolicy(), repo, Options{
		PollInterval: 2 * time.Second,
		MaxAttempts:  10,
		Clock:        newFakeClock(),
	})

	res, err := p.Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if querier.count() != 3 {
		t.Fatalf("expected exactly 3 polls, got %d", querier.count())
	}
	if res.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("status: got %s", res.Job.Status)
	}
	if string(res.Image) != "swapped" {
		t.Fatalf("image: got %q", res.Image)
	}
	stored, _ := repo.GetByID(context.Background(), "job-1")
	if stored.Status != domain.JobStatusCompleted || stored.Attempts != 3 {
		t.Fatalf("stored job: status %s attempts %d", stored.Status, stored.Attempts)
	}
}

func TestWaitTimesOutAfterMaxAttempts(t *testing.T) {
	repo := newMemJobRepo()
	seedJob(t, repo, domain.JobStatusQueued)
	querier := &scriptedQuerier{forever: &faceswap.PollStatus{Status: domain.JobStatusProcessing}}
	p := NewPoller(querier, testPolicy(), repo, Options{
		PollInterval: time.Second,
		MaxAttempts:  5,
		Clock:        newFakeClock(),
	})

	_, err := p.Wait(context.Background(), "job-1")
	if !errors.Is(err, domain.ErrJobTimedOut) {
		t.Fatalf("expected ErrJobTimedOut, got %v", err)
	}
	if errors.Is(err, domain.ErrJobFailed) {
		t.Fatalf("timeout must not be conflated with failure")
	}
	if querier.count() != 5 {
		t.Fatalf("expected 5 polls, got %d", querier.count())
	}
	stored, _ := repo.GetByID(context.Background(), "job-1")
	if stored.Status != domain.JobStatusTimedOut {
		t.Fatalf("stored status: got %s", stored.Status)
	}
}

func TestWaitReportsUpstreamFailure(t *testing.T) {
	repo := newMemJobRepo()
	seedJob(t, repo, domain.JobStatusQueued)
	querier := &scriptedQuerier{script: []func() (*faceswap.PollStatus, error){
		processing,
		func() (*faceswap.PollStatus, error) {
			return &faceswap.PollStatus{Status: domain.JobStatusFailed}, nil
		},
	}}
	p := NewPoller(querier, testPolicy(), repo, Options{
		PollInterval: time.Second,
		MaxAttempts:  10,
		Clock:        newFakeClock(),
	})

	_, err := p.Wait(context.Background(), "job-1")
	if !errors.Is(err, domain.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), "job-1")
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("stored status: got %s", stored.Status)
	}
}

func TestWaitTerminalStateIsSticky(t *testing.T) {
	repo := newMemJobRepo()
	job := seedJob(t, repo, domain.JobStatusCompleted)
	job.ResultKey = "results/job-1.png"
	_ = repo.Update(context.Background(), job)
	querier := &scriptedQuerier{}
	p := NewPoller(querier, testPolicy(), repo, Options{Clock: newFakeClock()})

	res, err := p.Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if querier.count() != 0 {
		t.Fatalf("terminal job must not trigger polls, got %d", querier.count())
	}
	if res.Job.ResultKey != "results/job-1.png" {
		t.Fatalf("cached result missing: %+v", res.Job)
	}

	// Sticky for failed jobs too: the cached error comes back, no network.
	failed := seedJob(t, repo, domain.JobStatusFailed)
	failed.ID = "job-2"
	_ = repo.Create(context.Background(), failed)
	if _, err := p.Wait(context.Background(), "job-2"); !errors.Is(err, domain.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if querier.count() != 0 {
		t.Fatalf("failed terminal job must not trigger polls")
	}
}

func TestWaitRetriesTransientPollFailures(t *testing.T) {
	repo := newMemJobRepo()
	seedJob(t, repo, domain.JobStatusQueued)
	querier := &scriptedQuerier{script: []func() (*faceswap.PollStatus, error){
		func() (*faceswap.PollStatus, error) { return nil, domain.ErrUpstreamUnavailable },
		func() (*faceswap.PollStatus, error) { return nil, domain.ErrUpstreamTimeout },
		completed([]byte("ok")),
	}}
	p := NewPoller(querier, testPolicy(), repo, Options{
		PollInterval: time.Second,
		MaxAttempts:  3,
		Clock:        newFakeClock(),
	})

	res, err := p.Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("status: got %s", res.Job.Status)
	}
	if querier.count() != 3 {
		t.Fatalf("expected 3 polls (2 retried), got %d", querier.count())
	}
}

func TestWaitAbandonsAfterRetriesExhausted(t *testing.T) {
	repo := newMemJobRepo()
	seedJob(t, repo, domain.JobStatusQueued)
	failing := func() (*faceswap.PollStatus, error) { return nil, domain.ErrUpstreamUnavailable }
	querier := &scriptedQuerier{script: []func() (*faceswap.PollStatus, error){failing, failing, failing, failing}}
	p := NewPoller(querier, testPolicy(), repo, Options{
		PollInterval: time.Second,
		MaxAttempts:  10,
		Clock:        newFakeClock(),
	})

	_, err := p.Wait(context.Background(), "job-1")
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error after retries, got %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), "job-1")
	if stored.Status != domain.JobStatusTimedOut {
		t.Fatalf("abandoned job should be timed out, got %s", stored.Status)
	}
}

func TestWaitStopsOnCancellation(t *testing.T) {
	repo := newMemJobRepo()
	seedJob(t, repo, domain.JobStatusQueued)
	ctx, cancel := context.WithCancel(context.Background())
	querier := &scriptedQuerier{
		forever: &faceswap.PollStatus{Status: domain.JobStatusProcessing},
		onPoll: func(call int) {
			if call == 0 {
				cancel()
			}
		},
	}
	p := NewPoller(querier, testPolicy(), repo, Options{
		PollInterval: time.Second,
		MaxAttempts:  10,
		Clock:        newFakeClock(),
	})

	_, err := p.Wait(ctx, "job-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// The in-flight call finished, but no further tick may be scheduled.
	if querier.count() != 1 {
		t.Fatalf("expected exactly 1 poll before cancellation, got %d", querier.count())
	}
	stored, _ := repo.GetByID(context.Background(), "job-1")
	if stored.Terminal() && stored.Status != domain.JobStatusProcessing {
		t.Fatalf("cancelled job must stay non-terminal, got %s", stored.Status)
	}
}
