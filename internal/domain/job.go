package domain

import "time"

// JobKind enumerates supported swap job categories.
type JobKind string

const (
	JobKindFaceSwap JobKind = "face_swap"
	JobKindHairSwap JobKind = "hair_swap"
)

// JobStatus enumerates swap job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusTimedOut   JobStatus = "timed_out"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut:
		return true
	}
	return false
}

// SwapJob tracks one outstanding or completed external swap submission.
// A job is mutated by the poller until the first terminal status is
// observed; after that it is immutable.
type SwapJob struct {
	ID           string
	SessionID    string
	Kind         JobKind
	Status       JobStatus
	VendorTaskID string
	PollEndpoint string
	SourceKey    string
	PosterID     string
	ResultKey    string
	ErrorMessage string
	Attempts     int
	// Intermediate marks an internal leg of a chained swap. Such rows
	// complete without a ResultKey; only top-level jobs carry results.
	Intermediate bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether the job reached a terminal status.
func (j *SwapJob) Terminal() bool {
	return j != nil && j.Status.Terminal()
}

// Completed reports whether the job finished with a result.
func (j *SwapJob) Completed() bool {
	return j != nil && j.Status == JobStatusCompleted
}
