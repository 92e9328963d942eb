package handlers

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

type jobResponse struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	ResultKey string `json:"result_key,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// JobGet returns job status. Jobs whose owning session has already expired
// are not surfaced; their artifacts are gone.
func (a *App) JobGet(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadLiveJob(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, jobResponse{
		JobID:     job.ID,
		SessionID: job.SessionID,
		Kind:      string(job.Kind),
		Status:    string(job.Status),
		Attempts:  job.Attempts,
		ResultKey: job.ResultKey,
		ResultURL: a.resultURL(job.ResultKey),
		Error:     job.ErrorMessage,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// JobResult streams the stored composite for a completed job.
func (a *App) JobResult(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadLiveJob(w, r)
	if !ok {
		return
	}
	if !job.Completed() || job.ResultKey == "" {
		a.error(w, r, http.StatusNotFound, "not_found", "job has no stored result")
		return
	}
	data, err := a.Store.Read(r.Context(), job.ResultKey)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.error(w, r, http.StatusNotFound, "not_found", "result no longer available")
			return
		}
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to load result")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) loadLiveJob(w http.ResponseWriter, r *http.Request) (*domain.SwapJob, bool) {
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, r, http.StatusNotFound, "not_found", "job not found")
			return nil, false
		}
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to load job")
		return nil, false
	}
	s, status, err := a.Sessions.Get(r.Context(), job.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, r, http.StatusGone, "session_gone", "owning session has expired")
			return nil, false
		}
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to load session")
		return nil, false
	}
	if s.Cleared || status == domain.SessionExpired {
		a.error(w, r, http.StatusGone, "session_gone", "owning session has expired")
		return nil, false
	}
	return job, true
}
