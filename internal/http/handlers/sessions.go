package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/pkg/zip"
)

type sessionResponse struct {
	SessionID        string `json:"session_id"`
	Status           string `json:"status"`
	RemainingSeconds int    `json:"remaining_seconds"`
	ExpiresAt        string `json:"expires_at"`
}

func (a *App) sessionJSON(s *domain.SessionState, status domain.SessionStatus, now time.Time) sessionResponse {
	return sessionResponse{
		SessionID:        s.ID,
		Status:           string(status),
		RemainingSeconds: int(s.Remaining(now) / time.Second),
		ExpiresAt:        s.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (a *App) SessionCreate(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Begin(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: session create failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to create session")
		return
	}
	a.json(w, http.StatusCreated, a.sessionJSON(s, domain.SessionActive, a.Sessions.Now()))
}

func (a *App) SessionGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, status, err := a.Sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, r, http.StatusNotFound, "not_found", "session not found")
			return
		}
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to load session")
		return
	}
	a.json(w, http.StatusOK, a.sessionJSON(s, status, a.Sessions.Now()))
}

func (a *App) SessionActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recorded, err := a.Sessions.RecordActivity(r.Context(), id, a.Sessions.Now())
	if err != nil {
		a.sessionError(w, r, err)
		return
	}
	s, status, err := a.Sessions.Get(r.Context(), id)
	if err != nil {
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to load session")
		return
	}
	resp := struct {
		Recorded bool `json:"recorded"`
		sessionResponse
	}{Recorded: recorded, sessionResponse: a.sessionJSON(s, status, a.Sessions.Now())}
	a.json(w, http.StatusOK, resp)
}

func (a *App) SessionExtend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := a.Sessions.Extend(r.Context(), id)
	if err != nil {
		a.sessionError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.sessionJSON(s, domain.SessionActive, a.Sessions.Now()))
}

// SessionResults bundles every stored composite of the session into one zip
// download, so the booth can hand over all posters before the session lapses.
func (a *App) SessionResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Sessions.Guard(r.Context(), id); err != nil {
		a.sessionError(w, r, err)
		return
	}
	jobs, err := a.Jobs.ListBySession(r.Context(), id)
	if err != nil {
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	var entries []zip.Entry
	for _, job := range jobs {
		if job.Intermediate || !job.Completed() || job.ResultKey == "" {
			continue
		}
		data, err := a.Store.Read(r.Context(), job.ResultKey)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("http: result missing from store")
			continue
		}
		entries = append(entries, zip.Entry{Filename: job.ID + ".png", Data: data})
	}
	if len(entries) == 0 {
		a.error(w, r, http.StatusNotFound, "not_found", "session has no completed results")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="posters.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(zip.Archive(entries))
}

func (a *App) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, r, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, domain.ErrSessionExpired):
		a.error(w, r, http.StatusGone, "session_expired", "session has expired")
	default:
		a.Logger.Error().Err(err).Msg("http: session operation failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "session operation failed")
	}
}
