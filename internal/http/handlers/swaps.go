package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"server/internal/domain"
)

const maxUploadBytes = 10 << 20

type swapResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Kind      string `json:"kind"`
	ResultKey string `json:"result_key,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
}

// SwapCreate accepts a multipart upload and either runs the swap inline
// (mode=sync) or enqueues it for the worker.
func (a *App) SwapCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		a.error(w, r, http.StatusBadRequest, "bad_request", "session_id required")
		return
	}
	posterID := r.FormValue("poster_id")
	if _, err := a.Catalog.Lookup(posterID); err != nil {
		a.error(w, r, http.StatusNotFound, "unknown_poster", "poster not found")
		return
	}
	kind, err := parseKind(r.FormValue("kind"))
	if err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := a.Sessions.Guard(r.Context(), sessionID); err != nil {
		a.sessionError(w, r, err)
		return
	}
	if _, err := a.Sessions.RecordActivity(r.Context(), sessionID, a.Sessions.Now()); err != nil {
		a.sessionError(w, r, err)
		return
	}

	sourceKey, err := a.storeUpload(r)
	if err != nil {
		a.error(w, r, http.StatusBadRequest, "invalid_image", "source image missing or unreadable")
		return
	}

	if r.FormValue("mode") == "sync" {
		a.runInline(w, r, sessionID, sourceKey, posterID, kind)
		return
	}

	now := a.Sessions.Now()
	job := &domain.SwapJob{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Status:    domain.JobStatusQueued,
		SourceKey: sourceKey,
		PosterID:  posterID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("http: enqueue swap failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to enqueue swap")
		return
	}
	a.json(w, http.StatusAccepted, swapResponse{JobID: job.ID, Status: string(job.Status), Kind: string(job.Kind)})
}

func (a *App) runInline(w http.ResponseWriter, r *http.Request, sessionID, sourceKey, posterID string, kind domain.JobKind) {
	var jobOut *domain.SwapJob
	var resultKey string
	var err error
	switch kind {
	case domain.JobKindHairSwap:
		res, runErr := a.Runner.RunHairSwap(r.Context(), sessionID, sourceKey, posterID)
		if runErr == nil {
			jobOut, resultKey = res.Job, res.ResultKey
		}
		err = runErr
	default:
		res, runErr := a.Runner.RunSwap(r.Context(), sessionID, sourceKey, posterID, kind)
		if runErr == nil {
			jobOut, resultKey = res.Job, res.ResultKey
		}
		err = runErr
	}
	if err != nil {
		a.swapError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, swapResponse{
		JobID:     jobOut.ID,
		Status:    string(jobOut.Status),
		Kind:      string(jobOut.Kind),
		ResultKey: resultKey,
		ResultURL: a.resultURL(resultKey),
	})
}

func (a *App) storeUpload(r *http.Request) (string, error) {
	file, _, err := r.FormFile("source")
	if err != nil {
		return "", err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty upload")
	}
	return a.Store.Write(r.Context(), "uploads/"+uuid.NewString()+".png", data)
}

func (a *App) resultURL(key string) string {
	if key == "" || a.StorageBaseURL == "" {
		return ""
	}
	return a.StorageBaseURL + "/" + key
}

func (a *App) swapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionExpired):
		a.error(w, r, http.StatusGone, "session_expired", "session has expired")
	case errors.Is(err, domain.ErrUnknownPoster):
		a.error(w, r, http.StatusNotFound, "unknown_poster", "poster not found")
	case errors.Is(err, domain.ErrInvalidImage):
		a.error(w, r, http.StatusBadRequest, "invalid_image", "image could not be processed")
	case errors.Is(err, domain.ErrJobTimedOut):
		a.error(w, r, http.StatusGatewayTimeout, "job_timed_out", "swap did not finish in time")
	case errors.Is(err, domain.ErrJobFailed), errors.Is(err, domain.ErrBadUpstreamResponse):
		a.error(w, r, http.StatusBadGateway, "job_failed", "swap failed upstream")
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, domain.ErrUpstreamUnavailable):
		a.error(w, r, http.StatusBadGateway, "job_failed", "swap service unavailable")
	default:
		a.Logger.Error().Err(err).Msg("http: swap failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "swap failed")
	}
}

func parseKind(raw string) (domain.JobKind, error) {
	switch raw {
	case "", string(domain.JobKindFaceSwap):
		return domain.JobKindFaceSwap, nil
	case string(domain.JobKindHairSwap):
		return domain.JobKindHairSwap, nil
	default:
		return "", fmt.Errorf("unsupported kind %q", raw)
	}
}
