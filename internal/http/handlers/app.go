package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/middleware"
	"server/internal/pipeline"
	"server/internal/poster"
	"server/internal/session"
	"server/internal/storage"
)

// SwapRunner executes one swap end to end. Satisfied by pipeline.Orchestrator.
type SwapRunner interface {
	RunSwap(ctx context.Context, sessionID, sourceKey, posterID string, kind domain.JobKind) (*pipeline.Output, error)
	RunHairSwap(ctx context.Context, sessionID, sourceKey, posterID string) (*pipeline.Output, error)
}

// App bundles the dependencies shared by the HTTP handlers.
type App struct {
	Sessions       *session.Manager
	Runner         SwapRunner
	Jobs           domain.JobRepository
	Catalog        *poster.Catalog
	Store          *storage.FileStore
	StorageBaseURL string
	Logger         zerolog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	a.json(w, status, errorResponse{Error: code, Message: localize(r.Context(), code, message)})
}

// localize swaps in an Indonesian message for the codes shown on the booth
// screen; everything else falls through to the English default.
func localize(ctx context.Context, code, fallback string) string {
	if middleware.LocaleFromContext(ctx) != "id" {
		return fallback
	}
	if msg, ok := idMessages[code]; ok {
		return msg
	}
	return fallback
}

var idMessages = map[string]string{
	"session_expired": "sesi telah berakhir, silakan mulai lagi",
	"session_gone":    "sesi sudah dibersihkan",
	"job_failed":      "proses tukar wajah gagal",
	"job_timed_out":   "proses tukar wajah melewati batas waktu",
	"unknown_poster":  "poster tidak ditemukan",
	"invalid_image":   "gambar tidak valid",
}
