package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// Options tunes the middleware wired in front of the handlers.
type Options struct {
	Logger          zerolog.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
	CountryLookup   middleware.CountryLookup
	DefaultLocale   string
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", app.SessionCreate)
		r.Get("/{id}", app.SessionGet)
		r.Post("/{id}/activity", app.SessionActivity)
		r.Post("/{id}/extend", app.SessionExtend)
		r.Get("/{id}/results.zip", app.SessionResults)
	})

	r.Post("/v1/swaps", app.SwapCreate)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/{id}", app.JobGet)
		r.Get("/{id}/result", app.JobResult)
	})

	r.Get("/v1/posters", app.PostersList)

	return r
}
