package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"orchestrator/internal/http/handlers"
	"orchestrator/internal/infra"
	"orchestrator/internal/middleware"
)

// NewRouter mounts the public API and the pipeline callbacks under the
// configured prefix.
func NewRouter(cfg *infra.Config, app *handlers.App, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORSOrigins),
	)

	r.Get("/healthz", app.Health)
	r.Get("/readyz", app.Readiness)

	r.Route(cfg.APIPrefix, func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthJWT(cfg.JWTSecret))
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
			r.Route("/generations", func(r chi.Router) {
				r.Post("/", app.CreateGeneration)
				r.Get("/{id}", app.GetGeneration)
				r.Post("/{id}/select", app.SelectSample)
				r.Post("/{id}/regenerate", app.RegenerateSamples)
			})
		})

		r.Route("/callbacks", func(r chi.Router) {
			r.Use(middleware.CallbackSecret(cfg.CallbackSecret, logger))
			r.Post("/sample-result", app.SampleResultCallback)
			r.Post("/final-result", app.FinalResultCallback)
			r.Post("/error", app.ErrorCallback)
		})
	})

	if cfg.TracingEnabled {
		return otelhttp.NewHandler(r, cfg.ServiceName)
	}
	return r
}
