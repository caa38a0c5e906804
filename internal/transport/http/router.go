package http

import (
	"context"
	"net/http"

	"github.com/741g/vperfetto/internal/config"
	jwtinfra "github.com/741g/vperfetto/internal/infrastructure/jwt"
	"github.com/741g/vperfetto/internal/transport/http/handler"
	appmiddleware "github.com/741g/vperfetto/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the host control API router. ctx bounds the
// rate limiter's background sweep.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	passthrough := func(next http.Handler) http.Handler { return next }
	authMw, controlOnly, reportOrControl := passthrough, passthrough, passthrough
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
		controlOnly = appmiddleware.RequireScope(jwtinfra.ScopeControl)
		reportOrControl = appmiddleware.RequireScope(jwtinfra.ScopeControl, jwtinfra.ScopeReport)
	}

	mutatingRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	var sampleRec handler.SampleRecorder
	if deps.Metrics != nil {
		sampleRec = deps.Metrics
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	healthH := handler.NewHealthHandler()
	tracingH := handler.NewTracingHandler(deps.Session, sampleRec)
	mergeH := handler.NewMergeHandler(deps.Merge, deps.PresignTTL)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.Group(func(r chi.Router) {
			r.Use(authMw)

			// The guest reporter posts here once a second; it is not rate limited.
			r.With(reportOrControl).Post("/tracing/guest-time", tracingH.GuestTime)

			r.Group(func(r chi.Router) {
				r.Use(controlOnly)

				r.Get("/tracing/config", tracingH.Config)
				r.Get("/merges", mergeH.List)
				r.Get("/merges/{id}", mergeH.Get)
				r.Get("/merges/{id}/download", mergeH.Download)

				r.Group(func(r chi.Router) {
					r.Use(mutatingRL.Limit)

					r.Put("/tracing/files", tracingH.SetFiles)
					r.Post("/tracing/enable", tracingH.Enable)
					r.Post("/tracing/disable", tracingH.Disable)
					r.Post("/merges", mergeH.Create)
				})

				// Events arrive at frame rate.
				r.Post("/tracing/events", tracingH.Event)
			})
		})
	})

	return r
}
