// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/collabd/collabd/internal/middleware"
)

// NewRouter assembles the chi router for the server. The websocket
// route sits outside the Prometheus wrapper so long-lived connections
// do not skew the request duration histogram.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Prometheus)

			r.Get("/health", s.handleHealth)

			r.Group(func(r chi.Router) {
				r.Use(rateLimit(s.cfg.RateLimit.ReviewRequests, s.cfg.RateLimit.Window))
				r.Post("/review", s.handleReview)
			})

			r.Route("/debug", func(r chi.Router) {
				r.Use(rateLimit(s.cfg.RateLimit.DebugRequests, s.cfg.RateLimit.Window))
				r.Post("/analyze", s.handleDebugAnalyze)
				r.Post("/steps", s.handleDebugSteps)
				r.Get("/faults", s.handleFaultList)
				r.Delete("/faults", s.handleFaultClear)
				r.Get("/faults/history", s.handleFaultHistory)
				r.Post("/faults/{id}/dismiss", s.handleFaultDismiss)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// rateLimit builds a per-IP limiter that answers with the standard
// JSON error envelope instead of httprate's plain-text default.
func rateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, r, http.StatusTooManyRequests, ErrCodeTooManyRequests,
				"rate limit exceeded, try again later", nil)
		}),
	)
}
