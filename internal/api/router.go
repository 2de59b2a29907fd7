// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

// authRateLimit caps credential endpoints to slow brute forcing.
const authRateLimit = 10

// NewRouter assembles the full HTTP surface.
func NewRouter(cfg *config.ServerConfig, h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	rateLimit := httprate.Limit(
		cfg.RateLimitReqs,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			respondDetail(w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
	)

	// Credential endpoints get a much stricter per-IP budget.
	strict := httprate.Limit(authRateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			respondDetail(w, http.StatusTooManyRequests, "Too many attempts, slow down")
		}),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit)

		r.Route("/events", func(r chi.Router) {
			r.With(h.tokens.OptionalAuth).Post("/upload", h.UploadEvent)
			r.Get("/", h.ListEvents)
			// The stream endpoint holds connections open; it shares
			// the per-IP rate limit but not the request timeout.
			r.Get("/stream", h.StreamEvents)
			r.Get("/{id}", h.GetEvent)
			r.With(h.tokens.RequireAuth).Patch("/{id}/status", h.UpdateEventStatus)
		})

		r.Get("/clusters", h.ListClusters)
		r.Get("/stats/summary", h.StatsSummary)

		r.With(strict).Post("/token/pair", h.Token)
		r.With(strict).Post("/token/refresh", h.RefreshToken)

		r.Route("/auth", func(r chi.Router) {
			r.With(strict).Post("/register", h.Register)
			r.With(h.tokens.RequireAuth).Get("/me", h.Me)
			r.With(h.tokens.RequireAuth).Patch("/me", h.UpdateMe)
			r.With(h.tokens.RequireAuth).Get("/me/stats", h.MyStats)
			r.Get("/leaderboard", h.Leaderboard)
			r.Get("/badges", h.Badges)
		})
	})

	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondDetail(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady reports readiness: the database must answer.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, models.ErrorOut{Detail: "Database unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
