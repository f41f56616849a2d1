package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"media-pipeline/internal/infra/api/apiv1"
	"media-pipeline/internal/infra/api/webhooks"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type RouterDeps struct {
	API      *apiv1.Server
	Webhooks *webhooks.Handler
	Tokens   *TokenManager
	Limiter  Limiter
	// RateLimit is mutating requests per minute per organization.
	RateLimit      int
	RequestTimeout time.Duration
	// MediaDir is served under /media when set.
	MediaDir string
	Checks   map[string]HealthCheck
}

// NewRouter assembles the public surface: health, metrics, stored media,
// provider webhooks and the authenticated /api/v1.
func NewRouter(d RouterDeps, logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		Recover(logger),
		TraceID(logger),
		RequestLog(logger),
		CORS(),
	)

	r.Get("/health", health(d.Checks))
	r.Handle("/metrics", promhttp.Handler())
	if d.MediaDir != "" {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(d.MediaDir))))
	}
	if d.Webhooks != nil {
		r.Route("/webhooks", d.Webhooks.Register)
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(
			Timeout(d.RequestTimeout),
			Authenticate(d.Tokens, logger),
			RateLimit(d.Limiter, d.RateLimit, logger),
		)
		apiv1.RegisterAPIV1(r, d.API)
	})
	return r
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		status := http.StatusOK
		report := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				report[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": overall, "checks": report})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
