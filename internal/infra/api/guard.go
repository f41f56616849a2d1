package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"media-pipeline/internal/infra/logging"
	"media-pipeline/internal/infra/metrics"
	red "media-pipeline/internal/infra/redis"
)

type Middleware func(http.Handler) http.Handler

func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// TraceID reuses an inbound X-Request-ID or mints one, and echoes it back.
func TraceID(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tid := r.Header.Get("X-Request-ID")
			if tid == "" || len(tid) > 64 {
				tid = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", tid)
			ctx := logging.WithTraceID(r.Context(), tid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestLog(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: 200}
			next.ServeHTTP(ww, r)
			l := logging.With(r.Context(), logger)
			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.status).
				Dur("duration", time.Since(start)).
				Msg("http_request")
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func Recover(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l := logging.With(r.Context(), logger)
					l.Error().Interface("panic", rec).Msg("panic recovered")
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CORS answers preflight requests and allows any origin. Provider webhooks
// and the CMS frontend both call cross-origin.
func CORS() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, Signature, X-Signature")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate requires a valid bearer token and scopes the request to its
// subject and organization.
// A nil manager (dev without a secret) lets every request through.
func Authenticate(tokens *TokenManager, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := tokens.ParseFromRequest(r)
			if err != nil {
				l := logging.With(r.Context(), logger)
				l.Debug().Err(err).Msg("rejected request token")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := logging.WithSubject(r.Context(), claims.Subject)
			if claims.OrgID != "" {
				ctx = logging.WithOrgID(ctx, claims.OrgID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Limiter is a fixed-window request counter.
type Limiter interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (red.Quota, error)
}

// RateLimit caps mutating requests per subject and route pattern per minute.
// Reads pass through. When the limiter itself fails the request is allowed.
func RateLimit(limiter Limiter, perMinute int, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if limiter == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			route := r.Method + " " + routePattern(r)
			l := logging.With(r.Context(), logger)
			key := red.OrgRouteKey(subjectOf(r), route)
			q, err := limiter.Take(r.Context(), key, perMinute, time.Minute)
			if err != nil {
				l.Warn().Err(err).Msg("rate limiter unavailable")
				metrics.IncRateLimit(route, "error")
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
			if !q.Allowed {
				metrics.IncRateLimit(route, "limited")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(q.Reset.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limited")
				return
			}
			metrics.IncRateLimit(route, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func subjectOf(r *http.Request) string {
	if org := logging.OrgID(r.Context()); org != "" {
		return org
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
