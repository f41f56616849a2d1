//go:build !integration

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"media-pipeline/internal/infra/logging"
	red "media-pipeline/internal/infra/redis"
)

type countingLimiter struct {
	seen  map[string]int
	limit error
}

func (c *countingLimiter) Take(_ context.Context, key string, limit int, _ time.Duration) (red.Quota, error) {
	if c.limit != nil {
		return red.Quota{}, c.limit
	}
	c.seen[key]++
	n := c.seen[key]
	return red.Quota{Allowed: n <= limit, Remaining: max(limit-n, 0), Reset: 12500 * time.Millisecond}, nil
}

func TestTokenManager(t *testing.T) {
	tm, err := NewTokenManager("0123456789abcdef-secret", "media-pipeline")
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	t.Run("should round-trip subject and org", func(t *testing.T) {
		tok, err := tm.Mint("cms", "org-1", time.Minute)
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		c, err := tm.Parse(tok)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if c.Subject != "cms" || c.OrgID != "org-1" {
			t.Fatalf("unexpected claims %+v", c)
		}
	})

	t.Run("should reject expired tokens and foreign issuers", func(t *testing.T) {
		tok, _ := tm.Mint("cms", "org-1", -time.Minute)
		if _, err := tm.Parse(tok); err == nil {
			t.Fatal("expected expired token to fail")
		}
		other, _ := NewTokenManager("0123456789abcdef-secret", "someone-else")
		tok, _ = other.Mint("cms", "", time.Minute)
		if _, err := tm.Parse(tok); err == nil {
			t.Fatal("expected foreign issuer to fail")
		}
	})

	t.Run("should refuse short secrets", func(t *testing.T) {
		if _, err := NewTokenManager("short", ""); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestAuthenticate(t *testing.T) {
	l := zerolog.Nop()
	tm, _ := NewTokenManager("0123456789abcdef-secret", "")
	var gotOrg string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg = logging.OrgID(r.Context())
	}), Authenticate(tm, &l))

	t.Run("should reject requests without a bearer token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("should scope the request to the token's org", func(t *testing.T) {
		tok, _ := tm.Mint("cms", "org-7", time.Minute)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || gotOrg != "org-7" {
			t.Fatalf("expected 200 with org-7, got %d / %q", rec.Code, gotOrg)
		}
	})
}

func TestRateLimit(t *testing.T) {
	l := zerolog.Nop()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	t.Run("should throttle mutating requests past the limit", func(t *testing.T) {
		lim := &countingLimiter{seen: map[string]int{}}
		h := Chain(ok, RateLimit(lim, 2, &l))
		codes := []int{}
		var last *httptest.ResponseRecorder
		for i := 0; i < 3; i++ {
			last = httptest.NewRecorder()
			h.ServeHTTP(last, httptest.NewRequest(http.MethodPost, "/api/v1/submissions", nil))
			codes = append(codes, last.Code)
		}
		if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
			t.Fatalf("unexpected codes %v", codes)
		}
		if got := last.Header().Get("Retry-After"); got != "13" {
			t.Fatalf("expected Retry-After rounded up to the window end, got %q", got)
		}
		if got := last.Header().Get("X-RateLimit-Remaining"); got != "0" {
			t.Fatalf("expected no remaining quota, got %q", got)
		}
	})

	t.Run("should not count reads", func(t *testing.T) {
		lim := &countingLimiter{seen: map[string]int{}}
		h := Chain(ok, RateLimit(lim, 1, &l))
		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x", nil))
			if rec.Code != 200 {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
		}
		if len(lim.seen) != 0 {
			t.Fatal("reads must not reach the limiter")
		}
	})

	t.Run("should fail open when the limiter errors", func(t *testing.T) {
		h := Chain(ok, RateLimit(&countingLimiter{limit: errors.New("redis down")}, 1, &l))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
		if rec.Code != 200 {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

func TestRouter(t *testing.T) {
	l := zerolog.Nop()

	t.Run("should report degraded health when a check fails", func(t *testing.T) {
		r := NewRouter(RouterDeps{Checks: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("refused") },
		}}, &l)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Fatal("expected a trace id header")
		}
	})

	t.Run("should answer CORS preflight without auth", func(t *testing.T) {
		tm, _ := NewTokenManager("0123456789abcdef-secret", "")
		r := NewRouter(RouterDeps{Tokens: tm}, &l)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/submissions", nil))
		if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatalf("unexpected preflight response %d", rec.Code)
		}
	})

	t.Run("should serve metrics", func(t *testing.T) {
		r := NewRouter(RouterDeps{}, &l)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}
