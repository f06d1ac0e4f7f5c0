package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: time.Minute}
	rl := newIPRateLimiter(context.Background(), cfg)

	for i := 0; i < 3; i++ {
		if !rl.allow("1.2.3.4") {
			t.Fatalf("request %d denied, want allowed", i)
		}
	}
	if rl.allow("1.2.3.4") {
		t.Error("request over limit allowed")
	}
	// Other IPs have their own allowance.
	if !rl.allow("5.6.7.8") {
		t.Error("fresh ip denied")
	}
}

func TestRateLimiter_DisabledAllowsAll(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute}
	rl := newIPRateLimiter(context.Background(), cfg)
	for i := 0; i < 10; i++ {
		if !rl.allow("1.2.3.4") {
			t.Fatal("disabled limiter denied a request")
		}
	}
}

func TestRateLimitMiddleware_TooManyRequests(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Minute}
	rl := newIPRateLimiter(context.Background(), cfg)
	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), rl)

	req := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestRateLimitMiddleware_ForwardedForTakesClientIP(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Minute}
	rl := newIPRateLimiter(context.Background(), cfg)
	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), rl)

	mk := func(forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := mk("203.0.113.7, 10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("first client status = %d", rec.Code)
	}
	if rec := mk("203.0.113.7, 10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same client second status = %d, want 429", rec.Code)
	}
	// Different forwarded client behind the same proxy is not throttled.
	if rec := mk("203.0.113.8"); rec.Code != http.StatusOK {
		t.Fatalf("different client status = %d", rec.Code)
	}
}

func TestCORS_PermissiveMode(t *testing.T) {
	cfg := &corsConfig{permissive: true}
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://overlay.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	called := false
	cfg := &corsConfig{permissive: true}
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}), cfg)

	req := httptest.NewRequest(http.MethodOptions, "/auth/twitch/start", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if called {
		t.Error("preflight reached the inner handler")
	}
}

func TestCORS_RestrictedMode(t *testing.T) {
	cfg := &corsConfig{permissive: false, allowedOrigins: []string{"https://clipify.example.com", "*.trusted.dev"}}
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg)

	tests := []struct {
		origin string
		want   string
	}{
		{"https://clipify.example.com", "https://clipify.example.com"},
		{"https://app.trusted.dev", "https://app.trusted.dev"},
		{"https://evil.example.com", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %q: Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://exact.example.com", "*.wild.dev"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://exact.example.com", true},
		{"https://sub.wild.dev", true},
		{"https://wild.dev", true},
		{"https://exact.example.com.evil.com", false},
		{"https://notwild.dev", false},
	}
	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
