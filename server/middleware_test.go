package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		cfg            authConfig
		reqUsername    string
		reqPassword    string
		reqToken       string
		expectedStatus int
	}{
		{name: "no auth configured - allows request", expectedStatus: http.StatusOK},
		{
			name:           "valid basic auth",
			cfg:            authConfig{username: "admin", password: "secret123"},
			reqUsername:    "admin",
			reqPassword:    "secret123",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid basic auth username",
			cfg:            authConfig{username: "admin", password: "secret123"},
			reqUsername:    "wrong",
			reqPassword:    "secret123",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid basic auth password",
			cfg:            authConfig{username: "admin", password: "secret123"},
			reqUsername:    "admin",
			reqPassword:    "wrong",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing credentials",
			cfg:            authConfig{token: "test-token-12345"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "valid token auth",
			cfg:            authConfig{token: "test-token-12345"},
			reqToken:       "test-token-12345",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid token auth",
			cfg:            authConfig{token: "test-token-12345"},
			reqToken:       "wrong-token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "token auth takes precedence over basic auth",
			cfg:            authConfig{username: "admin", password: "secret123", token: "test-token-12345"},
			reqToken:       "test-token-12345",
			reqUsername:    "wrong",
			reqPassword:    "wrong",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "username without password does not enable basic auth",
			cfg:            authConfig{username: "admin"},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			handler := adminAuth(okHandler(), &cfg)

			req := httptest.NewRequest(http.MethodGet, "/admin/test", nil)
			if tt.reqUsername != "" || tt.reqPassword != "" {
				req.SetBasicAuth(tt.reqUsername, tt.reqPassword)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401 response")
			}
		})
	}
}

func TestLoadAuthConfig(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_TOKEN", "")
	if loadAuthConfig().enabled() {
		t.Error("auth should be disabled without credentials")
	}
	t.Setenv("ADMIN_TOKEN", "tok")
	cfg := loadAuthConfig()
	if !cfg.enabled() || cfg.token != "tok" {
		t.Errorf("loadAuthConfig() = %+v", cfg)
	}
}

func TestRateLimiter(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: 100 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newIPRateLimiter(ctx, cfg)

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("request 4 should be denied (rate limit exceeded)")
	}
	if !limiter.allow("192.168.1.2") {
		t.Error("a different IP has its own window")
	}

	time.Sleep(150 * time.Millisecond)
	if !limiter.allow("192.168.1.1") {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Second})
	for i := 0; i < 100; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d should be allowed when rate limiter is disabled", i+1)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Second})
	limiter.allow("10.0.0.1")
	limiter.cleanup(time.Now().Add(3 * time.Second))
	if n := len(limiter.visitors); n != 0 {
		t.Errorf("expected idle visitors removed, %d left", n)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"ipv4 with port", "192.168.1.100:12345", "", "192.168.1.100"},
		{"ipv4 without port", "192.168.1.100", "", "192.168.1.100"},
		{"ipv6 with port", "[2001:db8::1]:8080", "", "2001:db8::1"},
		{"ipv6 without port", "2001:db8::1", "", "2001:db8::1"},
		{"forwarded chain", "10.0.0.1:1234", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"forwarded single", "10.0.0.1:1234", "203.0.113.8", "203.0.113.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Minute})
	handler := rateLimitMiddleware(okHandler(), limiter)

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/vods/1/cancel", nil)
		req.RemoteAddr = "192.168.1.100:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Errorf("request %d: status %d, want %d", i+1, rr.Code, want)
		}
		if want == http.StatusTooManyRequests && rr.Header().Get("Retry-After") != "60" {
			t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
		}
	}
}

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         corsConfig
		origin      string
		wantOrigin  string
		wantCredHdr bool
	}{
		{name: "permissive allows all", cfg: corsConfig{permissive: true}, origin: "https://evil.example", wantOrigin: "*"},
		{name: "restricted allowed origin", cfg: corsConfig{allowedOrigins: []string{"https://app.example.com"}}, origin: "https://app.example.com", wantOrigin: "https://app.example.com", wantCredHdr: true},
		{name: "restricted wildcard", cfg: corsConfig{allowedOrigins: []string{"*.example.com"}}, origin: "https://captions.example.com", wantOrigin: "https://captions.example.com", wantCredHdr: true},
		{name: "restricted rejects", cfg: corsConfig{allowedOrigins: []string{"https://app.example.com"}}, origin: "https://other.example"},
		{name: "restricted no origin", cfg: corsConfig{allowedOrigins: []string{"https://app.example.com"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			handler := withCORSConfig(okHandler(), &cfg)
			req := httptest.NewRequest(http.MethodGet, "/vods", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCredHdr {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCredHdr)
			}
		})
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	called := false
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }), &corsConfig{permissive: true})
	req := httptest.NewRequest(http.MethodOptions, "/admin/vod/enqueue", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rr.Code)
	}
	if called {
		t.Error("preflight should not reach the handler")
	}
}

func TestLoadCORSConfig(t *testing.T) {
	tests := []struct {
		name           string
		env            string
		permissiveEnv  string
		origins        string
		wantPermissive bool
		wantOrigins    int
	}{
		{name: "dev default", wantPermissive: true},
		{name: "production restricted", env: "production", origins: "https://a.example, https://b.example,", wantOrigins: 2},
		{name: "explicit permissive in production", env: "production", permissiveEnv: "true", wantPermissive: true},
		{name: "explicit restricted in dev", env: "dev", permissiveEnv: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			t.Setenv("CORS_PERMISSIVE", tt.permissiveEnv)
			t.Setenv("CORS_ALLOWED_ORIGINS", tt.origins)
			cfg := loadCORSConfig()
			if cfg.permissive != tt.wantPermissive || len(cfg.allowedOrigins) != tt.wantOrigins {
				t.Errorf("loadCORSConfig() = %+v", cfg)
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.example.com", "*.captions.dev"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"https://other.example.com", false},
		{"https://live.captions.dev", true},
		{"https://captions.dev", true},
		{"https://notcaptions.dev", false},
	}
	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in   string
		def  int
		want int
	}{
		{"42", 0, 42},
		{" 7 ", 0, 7},
		{"", 10, 10},
		{"abc", 10, 10},
		{"-5", 10, -5},
	}
	for _, tt := range tests {
		if got := parseInt(tt.in, tt.def); got != tt.want {
			t.Errorf("parseInt(%q, %d) = %d, want %d", tt.in, tt.def, got, tt.want)
		}
	}
}
