// Package server exposes the HTTP API: health, status, metrics, chat replay,
// on-demand caption rendering and the admin queue controls. Every request
// carries a correlation id (X-Correlation-ID) through logs and spans.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chatcaptions/telemetry"
)

// getVodSensitiveEndpointPattern matches the VOD endpoints that get rate limited:
// job control and on-demand rendering.
var getVodSensitiveEndpointPattern = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(`^/vods/[^/]+/(cancel|reprocess|captions\.srt)$`)
})

// routeLabel collapses VOD ids so per-route metrics and span names stay bounded.
func routeLabel(path string) string {
	rest, ok := strings.CutPrefix(path, "/vods/")
	if !ok {
		switch {
		case strings.HasPrefix(path, "/admin/"), strings.HasPrefix(path, "/auth/"):
			return path
		case path == "/vods", path == "/healthz", path == "/readyz", path == "/metrics", path == "/status", path == "/config":
			return path
		}
		return "other"
	}
	if rest == "" {
		return "/vods"
	}
	if _, tail, found := strings.Cut(rest, "/"); found {
		return "/vods/{id}/" + tail
	}
	return "/vods/{id}"
}

func newRouter(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/auth/youtube/start", h.HandleYouTubeOAuthStart)
	mux.HandleFunc("/auth/youtube/callback", h.HandleYouTubeOAuthCallback)

	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/config", h.HandleConfig)
	mux.HandleFunc("/status", h.HandleStatus)

	mux.HandleFunc("/vods", h.HandleVodsList)
	mux.HandleFunc("/vods/", h.HandleVodsDispatcher)

	mux.HandleFunc("/admin/vod/enqueue", h.HandleAdminEnqueue)
	mux.HandleFunc("/admin/vod/priority", h.HandleAdminVodPriority)
	mux.HandleFunc("/admin/retention", h.HandleAdminRetention)
	return mux
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	mux := newRouter(NewHandlers(ctx, deps))

	admin := adminAuth(rateLimitMiddleware(mux, limiter), authCfg)
	limited := rateLimitMiddleware(mux, limiter)
	guarded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/admin/"):
			admin.ServeHTTP(w, r)
		case getVodSensitiveEndpointPattern().MatchString(r.URL.Path):
			limited.ServeHTTP(w, r)
		default:
			mux.ServeHTTP(w, r)
		}
	})
	return withCORSConfig(withRequestContext(guarded), loadCORSConfig())
}

// withRequestContext attaches the correlation id, opens the request span and
// records per-route metrics once the handler returns.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", corr)
		route := routeLabel(r.URL.Path)

		ctx, span := telemetry.StartSpan(telemetry.WithCorrelation(r.Context(), corr), "http-server", r.Method+" "+route,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(route),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "http"))
		logger.Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		elapsed := time.Since(start)

		telemetry.ObserveHTTP(route, rec.statusCode, elapsed)
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= http.StatusInternalServerError {
			telemetry.RecordError(span, fmt.Errorf("HTTP %d", rec.statusCode))
		}
		logger.Debug("request done", slog.Int("status", rec.statusCode), slog.Int64("bytes", rec.written), slog.Duration("elapsed", elapsed))
	})
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if !r.wroteHeader {
		r.statusCode = statusCode
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

// Flush lets SSE handlers push events through the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, deps Deps) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// chat replay streams stay open for the length of the VOD
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return nil
}
