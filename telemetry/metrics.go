// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommentsFetched      prometheus.Counter
	CandidatesBuilt      prometheus.Counter
	IntervalsEmitted     prometheus.Counter
	CaptionJobsStarted   prometheus.Counter
	CaptionJobsSucceeded prometheus.Counter
	CaptionJobsFailed    *prometheus.CounterVec // label: class (retryable|fatal)
	UploadsSucceeded     prometheus.Counter
	UploadsFailed        prometheus.Counter
	ChatMessagesRecorded prometheus.Counter

	// Histograms (seconds)
	ImportDuration   prometheus.Observer
	MergeDuration    prometheus.Observer
	UploadDuration   prometheus.Observer
	TotalJobDuration prometheus.Observer

	// HTTP
	HTTPRequests        *prometheus.CounterVec   // labels: route, code
	HTTPRequestDuration *prometheus.HistogramVec // label: route

	// Gauges
	QueueDepthGauge prometheus.Gauge
	ActiveJobsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommentsFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "captions_comments_fetched_total", Help: "Chat replay comments fetched from Twitch"})
		CandidatesBuilt = promauto.NewCounter(prometheus.CounterOpts{Name: "captions_candidates_built_total", Help: "Candidate display windows built from chat"})
		IntervalsEmitted = promauto.NewCounter(prometheus.CounterOpts{Name: "captions_intervals_emitted_total", Help: "Merged caption entries emitted"})
		CaptionJobsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "captions_jobs_started_total", Help: "Caption jobs started"})
		CaptionJobsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "captions_jobs_succeeded_total", Help: "Caption jobs succeeded"})
		CaptionJobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "captions_jobs_failed_total", Help: "Caption jobs failed by error class"}, []string{"class"})
		UploadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "captions_uploads_succeeded_total", Help: "Caption tracks uploaded to YouTube"})
		UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "captions_uploads_failed_total", Help: "Caption uploads to YouTube that failed"})
		ChatMessagesRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "captions_chat_messages_recorded_total", Help: "Live chat messages written by the recorder"})
		ImportDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "captions_import_duration_seconds", Help: "Chat replay import duration seconds", Buckets: prometheus.DefBuckets})
		MergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "captions_merge_duration_seconds", Help: "Overlay merge duration seconds", Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10)})
		UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "captions_upload_duration_seconds", Help: "Caption upload duration seconds", Buckets: prometheus.DefBuckets})
		TotalJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "captions_job_total_duration_seconds", Help: "Total caption job duration seconds", Buckets: prometheus.DefBuckets})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "captions_http_requests_total", Help: "HTTP requests by route and status code"}, []string{"route", "code"})
		HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "captions_http_request_duration_seconds", Help: "HTTP request duration seconds by route", Buckets: prometheus.DefBuckets}, []string{"route"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "captions_queue_depth", Help: "VODs waiting for a caption track"})
		ActiveJobsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "captions_active_jobs", Help: "Caption jobs currently running"})
	})
}

// SetQueueDepth records the number of pending VODs.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// AddCount adds n to c when metrics are initialized.
func AddCount(c prometheus.Counter, n int) {
	if c != nil && n > 0 {
		c.Add(float64(n))
	}
}

// Inc increments c when metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// JobFailed counts a failed job under its error class.
func JobFailed(class string) {
	if CaptionJobsFailed != nil {
		CaptionJobsFailed.WithLabelValues(class).Inc()
	}
}

// ObserveHTTP records one served request under a low-cardinality route label.
func ObserveHTTP(route string, code int, d time.Duration) {
	if HTTPRequests == nil {
		return
	}
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
