package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SyncMetrics counts client engine activity.
type SyncMetrics struct {
	fetches  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	stale    *prometheus.CounterVec
	markRead *prometheus.CounterVec
	sends    *prometheus.CounterVec
	uploads  *prometheus.CounterVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_fetches_total",
			Help: "Completed cache fetches by resource and outcome.",
		}, []string{"resource", "outcome"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_cycles_skipped_total",
			Help: "Poll cycles skipped because a fetch was still outstanding.",
		}, []string{"resource"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_stale_responses_total",
			Help: "Responses discarded because the selection changed.",
		}, []string{"resource"}),
		markRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_mark_read_total",
			Help: "Mark-as-read requests by outcome.",
		}, []string{"outcome"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Message create requests by outcome.",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_uploads_total",
			Help: "Attachment uploads by outcome; orphaned means files stored without a message.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.skipped, m.stale, m.markRead, m.sends, m.uploads)
	}
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *SyncMetrics) FetchCompleted(resource string, err error) {
	m.fetches.WithLabelValues(resource, outcome(err)).Inc()
}

func (m *SyncMetrics) CycleSkipped(resource string)   { m.skipped.WithLabelValues(resource).Inc() }
func (m *SyncMetrics) StaleDiscarded(resource string) { m.stale.WithLabelValues(resource).Inc() }
func (m *SyncMetrics) MarkReadCompleted(err error)    { m.markRead.WithLabelValues(outcome(err)).Inc() }
func (m *SyncMetrics) SendCompleted(err error)        { m.sends.WithLabelValues(outcome(err)).Inc() }

func (m *SyncMetrics) UploadCompleted(err error, orphaned bool) {
	label := outcome(err)
	if orphaned {
		label = "orphaned"
	}
	m.uploads.WithLabelValues(label).Inc()
}

// HTTPMetrics counts server requests. A nil *HTTPMetrics records nothing.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatserver_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatserver_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func (m *HTTPMetrics) Observe(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
