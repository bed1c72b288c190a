package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "easm",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easm",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "easm",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ScanTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easm",
			Subsystem: "scan",
			Name:      "tasks_total",
			Help:      "Total number of scan tasks by terminal status.",
		},
		[]string{"task_type", "status"},
	)

	ScanTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "easm",
			Subsystem: "scan",
			Name:      "task_duration_seconds",
			Help:      "Duration of scan task execution.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		},
		[]string{"task_type"},
	)

	DAGExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easm",
			Subsystem: "dag",
			Name:      "executions_total",
			Help:      "Total number of DAG executions by terminal status.",
		},
		[]string{"status"},
	)

	RateLimiterRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easm",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total number of rate-limited calls rejected.",
		},
		[]string{"key_prefix"},
	)

	AlertsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easm",
			Subsystem: "alert",
			Name:      "dispatched_total",
			Help:      "Total number of alert notifications dispatched by channel type and outcome.",
		},
		[]string{"channel_type", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ScanTasksTotal,
		ScanTaskDuration,
		DAGExecutionsTotal,
		RateLimiterRejections,
		AlertsDispatched,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so high-cardinality IDs don't blow
// up the requests_total/request_duration_seconds label sets.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "projects" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/projects"
	}
	if len(parts) == 2 {
		return "/projects/:project_id"
	}
	resource := parts[2]
	return "/projects/:project_id/" + resource
}
