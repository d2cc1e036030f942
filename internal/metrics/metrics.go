// Package metrics provides Prometheus metrics for the explorer server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Explorer core metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_operations_total",
			Help: "Explorer operations by name and outcome",
		},
		[]string{"op", "result"},
	)

	treeEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "explorer_tree_entries",
			Help: "Number of entries (files and folder markers) in the resident file tree",
		},
	)

	openTabs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "explorer_open_tabs",
			Help: "Number of open tabs in the resident workspace",
		},
	)

	workspaceLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "explorer_workspace_load_duration_seconds",
			Help:    "Time to load a workspace tree and metadata from storage",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "explorer_storage_operation_duration_seconds",
			Help:    "Storage adapter operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_storage_operations_total",
			Help: "Total storage adapter operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storageRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_storage_retries_total",
			Help: "Storage operations that needed more than one attempt",
		},
		[]string{"operation"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_content_cache_lookups_total",
			Help: "Content cache lookups by result",
		},
		[]string{"result"},
	)

	// Event metrics
	eventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "explorer_event_subscribers",
			Help: "Number of active event subscribers",
		},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_events_total",
			Help: "Total events published",
		},
		[]string{"type"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordOperation records the outcome of one explorer operation.
func RecordOperation(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(op, result).Inc()
}

// SetTreeEntries sets the resident tree size.
func SetTreeEntries(n int) {
	treeEntries.Set(float64(n))
}

// SetOpenTabs sets the number of open tabs.
func SetOpenTabs(n int) {
	openTabs.Set(float64(n))
}

// RecordWorkspaceLoad records how long a workspace load took.
func RecordWorkspaceLoad(duration time.Duration) {
	workspaceLoadDuration.Observe(duration.Seconds())
}

// RecordStorageOperation records a storage adapter call.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordStorageRetry records a retried storage operation.
func RecordStorageRetry(operation string) {
	storageRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordCacheLookup records a content cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetEventSubscribers sets the number of active event subscribers.
func SetEventSubscribers(count int) {
	eventSubscribers.Set(float64(count))
}

// RecordEvent records an event publication.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, rw.statusCode, time.Since(start))
	})
}
