package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Chat metrics
	chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_chat_requests_total",
		Help: "Total number of chat streams by persona and outcome",
	}, []string{"persona", "outcome"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_streams",
		Help: "Number of chat streams currently open",
	})

	heartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_heartbeats_sent_total",
		Help: "Total number of keep-alive frames written",
	})

	// Upstream metrics
	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_upstream_attempt_duration_seconds",
		Help:    "Duration of upstream generation attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	upstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_attempts_total",
		Help: "Total number of upstream generation attempts",
	}, []string{"model", "status"})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_cache_hits_total",
		Help: "Total number of response cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_cache_misses_total",
		Help: "Total number of response cache misses",
	})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"route"})

	// Memory store metrics
	memoryOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_memory_operations_total",
		Help: "Total number of memory store operations",
	}, []string{"operation", "status"})

	memoryOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_memory_operation_duration_seconds",
		Help:    "Duration of memory store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "code"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordChatOutcome records a finished chat stream
func (m *Metrics) RecordChatOutcome(persona, outcome string) {
	chatRequests.WithLabelValues(persona, outcome).Inc()
}

// StreamStarted marks a stream as open
func (m *Metrics) StreamStarted() {
	activeStreams.Inc()
}

// StreamFinished marks a stream as closed
func (m *Metrics) StreamFinished() {
	activeStreams.Dec()
}

// RecordHeartbeat records a keep-alive frame
func (m *Metrics) RecordHeartbeat() {
	heartbeatsSent.Inc()
}

// RecordUpstreamAttempt records one generation attempt
func (m *Metrics) RecordUpstreamAttempt(model, status string, duration time.Duration) {
	upstreamDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	upstreamAttempts.WithLabelValues(model, status).Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(route string) {
	rateLimitExceeded.WithLabelValues(route).Inc()
}

// RecordMemoryOperation records a memory store operation
func (m *Metrics) RecordMemoryOperation(operation, status string, duration time.Duration) {
	memoryOperations.WithLabelValues(operation, status).Inc()
	memoryOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records a served request
func (m *Metrics) RecordHTTPRequest(method, route string, code int) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// NewMetricsServer builds the metrics HTTP server
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
