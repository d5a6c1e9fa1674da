package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transfersTotal  *prometheus.CounterVec
	cacheOps        *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockline_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockline_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockline_transfers_total",
		Help: "Transfer state transitions by outcome.",
	}, []string{"operation", "outcome"})
	cacheOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockline_cache_operations_total",
		Help: "List cache hits, misses and invalidations.",
	}, []string{"op"})
	registry.MustRegister(requests, duration, transfers, cacheOps)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transfersTotal:  transfers,
		cacheOps:        cacheOps,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveTransfer records a transfer operation outcome.
func (m *Metrics) ObserveTransfer(operation, outcome string) {
	if m == nil {
		return
	}
	m.transfersTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveCache records a cache operation.
func (m *Metrics) ObserveCache(op string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(op).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)

		route := chi.RouteContext(r.Context())
		pattern := r.URL.Path
		if route != nil {
			if p := route.RoutePattern(); p != "" {
				pattern = p
			}
		}
		m.requestsTotal.WithLabelValues(pattern, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	})
}
