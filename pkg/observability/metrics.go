package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Webhook event metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Mapping store metrics
	MappingLookupRetriesTotal *prometheus.CounterVec
	MappingInsertConflicts    *prometheus.CounterVec

	// Remote platform API metrics
	PlatformAPICallsTotal   *prometheus.CounterVec
	PlatformAPICallDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Drift audit metrics
	SweepDriftDetected *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskbridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deskbridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskbridge_webhook_events_total",
				Help: "Webhook events processed, by event type and outcome",
			},
			[]string{"type", "outcome"},
		),
		MappingLookupRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskbridge_mapping_lookup_retries_total",
				Help: "Bounded-retry lookup attempts beyond the first, by mapping kind",
			},
			[]string{"kind"},
		),
		MappingInsertConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskbridge_mapping_insert_conflicts_total",
				Help: "Mapping inserts resolved via refetch-on-conflict, by mapping kind",
			},
			[]string{"kind"},
		),
		PlatformAPICallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskbridge_platform_api_calls_total",
				Help: "Support platform API calls, by operation and HTTP status",
			},
			[]string{"operation", "status"},
		),
		PlatformAPICallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deskbridge_platform_api_call_duration_seconds",
				Help:    "Support platform API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskbridge_cache_hits_total",
				Help: "Mapping cache hits, by cache tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskbridge_cache_misses_total",
				Help: "Mapping cache misses, by cache tier",
			},
			[]string{"tier"},
		),
		SweepDriftDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskbridge_sweep_drift_detected_total",
				Help: "Mappings whose remote object no longer exists, by mapping kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEventsTotal,
		m.MappingLookupRetriesTotal,
		m.MappingInsertConflicts,
		m.PlatformAPICallsTotal,
		m.PlatformAPICallDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SweepDriftDetected,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request count and duration per route
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// RegisterDBStats registers pool gauges that read db.Stats() at scrape time
func RegisterDBStats(registry *prometheus.Registry, db *sql.DB) {
	registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "deskbridge_db_connections_active",
				Help: "Active database connections",
			},
			func() float64 { return float64(db.Stats().InUse) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "deskbridge_db_connections_idle",
				Help: "Idle database connections",
			},
			func() float64 { return float64(db.Stats().Idle) },
		),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
