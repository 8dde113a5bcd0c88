package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid: every
// recording method is a no-op, so callers never need to guard.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Billing run metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	RunEntitiesTotal *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Plan cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Event delivery metrics
	EventDeliveriesTotal *prometheus.CounterVec

	// Backlog gauges, refreshed by the analytics rollup
	AssignmentsActive prometheus.Gauge
	RecordsPending    prometheus.Gauge
	RecordsOverdue    prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duetrack_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "duetrack_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "duetrack_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duetrack_runs_total",
				Help: "Total number of engine runs",
			},
			[]string{"job"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "duetrack_run_duration_seconds",
				Help:    "Engine run duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"job"},
		),
		RunEntitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duetrack_run_entities_total",
				Help: "Entities handled by engine runs, by outcome",
			},
			[]string{"job", "outcome"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duetrack_store_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "duetrack_store_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duetrack_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duetrack_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		EventDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "duetrack_event_deliveries_total",
				Help: "Webhook event deliveries, by outcome",
			},
			[]string{"event_type", "status"},
		),

		AssignmentsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "duetrack_assignments_active",
				Help: "Number of active subscription assignments",
			},
		),
		RecordsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "duetrack_records_pending",
				Help: "Number of pending payment records",
			},
		),
		RecordsOverdue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "duetrack_records_overdue",
				Help: "Number of overdue payment records",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "duetrack_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "duetrack_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.RunsTotal,
		m.RunDuration,
		m.RunEntitiesTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EventDeliveriesTotal,
		m.AssignmentsActive,
		m.RecordsPending,
		m.RecordsOverdue,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveRun records one completed engine run.
func (m *Metrics) ObserveRun(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(job).Inc()
	m.RunDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordRunEntity records the outcome for one entity handled during a run.
func (m *Metrics) RecordRunEntity(job, outcome string) {
	if m == nil {
		return
	}
	m.RunEntitiesTotal.WithLabelValues(job, outcome).Inc()
}

// RecordStoreOperation records one store call.
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheAccess records a hit or miss on a named cache.
func (m *Metrics) RecordCacheAccess(cacheType string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// RecordEventDelivery records one webhook delivery attempt.
func (m *Metrics) RecordEventDelivery(eventType, status string) {
	if m == nil {
		return
	}
	m.EventDeliveriesTotal.WithLabelValues(eventType, status).Inc()
}

// SetBacklog refreshes the backlog gauges from a rollup snapshot.
func (m *Metrics) SetBacklog(activeAssignments, pendingRecords, overdueRecords int64) {
	if m == nil {
		return
	}
	m.AssignmentsActive.Set(float64(activeAssignments))
	m.RecordsPending.Set(float64(pendingRecords))
	m.RecordsOverdue.Set(float64(overdueRecords))
}

// SetDBStats refreshes the connection pool gauges.
func (m *Metrics) SetDBStats(active, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(active))
	m.DBConnectionsIdle.Set(float64(idle))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
