package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	t.Run("creates and registers all metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		if metrics == nil {
			t.Fatal("NewMetrics returned nil")
		}

		// Verify HTTP metrics are initialized
		if metrics.HTTPRequestsTotal == nil {
			t.Error("HTTPRequestsTotal is nil")
		}
		if metrics.HTTPRequestDuration == nil {
			t.Error("HTTPRequestDuration is nil")
		}
		if metrics.HTTPResponseSize == nil {
			t.Error("HTTPResponseSize is nil")
		}

		// Verify run metrics are initialized
		if metrics.RunsTotal == nil {
			t.Error("RunsTotal is nil")
		}
		if metrics.RunDuration == nil {
			t.Error("RunDuration is nil")
		}
		if metrics.RunEntitiesTotal == nil {
			t.Error("RunEntitiesTotal is nil")
		}

		// Verify store metrics are initialized
		if metrics.StoreOperationsTotal == nil {
			t.Error("StoreOperationsTotal is nil")
		}
		if metrics.StoreOperationDuration == nil {
			t.Error("StoreOperationDuration is nil")
		}

		// Verify cache metrics are initialized
		if metrics.CacheHitsTotal == nil {
			t.Error("CacheHitsTotal is nil")
		}
		if metrics.CacheMissesTotal == nil {
			t.Error("CacheMissesTotal is nil")
		}

		// Verify event metrics are initialized
		if metrics.EventDeliveriesTotal == nil {
			t.Error("EventDeliveriesTotal is nil")
		}

		// Verify backlog gauges are initialized
		if metrics.AssignmentsActive == nil {
			t.Error("AssignmentsActive is nil")
		}
		if metrics.RecordsPending == nil {
			t.Error("RecordsPending is nil")
		}
		if metrics.RecordsOverdue == nil {
			t.Error("RecordsOverdue is nil")
		}

		// Verify database gauges are initialized
		if metrics.DBConnectionsActive == nil {
			t.Error("DBConnectionsActive is nil")
		}
		if metrics.DBConnectionsIdle == nil {
			t.Error("DBConnectionsIdle is nil")
		}
	})

	t.Run("metrics are registered with registry", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		// Initialize some metrics to make them appear in Gather()
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Add(0)
		metrics.RunsTotal.WithLabelValues("billing_cycle").Add(0)
		metrics.StoreOperationsTotal.WithLabelValues("claim_cycle", "ok").Add(0)
		metrics.CacheHitsTotal.WithLabelValues("plan").Add(0)
		metrics.EventDeliveriesTotal.WithLabelValues("payment_record.created", "delivered").Add(0)
		metrics.AssignmentsActive.Set(0)
		metrics.DBConnectionsActive.Set(0)

		// Gather metrics from registry to verify registration
		families, err := registry.Gather()
		if err != nil {
			t.Fatalf("Failed to gather metrics: %v", err)
		}

		if len(families) == 0 {
			t.Error("No metrics registered in registry")
		}

		// Verify some key metrics are present
		metricNames := make(map[string]bool)
		for _, family := range families {
			metricNames[family.GetName()] = true
		}

		expectedMetrics := []string{
			"duetrack_http_requests_total",
			"duetrack_runs_total",
			"duetrack_store_operations_total",
			"duetrack_cache_hits_total",
			"duetrack_event_deliveries_total",
			"duetrack_assignments_active",
			"duetrack_db_connections_active",
		}

		for _, name := range expectedMetrics {
			if !metricNames[name] {
				t.Errorf("Expected metric %s not found in registry", name)
			}
		}
	})

	t.Run("panics on duplicate registration", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		NewMetrics(registry)

		// Attempting to register again should panic
		defer func() {
			if r := recover(); r == nil {
				t.Error("Expected panic on duplicate registration, but didn't panic")
			}
		}()

		NewMetrics(registry)
	})
}

func TestMetrics_RunMetrics(t *testing.T) {
	t.Run("observe run", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.ObserveRun("billing_cycle", 1500*time.Millisecond)
		metrics.ObserveRun("overdue_sweep", 200*time.Millisecond)

		expected := `
# HELP duetrack_runs_total Total number of engine runs
# TYPE duetrack_runs_total counter
duetrack_runs_total{job="billing_cycle"} 1
duetrack_runs_total{job="overdue_sweep"} 1
`
		if err := testutil.CollectAndCompare(metrics.RunsTotal, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}

		count := testutil.CollectAndCount(metrics.RunDuration)
		if count != 2 {
			t.Errorf("Expected 2 duration series, got %d", count)
		}
	})

	t.Run("record run entities by outcome", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.RecordRunEntity("billing_cycle", "processed")
		metrics.RecordRunEntity("billing_cycle", "processed")
		metrics.RecordRunEntity("billing_cycle", "skipped")
		metrics.RecordRunEntity("billing_cycle", "errored")

		expected := `
# HELP duetrack_run_entities_total Entities handled by engine runs, by outcome
# TYPE duetrack_run_entities_total counter
duetrack_run_entities_total{job="billing_cycle",outcome="errored"} 1
duetrack_run_entities_total{job="billing_cycle",outcome="processed"} 2
duetrack_run_entities_total{job="billing_cycle",outcome="skipped"} 1
`
		if err := testutil.CollectAndCompare(metrics.RunEntitiesTotal, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}
	})
}

func TestMetrics_StoreMetrics(t *testing.T) {
	t.Run("records successful operations", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.RecordStoreOperation("claim_cycle", 5*time.Millisecond, nil)
		metrics.RecordStoreOperation("due_assignments", 2*time.Millisecond, nil)

		expected := `
# HELP duetrack_store_operations_total Total number of store operations
# TYPE duetrack_store_operations_total counter
duetrack_store_operations_total{operation="claim_cycle",status="ok"} 1
duetrack_store_operations_total{operation="due_assignments",status="ok"} 1
`
		if err := testutil.CollectAndCompare(metrics.StoreOperationsTotal, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}
	})

	t.Run("records failed operations with error status", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.RecordStoreOperation("claim_cycle", time.Millisecond, errors.New("connection reset"))

		expected := `
# HELP duetrack_store_operations_total Total number of store operations
# TYPE duetrack_store_operations_total counter
duetrack_store_operations_total{operation="claim_cycle",status="error"} 1
`
		if err := testutil.CollectAndCompare(metrics.StoreOperationsTotal, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}
	})

	t.Run("observes operation duration", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.RecordStoreOperation("mark_record_paid", 10*time.Millisecond, nil)

		count := testutil.CollectAndCount(metrics.StoreOperationDuration)
		if count != 1 {
			t.Errorf("Expected 1 metric family, got %d", count)
		}
	})
}

func TestMetrics_CacheMetrics(t *testing.T) {
	t.Run("records hits and misses", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.RecordCacheAccess("plan", true)
		metrics.RecordCacheAccess("plan", true)
		metrics.RecordCacheAccess("plan", false)

		expectedHits := `
# HELP duetrack_cache_hits_total Total number of cache hits
# TYPE duetrack_cache_hits_total counter
duetrack_cache_hits_total{cache_type="plan"} 2
`
		if err := testutil.CollectAndCompare(metrics.CacheHitsTotal, strings.NewReader(expectedHits)); err != nil {
			t.Errorf("Unexpected hit count: %v", err)
		}

		expectedMisses := `
# HELP duetrack_cache_misses_total Total number of cache misses
# TYPE duetrack_cache_misses_total counter
duetrack_cache_misses_total{cache_type="plan"} 1
`
		if err := testutil.CollectAndCompare(metrics.CacheMissesTotal, strings.NewReader(expectedMisses)); err != nil {
			t.Errorf("Unexpected miss count: %v", err)
		}
	})

	t.Run("distinguishes cache types", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.RecordCacheAccess("plan", true)
		metrics.RecordCacheAccess("user", true)

		count := testutil.CollectAndCount(metrics.CacheHitsTotal)
		if count != 2 {
			t.Errorf("Expected 2 series, got %d", count)
		}
	})
}

func TestMetrics_EventMetrics(t *testing.T) {
	t.Run("records deliveries by outcome", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.RecordEventDelivery("payment_record.created", "delivered")
		metrics.RecordEventDelivery("payment_record.created", "delivered")
		metrics.RecordEventDelivery("payment_record.overdue", "failed")

		expected := `
# HELP duetrack_event_deliveries_total Webhook event deliveries, by outcome
# TYPE duetrack_event_deliveries_total counter
duetrack_event_deliveries_total{event_type="payment_record.created",status="delivered"} 2
duetrack_event_deliveries_total{event_type="payment_record.overdue",status="failed"} 1
`
		if err := testutil.CollectAndCompare(metrics.EventDeliveriesTotal, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}
	})
}

func TestMetrics_Gauges(t *testing.T) {
	t.Run("set backlog", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.SetBacklog(120, 35, 7)

		expected := `
# HELP duetrack_assignments_active Number of active subscription assignments
# TYPE duetrack_assignments_active gauge
duetrack_assignments_active 120
`
		if err := testutil.CollectAndCompare(metrics.AssignmentsActive, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}

		expected = `
# HELP duetrack_records_pending Number of pending payment records
# TYPE duetrack_records_pending gauge
duetrack_records_pending 35
`
		if err := testutil.CollectAndCompare(metrics.RecordsPending, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}

		expected = `
# HELP duetrack_records_overdue Number of overdue payment records
# TYPE duetrack_records_overdue gauge
duetrack_records_overdue 7
`
		if err := testutil.CollectAndCompare(metrics.RecordsOverdue, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}
	})

	t.Run("set database connection stats", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.SetDBStats(10, 5)

		expected := `
# HELP duetrack_db_connections_active Number of active database connections
# TYPE duetrack_db_connections_active gauge
duetrack_db_connections_active 10
`
		if err := testutil.CollectAndCompare(metrics.DBConnectionsActive, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}

		expected = `
# HELP duetrack_db_connections_idle Number of idle database connections
# TYPE duetrack_db_connections_idle gauge
duetrack_db_connections_idle 5
`
		if err := testutil.CollectAndCompare(metrics.DBConnectionsIdle, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}
	})
}

func TestMetrics_NilReceiver(t *testing.T) {
	t.Run("helper methods are no-ops on nil", func(t *testing.T) {
		var metrics *Metrics

		// None of these should panic when metrics are not configured.
		metrics.ObserveRun("billing_cycle", time.Second)
		metrics.RecordRunEntity("billing_cycle", "processed")
		metrics.RecordStoreOperation("claim_cycle", time.Millisecond, nil)
		metrics.RecordCacheAccess("plan", true)
		metrics.RecordEventDelivery("payment_record.created", "delivered")
		metrics.SetBacklog(1, 2, 3)
		metrics.SetDBStats(4, 5)
	})
}

func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{
			ResponseWriter: recorder,
			statusCode:     http.StatusOK,
		}

		rw.WriteHeader(http.StatusCreated)

		if rw.statusCode != http.StatusCreated {
			t.Errorf("Expected status code %d, got %d", http.StatusCreated, rw.statusCode)
		}

		if recorder.Code != http.StatusCreated {
			t.Errorf("Expected recorder status code %d, got %d", http.StatusCreated, recorder.Code)
		}
	})

	t.Run("captures bytes written", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{
			ResponseWriter: recorder,
			statusCode:     http.StatusOK,
		}

		data := []byte("Hello, World!")
		n, err := rw.Write(data)

		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}

		if n != len(data) {
			t.Errorf("Expected %d bytes written, got %d", len(data), n)
		}

		if rw.bytesWritten != len(data) {
			t.Errorf("Expected %d bytes tracked, got %d", len(data), rw.bytesWritten)
		}
	})

	t.Run("accumulates bytes across multiple writes", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{
			ResponseWriter: recorder,
			statusCode:     http.StatusOK,
		}

		rw.Write([]byte("Hello, "))
		rw.Write([]byte("World!"))

		expected := len("Hello, ") + len("World!")
		if rw.bytesWritten != expected {
			t.Errorf("Expected %d bytes written, got %d", expected, rw.bytesWritten)
		}
	})

	t.Run("defaults to 200 status code", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{
			ResponseWriter: recorder,
			statusCode:     http.StatusOK,
		}

		// Write without calling WriteHeader
		rw.Write([]byte("test"))

		if rw.statusCode != http.StatusOK {
			t.Errorf("Expected default status code %d, got %d", http.StatusOK, rw.statusCode)
		}
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	t.Run("records HTTP metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

		middleware := HTTPMetricsMiddleware(metrics)
		wrappedHandler := middleware(handler)

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		wrappedHandler.ServeHTTP(rec, req)

		// Verify counter was incremented
		expected := `
# HELP duetrack_http_requests_total Total number of HTTP requests
# TYPE duetrack_http_requests_total counter
duetrack_http_requests_total{method="GET",path="/test",status="200"} 1
`
		if err := testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected counter value: %v", err)
		}

		// Verify duration was recorded
		count := testutil.CollectAndCount(metrics.HTTPRequestDuration)
		if count != 1 {
			t.Errorf("Expected 1 duration metric, got %d", count)
		}

		// Verify response size was recorded
		count = testutil.CollectAndCount(metrics.HTTPResponseSize)
		if count != 1 {
			t.Errorf("Expected 1 response size metric, got %d", count)
		}
	})

	t.Run("records different status codes", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		testCases := []struct {
			statusCode int
			path       string
		}{
			{http.StatusOK, "/ok"},
			{http.StatusNotFound, "/notfound"},
			{http.StatusInternalServerError, "/error"},
		}

		middleware := HTTPMetricsMiddleware(metrics)

		for _, tc := range testCases {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
			})

			wrappedHandler := middleware(handler)
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()

			wrappedHandler.ServeHTTP(rec, req)
		}

		// Verify all status codes were recorded
		count := testutil.CollectAndCount(metrics.HTTPRequestsTotal)
		if count != 3 {
			t.Errorf("Expected 3 metrics, got %d", count)
		}
	})

	t.Run("passes through when metrics are nil", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})

		middleware := HTTPMetricsMiddleware(nil)
		wrappedHandler := middleware(handler)

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		wrappedHandler.ServeHTTP(rec, req)

		if rec.Code != http.StatusTeapot {
			t.Errorf("Expected status code %d, got %d", http.StatusTeapot, rec.Code)
		}
	})

	t.Run("measures request duration", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(10 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		})

		middleware := HTTPMetricsMiddleware(metrics)
		wrappedHandler := middleware(handler)

		req := httptest.NewRequest("GET", "/slow", nil)
		rec := httptest.NewRecorder()

		start := time.Now()
		wrappedHandler.ServeHTTP(rec, req)
		elapsed := time.Since(start)

		if elapsed < 10*time.Millisecond {
			t.Error("Expected handler to take at least 10ms")
		}

		// Verify duration was recorded
		count := testutil.CollectAndCount(metrics.HTTPRequestDuration)
		if count != 1 {
			t.Errorf("Expected 1 duration metric, got %d", count)
		}
	})

	t.Run("handles multiple requests", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		middleware := HTTPMetricsMiddleware(metrics)
		wrappedHandler := middleware(handler)

		for i := 0; i < 5; i++ {
			req := httptest.NewRequest("GET", "/test", nil)
			rec := httptest.NewRecorder()
			wrappedHandler.ServeHTTP(rec, req)
		}

		expected := `
# HELP duetrack_http_requests_total Total number of HTTP requests
# TYPE duetrack_http_requests_total counter
duetrack_http_requests_total{method="GET",path="/test",status="200"} 5
`
		if err := testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected counter value: %v", err)
		}
	})
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	t.Run("registers metrics endpoint", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		// Set some metric values
		metrics.AssignmentsActive.Set(42)
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api", "200").Inc()

		mux := http.NewServeMux()
		RegisterMetricsEndpoint(mux, registry)

		req := httptest.NewRequest("GET", "/metrics", nil)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Expected status code %d, got %d", http.StatusOK, rec.Code)
		}

		body := rec.Body.String()

		// Verify metrics are exposed
		if !strings.Contains(body, "duetrack_assignments_active") {
			t.Error("Expected duetrack_assignments_active in metrics output")
		}

		if !strings.Contains(body, "duetrack_assignments_active 42") {
			t.Error("Expected duetrack_assignments_active value to be 42")
		}

		if !strings.Contains(body, "duetrack_http_requests_total") {
			t.Error("Expected duetrack_http_requests_total in metrics output")
		}
	})

	t.Run("metrics endpoint returns prometheus format", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		NewMetrics(registry)

		mux := http.NewServeMux()
		RegisterMetricsEndpoint(mux, registry)

		req := httptest.NewRequest("GET", "/metrics", nil)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		contentType := rec.Header().Get("Content-Type")
		if !strings.Contains(contentType, "text/plain") {
			t.Errorf("Expected Content-Type to contain text/plain, got %s", contentType)
		}

		body := rec.Body.String()

		// Verify Prometheus format markers
		if !strings.Contains(body, "# HELP") {
			t.Error("Expected # HELP lines in output")
		}

		if !strings.Contains(body, "# TYPE") {
			t.Error("Expected # TYPE lines in output")
		}
	})

	t.Run("metrics endpoint only responds to /metrics path", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		NewMetrics(registry)

		mux := http.NewServeMux()
		RegisterMetricsEndpoint(mux, registry)

		req := httptest.NewRequest("GET", "/other", nil)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected status code %d for non-metrics path, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestMetrics_Integration(t *testing.T) {
	t.Run("full workflow with middleware and exposition", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		// Create an application handler
		appHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"processed":10}`))
		})

		// Wrap with metrics middleware
		middleware := HTTPMetricsMiddleware(metrics)
		wrappedHandler := middleware(appHandler)

		// Create mux and register both app and metrics endpoints
		mux := http.NewServeMux()
		mux.Handle("/api/v1/runs/billing-cycle", wrappedHandler)
		RegisterMetricsEndpoint(mux, registry)

		// Make a request to the app
		req := httptest.NewRequest("POST", "/api/v1/runs/billing-cycle", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Expected status code %d, got %d", http.StatusOK, rec.Code)
		}

		// Fetch metrics
		metricsReq := httptest.NewRequest("GET", "/metrics", nil)
		metricsRec := httptest.NewRecorder()
		mux.ServeHTTP(metricsRec, metricsReq)

		if metricsRec.Code != http.StatusOK {
			t.Errorf("Expected metrics status code %d, got %d", http.StatusOK, metricsRec.Code)
		}

		body := metricsRec.Body.String()

		// Verify the app request was recorded in metrics
		if !strings.Contains(body, "duetrack_http_requests_total") {
			t.Error("Expected duetrack_http_requests_total in metrics")
		}

		if !strings.Contains(body, `method="POST"`) {
			t.Error("Expected POST method label in metrics")
		}

		if !strings.Contains(body, `path="/api/v1/runs/billing-cycle"`) {
			t.Error("Expected run path label in metrics")
		}

		if !strings.Contains(body, `status="200"`) {
			t.Error("Expected 200 status label in metrics")
		}
	})

	t.Run("records multiple label combinations", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.StoreOperationsTotal.WithLabelValues("claim_cycle", "ok").Add(10)
		metrics.StoreOperationsTotal.WithLabelValues("claim_cycle", "error").Add(2)
		metrics.StoreOperationsTotal.WithLabelValues("due_assignments", "ok").Add(20)
		metrics.StoreOperationsTotal.WithLabelValues("mark_record_paid", "ok").Add(5)

		mux := http.NewServeMux()
		RegisterMetricsEndpoint(mux, registry)

		req := httptest.NewRequest("GET", "/metrics", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		body := rec.Body.String()

		// Verify all label combinations are present
		expectedPatterns := []string{
			`duetrack_store_operations_total{operation="claim_cycle",status="ok"} 10`,
			`duetrack_store_operations_total{operation="claim_cycle",status="error"} 2`,
			`duetrack_store_operations_total{operation="due_assignments",status="ok"} 20`,
			`duetrack_store_operations_total{operation="mark_record_paid",status="ok"} 5`,
		}

		for _, pattern := range expectedPatterns {
			if !strings.Contains(body, pattern) {
				t.Errorf("Expected pattern %q not found in metrics output", pattern)
			}
		}
	})
}

func TestMetrics_EdgeCases(t *testing.T) {
	t.Run("large backlog values", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.SetBacklog(1000000000, 0, 0)

		expected := `
# HELP duetrack_assignments_active Number of active subscription assignments
# TYPE duetrack_assignments_active gauge
duetrack_assignments_active 1e+09
`
		if err := testutil.CollectAndCompare(metrics.AssignmentsActive, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}
	})

	t.Run("zero values", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.SetBacklog(0, 0, 0)

		expected := `
# HELP duetrack_records_overdue Number of overdue payment records
# TYPE duetrack_records_overdue gauge
duetrack_records_overdue 0
`
		if err := testutil.CollectAndCompare(metrics.RecordsOverdue, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected metric value: %v", err)
		}
	})

	t.Run("histogram with extreme values", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		// Record very small and very large durations
		metrics.ObserveRun("billing_cycle", time.Millisecond)
		metrics.ObserveRun("billing_cycle", 299*time.Second)

		count := testutil.CollectAndCount(metrics.RunDuration)
		if count != 1 {
			t.Errorf("Expected 1 metric family, got %d", count)
		}
	})

	t.Run("empty response body", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{
			ResponseWriter: recorder,
			statusCode:     http.StatusNoContent,
		}

		rw.WriteHeader(http.StatusNoContent)

		if rw.bytesWritten != 0 {
			t.Errorf("Expected 0 bytes written, got %d", rw.bytesWritten)
		}
	})

	t.Run("special characters in labels", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		// Labels with special characters
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/records/{id}", "200").Inc()

		count := testutil.CollectAndCount(metrics.HTTPRequestsTotal)
		if count != 1 {
			t.Errorf("Expected 1 metric, got %d", count)
		}
	})
}

func BenchmarkHTTPMetricsMiddleware(b *testing.B) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	middleware := HTTPMetricsMiddleware(metrics)
	wrappedHandler := middleware(handler)

	req := httptest.NewRequest("GET", "/test", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		wrappedHandler.ServeHTTP(rec, req)
	}
}

func BenchmarkMetricsCollection(b *testing.B) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()
		metrics.RecordRunEntity("billing_cycle", "processed")
		metrics.RecordStoreOperation("claim_cycle", time.Millisecond, nil)
		metrics.RecordCacheAccess("plan", true)
	}
}

func ExampleMetrics() {
	// Create a new registry and metrics
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	// Record some metrics
	metrics.ObserveRun("billing_cycle", 1200*time.Millisecond)
	metrics.RecordRunEntity("billing_cycle", "processed")
	metrics.RecordStoreOperation("claim_cycle", 3*time.Millisecond, nil)
	metrics.RecordCacheAccess("plan", true)

	// Set gauge values
	metrics.SetBacklog(150, 40, 6)
	metrics.SetDBStats(8, 4)

	// Create HTTP server with metrics
	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	// The metrics are now available at /metrics endpoint
}

func ExampleHTTPMetricsMiddleware() {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	// Create your application handler
	appHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Hello, World!")
	})

	// Wrap with metrics middleware
	middleware := HTTPMetricsMiddleware(metrics)
	instrumentedHandler := middleware(appHandler)

	// Use the instrumented handler
	mux := http.NewServeMux()
	mux.Handle("/", instrumentedHandler)
	RegisterMetricsEndpoint(mux, registry)

	// All requests will be automatically instrumented
}
