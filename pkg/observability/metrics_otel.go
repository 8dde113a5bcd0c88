package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds the OpenTelemetry instruments recorded by the storage
// layer. HTTP-level OTel metrics come from the otelhttp handler wrapper, so
// only database and claim instruments live here. A nil *OTelMetrics is valid
// and records nothing.
type OTelMetrics struct {
	dbQueriesTotal      metric.Int64Counter
	dbQueryDuration     metric.Float64Histogram
	dbConnectionsActive metric.Int64UpDownCounter
	dbConnectionsIdle   metric.Int64UpDownCounter
	claimConflictsTotal metric.Int64Counter
}

// NewOTelMetrics creates the storage metric instruments on the global meter
// provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/duetrack/duetrack")

	m := &OTelMetrics{}
	var err error

	m.dbQueriesTotal, err = meter.Int64Counter(
		"db.queries.total",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db_queries_total counter: %w", err)
	}

	m.dbQueryDuration, err = meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db_query_duration histogram: %w", err)
	}

	m.dbConnectionsActive, err = meter.Int64UpDownCounter(
		"db.connections.active",
		metric.WithDescription("Number of active database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db_connections_active gauge: %w", err)
	}

	m.dbConnectionsIdle, err = meter.Int64UpDownCounter(
		"db.connections.idle",
		metric.WithDescription("Number of idle database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db_connections_idle gauge: %w", err)
	}

	m.claimConflictsTotal, err = meter.Int64Counter(
		"billing.claim.conflicts",
		metric.WithDescription("Optimistic cycle claims lost to a concurrent worker"),
		metric.WithUnit("{claim}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create claim_conflicts counter: %w", err)
	}

	return m, nil
}

// RecordDBQuery records a database query metric
func (m *OTelMetrics) RecordDBQuery(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.Bool("error", err != nil),
	}

	m.dbQueriesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dbQueryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// UpdateDBConnectionStats updates database connection pool statistics
func (m *OTelMetrics) UpdateDBConnectionStats(ctx context.Context, active, idle int) {
	if m == nil {
		return
	}
	m.dbConnectionsActive.Add(ctx, int64(active))
	m.dbConnectionsIdle.Add(ctx, int64(idle))
}

// RecordClaimConflict records one billing cycle claim lost to a peer.
func (m *OTelMetrics) RecordClaimConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.claimConflictsTotal.Add(ctx, 1)
}
