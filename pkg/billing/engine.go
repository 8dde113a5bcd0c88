package billing

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/duetrack/duetrack/pkg/audit"
	"github.com/duetrack/duetrack/pkg/observability"
)

// billingTracer is the package tracer for engine spans.
var billingTracer = otel.Tracer("duetrack/billing")

// Event types emitted by the engine. Payloads are flat maps so downstream
// consumers never need this package's types.
const (
	EventAssignmentCreated     = "assignment.created"
	EventAssignmentDeactivated = "assignment.deactivated"
	EventAssignmentFlagged     = "assignment.flagged_overdue"
	EventRecordCreated         = "payment_record.created"
	EventRecordPaid            = "payment_record.paid"
	EventRecordOverdue         = "payment_record.overdue"
	EventRecordCancelled       = "payment_record.cancelled"
	EventRunCompleted          = "billing_run.completed"
)

// Default engine tuning. Both are overridable through options.
const (
	DefaultWorkers  = 8
	DefaultPageSize = 200
)

// PlanCatalog resolves plan references at enrollment and billing time. The
// engine only ever reads plans.
type PlanCatalog interface {
	// Lookup returns the plan with the given ID, or ErrPlanNotFound.
	Lookup(ctx context.Context, planID string) (*Plan, error)
}

// Directory resolves user references at enrollment time. The engine only
// ever reads users.
type Directory interface {
	// GetUser returns the user with the given ID, or ErrUserNotFound.
	GetUser(ctx context.Context, userID int64) (*User, error)
}

// EventSink receives the engine's lifecycle events for delivery to external
// consumers. Implementations must not block; delivery failures are the
// sink's problem, not the engine's.
type EventSink interface {
	Emit(ctx context.Context, eventType string, data map[string]interface{})
}

// Engine drives the recurring billing lifecycle: claiming due cycles,
// sweeping overdue obligations and settling payments. It is stateless
// between runs; all coordination happens through conditional writes in the
// Store, so any number of engines may run the same job concurrently.
type Engine struct {
	store    Store
	plans    PlanCatalog
	users    Directory
	events   EventSink
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	workers  int
	pageSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger used by engine runs.
func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder used by engine runs.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEventSink sets the sink that receives engine lifecycle events.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// WithAuditLogger sets the audit trail for engine mutations.
func WithAuditLogger(logger audit.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.audit = logger
		}
	}
}

// WithClock overrides the engine's time source. Tests use this to pin runs
// to a known date.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithWorkers sets how many entities a run processes concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithPageSize sets how many entities a run loads per store scan.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// NewEngine creates a billing engine on top of the given store, plan catalog
// and user directory.
func NewEngine(store Store, plans PlanCatalog, users Directory, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		plans:    plans,
		users:    users,
		audit:    audit.NewNoopLogger(),
		logger:   observability.NewLogger(observability.InfoLevel, os.Stdout),
		now:      time.Now,
		workers:  DefaultWorkers,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ping verifies the engine's datastore is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// ListRunReports returns recent run reports, newest first. An empty job
// returns reports for all jobs.
func (e *Engine) ListRunReports(ctx context.Context, job RunJob, limit int) ([]*RunReport, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.ListRunReports(ctx, job, limit)
}

// emit forwards an event to the configured sink, if any.
func (e *Engine) emit(ctx context.Context, eventType string, data map[string]interface{}) {
	if e.events == nil {
		return
	}
	e.events.Emit(ctx, eventType, data)
}

// newRunID returns the identifier stamped on a run's report, logs and spans.
func (e *Engine) newRunID() string {
	return uuid.NewString()
}

// runLogger returns the logger used for one engine run. When the run was
// triggered inside a recorded trace, trace_id and span_id ride along so the
// run's log lines can be joined to the request span.
func (e *Engine) runLogger(ctx context.Context, runID string, job RunJob, asOf time.Time, organizationID *int64) *observability.Logger {
	logger := e.logger.WithFields(map[string]interface{}{
		"run_id": runID,
		"job":    string(job),
		"as_of":  asOf.Format(time.DateOnly),
	})
	if organizationID != nil {
		logger = logger.WithField("organization_id", *organizationID)
	}
	return observability.UpdateLoggerWithTraceContext(ctx, logger)
}

// saveReport persists a finished run report. Persistence is best effort: a
// failure is logged and the report is still returned to the caller.
func (e *Engine) saveReport(ctx context.Context, logger *observability.Logger, report *RunReport) {
	if err := e.store.SaveRunReport(ctx, report); err != nil {
		logger.WithError(err).Warn("failed to persist run report")
	}
}

// auditRun writes the audit trail entry for a finished run.
func (e *Engine) auditRun(ctx context.Context, logger *observability.Logger, report *RunReport) {
	if err := e.audit.LogRun(ctx, report.RunID, string(report.Job), report.AsOfDate,
		report.Processed, report.Skipped, report.Errored); err != nil {
		logger.WithError(err).Debug("audit write failed")
	}
}

// recordEventData flattens a payment record into an event payload.
func recordEventData(r *PaymentRecord) map[string]interface{} {
	data := map[string]interface{}{
		"record_id":       r.ID,
		"user_id":         r.UserID,
		"organization_id": r.OrganizationID,
		"assignment_id":   r.AssignmentID,
		"plan_id":         r.PlanID,
		"status":          string(r.Status),
		"source":          string(r.Source),
		"amount_cents":    r.AmountCents,
		"currency":        r.Currency,
		"due_date":        DateOnly(r.DueDate).Format(time.DateOnly),
	}
	if r.PaidAt != nil {
		data["paid_at"] = r.PaidAt.UTC().Format(time.RFC3339)
	}
	if r.Method != "" {
		data["method"] = r.Method
	}
	if r.GatewayReference != "" {
		data["gateway_reference"] = r.GatewayReference
	}
	return data
}

// assignmentEventData flattens an assignment into an event payload.
func assignmentEventData(a *SubscriptionAssignment) map[string]interface{} {
	data := map[string]interface{}{
		"assignment_id":   a.ID,
		"user_id":         a.UserID,
		"organization_id": a.OrganizationID,
		"plan_id":         a.PlanID,
		"cycle_type":      string(a.CycleType),
		"cycle_index":     a.CycleIndex,
		"payment_status":  string(a.PaymentStatus),
		"active":          a.Active,
	}
	if a.AnchorDate != nil {
		data["anchor_date"] = DateOnly(*a.AnchorDate).Format(time.DateOnly)
	}
	if a.NextBillingDate != nil {
		data["next_billing_date"] = DateOnly(*a.NextBillingDate).Format(time.DateOnly)
	}
	return data
}

// runEventData flattens a run report into an event payload.
func runEventData(report *RunReport) map[string]interface{} {
	data := map[string]interface{}{
		"run_id":      report.RunID,
		"job":         string(report.Job),
		"as_of_date":  report.AsOfDate.Format(time.DateOnly),
		"processed":   report.Processed,
		"skipped":     report.Skipped,
		"errored":     report.Errored,
		"duration_ms": report.Duration().Milliseconds(),
	}
	if report.OrganizationID != nil {
		data["organization_id"] = *report.OrganizationID
	}
	return data
}
