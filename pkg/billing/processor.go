package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/duetrack/duetrack/pkg/audit"
	"github.com/duetrack/duetrack/pkg/observability"
)

// RunBillingCycle claims every billing cycle that has come due by asOf and
// creates the matching pending payment record. The optional organizationID
// narrows the run to one tenant. Each due assignment is handled in
// isolation: a failure is reported and the assignment is left for the next
// run, never aborting the batch. The returned report is also persisted and
// emitted as a billing_run.completed event.
//
// RunBillingCycle is safe to invoke concurrently, including against the same
// asOf date. Workers coordinate exclusively through the store's conditional
// cursor advance, so a cycle is claimed exactly once no matter how many runs
// overlap or how often a run is retried. A zero asOf means the engine's
// current clock date.
func (e *Engine) RunBillingCycle(ctx context.Context, asOf time.Time, organizationID *int64) (*RunReport, error) {
	if asOf.IsZero() {
		asOf = e.now()
	}
	asOfDate := DateOnly(asOf)
	runID := e.newRunID()

	ctx, span := billingTracer.Start(ctx, "billing.run_cycle")
	defer span.End()
	span.SetAttributes(
		attribute.String("billing.run_id", runID),
		attribute.String("billing.as_of", asOfDate.Format(time.DateOnly)),
	)

	logger := e.runLogger(ctx, runID, JobBillingCycle, asOfDate, organizationID)
	builder := newReportBuilder(runID, JobBillingCycle, asOfDate, organizationID, e.now().UTC())
	logger.Info("billing cycle run started")

	var scanErr error
	afterID := int64(0)
	for scanErr == nil {
		if err := ctx.Err(); err != nil {
			scanErr = err
			break
		}

		page, err := e.store.DueAssignments(ctx, asOfDate, organizationID, afterID, e.pageSize)
		if err != nil {
			scanErr = &TransientStoreError{Op: "due_assignments", Err: err}
			break
		}
		if len(page) == 0 {
			break
		}

		eg, groupCtx := errgroup.WithContext(ctx)
		eg.SetLimit(e.workers)
		for _, assignment := range page {
			assignment := assignment
			eg.Go(func() error {
				// Outcomes land in the builder; a worker never fails the
				// group, so one bad assignment cannot cancel its peers.
				e.processAssignment(groupCtx, logger, builder, assignment, asOfDate)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			scanErr = err
			break
		}

		afterID = page[len(page)-1].ID
		if len(page) < e.pageSize {
			break
		}
	}

	report := builder.finish(e.now().UTC())
	e.saveReport(context.WithoutCancel(ctx), logger, report)
	e.emit(ctx, EventRunCompleted, runEventData(report))
	e.metrics.ObserveRun(string(JobBillingCycle), report.Duration())
	e.auditRun(ctx, logger, report)

	logger.WithFields(map[string]interface{}{
		"processed":   report.Processed,
		"skipped":     report.Skipped,
		"errored":     report.Errored,
		"duration_ms": report.Duration().Milliseconds(),
	}).Info("billing cycle run finished")

	if scanErr != nil {
		span.RecordError(scanErr)
		span.SetStatus(codes.Error, "billing cycle run aborted")
		return report, scanErr
	}
	return report, nil
}

// processAssignment handles one due assignment: resolve its plan, derive the
// due and following cycle dates from the anchor, and attempt the optimistic
// claim. Every outcome is recorded on the builder.
func (e *Engine) processAssignment(ctx context.Context, logger *observability.Logger, builder *reportBuilder, a *SubscriptionAssignment, asOfDate time.Time) {
	if ctx.Err() != nil {
		// The run is being torn down. The assignment stays untouched and
		// will be picked up by the next run.
		return
	}

	anchor, _, err := a.CycleFields()
	if err != nil {
		builder.errored("subscription_assignment", a.ID, err)
		e.metrics.RecordRunEntity(string(JobBillingCycle), "errored")
		logger.WithError(err).WithField("assignment_id", a.ID).Warn("assignment failed integrity check")
		return
	}

	// The due date is always derived from the anchor, never from the stored
	// next billing date, so a clamped or hand-edited date can never drift
	// the schedule.
	dueDate, err := NextBillingDate(anchor, a.CycleType, int(a.CycleIndex))
	if err != nil {
		builder.errored("subscription_assignment", a.ID, err)
		e.metrics.RecordRunEntity(string(JobBillingCycle), "errored")
		logger.WithError(err).WithField("assignment_id", a.ID).Warn("assignment has invalid cycle configuration")
		return
	}
	if dueDate.After(asOfDate) {
		// Another worker advanced the cursor between the scan and now.
		builder.skipped()
		e.metrics.RecordRunEntity(string(JobBillingCycle), "skipped")
		return
	}
	nextDate, err := NextBillingDate(anchor, a.CycleType, int(a.CycleIndex)+1)
	if err != nil {
		builder.errored("subscription_assignment", a.ID, err)
		e.metrics.RecordRunEntity(string(JobBillingCycle), "errored")
		return
	}

	plan, err := e.plans.Lookup(ctx, a.PlanID)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		confErr := &ConfigurationError{Field: "plan_id", Detail: fmt.Sprintf("assignment %d references unknown plan %q", a.ID, a.PlanID)}
		builder.errored("subscription_assignment", a.ID, confErr)
		e.metrics.RecordRunEntity(string(JobBillingCycle), "errored")
		logger.WithError(confErr).WithField("assignment_id", a.ID).Warn("plan lookup failed")
		return
	case err != nil:
		storeErr := &TransientStoreError{Op: "plan_lookup", Err: err}
		builder.errored("subscription_assignment", a.ID, storeErr)
		e.metrics.RecordRunEntity(string(JobBillingCycle), "errored")
		logger.WithError(storeErr).WithField("assignment_id", a.ID).Warn("plan lookup failed")
		return
	case !plan.Active:
		confErr := &ConfigurationError{Field: "plan_id", Detail: fmt.Sprintf("assignment %d references inactive plan %q", a.ID, a.PlanID)}
		builder.errored("subscription_assignment", a.ID, confErr)
		e.metrics.RecordRunEntity(string(JobBillingCycle), "errored")
		return
	}

	record := &PaymentRecord{
		UserID:         a.UserID,
		OrganizationID: a.OrganizationID,
		AssignmentID:   a.ID,
		PlanID:         a.PlanID,
		Status:         RecordStatusPending,
		Source:         RecordSourceBillingCycle,
		AmountCents:    plan.AmountCents,
		Currency:       plan.Currency,
		DueDate:        dueDate,
		IdempotencyKey: IdempotencyKey(RecordSourceBillingCycle, a.UserID, a.ID, dueDate),
	}

	created, err := e.store.ClaimCycle(ctx, CycleClaim{
		AssignmentID:       a.ID,
		ObservedCycleIndex: a.CycleIndex,
		AsOfDate:           asOfDate,
		DueDate:            dueDate,
		NextBillingDate:    nextDate,
		Record:             record,
	})
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		builder.skipped()
		e.metrics.RecordRunEntity(string(JobBillingCycle), "skipped")
		logger.WithField("assignment_id", a.ID).Debug("cycle already claimed, skipping")
		return
	case err != nil:
		storeErr := &TransientStoreError{Op: "claim_cycle", Err: err}
		builder.errored("subscription_assignment", a.ID, storeErr)
		e.metrics.RecordRunEntity(string(JobBillingCycle), "errored")
		logger.WithError(storeErr).WithField("assignment_id", a.ID).Warn("cycle claim failed")
		return
	}

	builder.processed()
	e.metrics.RecordRunEntity(string(JobBillingCycle), "processed")
	logger.WithFields(map[string]interface{}{
		"assignment_id": a.ID,
		"record_id":     created.ID,
		"due_date":      DateOnly(created.DueDate).Format(time.DateOnly),
		"amount_cents":  created.AmountCents,
	}).Info("billing cycle claimed")

	e.emit(ctx, EventRecordCreated, recordEventData(created))
	if err := e.audit.LogRecordMutation(ctx, audit.EventRecordCreated, &created.UserID, created.ID, nil,
		fmt.Sprintf("pending record created for cycle %d of assignment %d", a.CycleIndex, a.ID)); err != nil {
		logger.WithError(err).Debug("audit write failed")
	}
}
