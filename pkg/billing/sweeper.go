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

// RunOverdueSweep moves every pending payment record whose due date has
// passed by asOf into overdue, cascading the status to the owning assignment
// when the record is its current fee-due obligation. The sweep is forward
// only: it never returns a record to pending, and a record already paid or
// swept is skipped. Like RunBillingCycle it is idempotent and safe to run
// concurrently. A zero asOf means the engine's current clock date.
func (e *Engine) RunOverdueSweep(ctx context.Context, asOf time.Time, organizationID *int64) (*RunReport, error) {
	if asOf.IsZero() {
		asOf = e.now()
	}
	asOfDate := DateOnly(asOf)
	runID := e.newRunID()

	ctx, span := billingTracer.Start(ctx, "billing.run_sweep")
	defer span.End()
	span.SetAttributes(
		attribute.String("billing.run_id", runID),
		attribute.String("billing.as_of", asOfDate.Format(time.DateOnly)),
	)

	logger := e.runLogger(ctx, runID, JobOverdueSweep, asOfDate, organizationID)
	builder := newReportBuilder(runID, JobOverdueSweep, asOfDate, organizationID, e.now().UTC())
	logger.Info("overdue sweep started")

	var scanErr error
	afterID := int64(0)
	for scanErr == nil {
		if err := ctx.Err(); err != nil {
			scanErr = err
			break
		}

		page, err := e.store.DuePendingRecords(ctx, asOfDate, organizationID, afterID, e.pageSize)
		if err != nil {
			scanErr = &TransientStoreError{Op: "due_pending_records", Err: err}
			break
		}
		if len(page) == 0 {
			break
		}

		eg, groupCtx := errgroup.WithContext(ctx)
		eg.SetLimit(e.workers)
		for _, record := range page {
			record := record
			eg.Go(func() error {
				e.sweepRecord(groupCtx, logger, builder, record)
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
	e.metrics.ObserveRun(string(JobOverdueSweep), report.Duration())
	e.auditRun(ctx, logger, report)

	logger.WithFields(map[string]interface{}{
		"processed":   report.Processed,
		"skipped":     report.Skipped,
		"errored":     report.Errored,
		"duration_ms": report.Duration().Milliseconds(),
	}).Info("overdue sweep finished")

	if scanErr != nil {
		span.RecordError(scanErr)
		span.SetStatus(codes.Error, "overdue sweep aborted")
		return report, scanErr
	}
	return report, nil
}

// sweepRecord flips one pending record to overdue. The store's guarded
// update is the only coordination: a record that was paid, cancelled or
// swept since the scan loses the update and counts as skipped.
func (e *Engine) sweepRecord(ctx context.Context, logger *observability.Logger, builder *reportBuilder, r *PaymentRecord) {
	if ctx.Err() != nil {
		return
	}

	cascaded, err := e.store.MarkRecordOverdue(ctx, r.ID, r.AssignmentID, r.DueDate)
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		builder.skipped()
		e.metrics.RecordRunEntity(string(JobOverdueSweep), "skipped")
		logger.WithField("record_id", r.ID).Debug("record no longer pending, skipping")
		return
	case err != nil:
		storeErr := &TransientStoreError{Op: "mark_record_overdue", Err: err}
		builder.errored("payment_record", r.ID, storeErr)
		e.metrics.RecordRunEntity(string(JobOverdueSweep), "errored")
		logger.WithError(storeErr).WithField("record_id", r.ID).Warn("overdue sweep failed for record")
		return
	}

	builder.processed()
	e.metrics.RecordRunEntity(string(JobOverdueSweep), "processed")
	logger.WithFields(map[string]interface{}{
		"record_id":     r.ID,
		"assignment_id": r.AssignmentID,
		"due_date":      DateOnly(r.DueDate).Format(time.DateOnly),
		"cascaded":      cascaded,
	}).Info("record marked overdue")

	swept := *r
	swept.Status = RecordStatusOverdue
	e.emit(ctx, EventRecordOverdue, recordEventData(&swept))
	if cascaded {
		e.emit(ctx, EventAssignmentFlagged, map[string]interface{}{
			"assignment_id": r.AssignmentID,
			"user_id":       r.UserID,
			"record_id":     r.ID,
			"due_date":      DateOnly(r.DueDate).Format(time.DateOnly),
		})
	}
	if err := e.audit.LogRecordMutation(ctx, audit.EventRecordOverdue, &r.UserID, r.ID, nil,
		fmt.Sprintf("record past due date %s marked overdue", DateOnly(r.DueDate).Format(time.DateOnly))); err != nil {
		logger.WithError(err).Debug("audit write failed")
	}
}
