package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/duetrack/duetrack/pkg/audit"
)

// MarkPaid settles a pending or overdue payment record and, when the record
// is its assignment's current fee-due obligation, returns the assignment to
// active standing. Settling an already paid record is a no-op that returns
// the record unchanged, so gateway callbacks can be retried freely. Settling
// a cancelled record fails with InvalidStateTransition.
func (e *Engine) MarkPaid(ctx context.Context, recordID int64, req MarkPaidRequest) (*PaymentRecord, error) {
	ctx, span := billingTracer.Start(ctx, "billing.mark_paid")
	defer span.End()
	span.SetAttributes(attribute.Int64("billing.record_id", recordID))

	if strings.TrimSpace(req.Method) == "" {
		return nil, &ConfigurationError{Field: "method", Detail: "must not be empty"}
	}

	record, err := e.store.GetPaymentRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	switch record.Status {
	case RecordStatusPaid:
		return record, nil
	case RecordStatusCancelled:
		return nil, &InvalidStateTransition{
			Entity:   "payment_record",
			EntityID: recordID,
			From:     string(RecordStatusCancelled),
			To:       string(RecordStatusPaid),
		}
	}

	updated, cascaded, err := e.store.MarkRecordPaid(ctx, recordID, req.Method, req.GatewayReference, e.now().UTC())
	if errors.Is(err, ErrConcurrencyConflict) {
		// Someone settled or cancelled the record between our read and the
		// guarded update. Re-read and apply the same terminal-state rules.
		current, readErr := e.store.GetPaymentRecord(ctx, recordID)
		if readErr != nil {
			return nil, readErr
		}
		if current.Status == RecordStatusPaid {
			return current, nil
		}
		return nil, &InvalidStateTransition{
			Entity:   "payment_record",
			EntityID: recordID,
			From:     string(current.Status),
			To:       string(RecordStatusPaid),
		}
	}
	if err != nil {
		return nil, &TransientStoreError{Op: "mark_record_paid", Err: err}
	}

	e.logger.WithFields(map[string]interface{}{
		"record_id":     updated.ID,
		"assignment_id": updated.AssignmentID,
		"method":        updated.Method,
		"cascaded":      cascaded,
	}).Info("payment record settled")

	e.emit(ctx, EventRecordPaid, recordEventData(updated))
	if err := e.audit.LogRecordMutation(ctx, audit.EventRecordPaid, &updated.UserID, updated.ID,
		&audit.ChangeDetails{Before: map[string]interface{}{"status": string(record.Status)}, After: map[string]interface{}{"status": string(RecordStatusPaid)}},
		fmt.Sprintf("record settled via %s", req.Method)); err != nil {
		e.logger.WithError(err).Debug("audit write failed")
	}
	return updated, nil
}

// CancelPaymentRecord voids a pending or overdue record, with the same
// cascade back to the assignment as MarkPaid. Cancelling an already
// cancelled record is a no-op; cancelling a paid record fails with
// InvalidStateTransition.
func (e *Engine) CancelPaymentRecord(ctx context.Context, recordID int64) (*PaymentRecord, error) {
	ctx, span := billingTracer.Start(ctx, "billing.cancel_record")
	defer span.End()
	span.SetAttributes(attribute.Int64("billing.record_id", recordID))

	record, err := e.store.GetPaymentRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	switch record.Status {
	case RecordStatusCancelled:
		return record, nil
	case RecordStatusPaid:
		return nil, &InvalidStateTransition{
			Entity:   "payment_record",
			EntityID: recordID,
			From:     string(RecordStatusPaid),
			To:       string(RecordStatusCancelled),
		}
	}

	updated, cascaded, err := e.store.CancelRecord(ctx, recordID)
	if errors.Is(err, ErrConcurrencyConflict) {
		current, readErr := e.store.GetPaymentRecord(ctx, recordID)
		if readErr != nil {
			return nil, readErr
		}
		if current.Status == RecordStatusCancelled {
			return current, nil
		}
		return nil, &InvalidStateTransition{
			Entity:   "payment_record",
			EntityID: recordID,
			From:     string(current.Status),
			To:       string(RecordStatusCancelled),
		}
	}
	if err != nil {
		return nil, &TransientStoreError{Op: "cancel_record", Err: err}
	}

	e.logger.WithFields(map[string]interface{}{
		"record_id":     updated.ID,
		"assignment_id": updated.AssignmentID,
		"cascaded":      cascaded,
	}).Info("payment record cancelled")

	e.emit(ctx, EventRecordCancelled, recordEventData(updated))
	if err := e.audit.LogRecordMutation(ctx, audit.EventRecordCancelled, &updated.UserID, updated.ID,
		&audit.ChangeDetails{Before: map[string]interface{}{"status": string(record.Status)}, After: map[string]interface{}{"status": string(RecordStatusCancelled)}},
		"record cancelled"); err != nil {
		e.logger.WithError(err).Debug("audit write failed")
	}
	return updated, nil
}

// CreateManualRecord creates a pending obligation outside the automatic
// cycle, such as a registration fee or a one-off adjustment. Manual records
// have their own idempotency key space: a second manual record for the same
// assignment and due date fails with ErrConcurrencyConflict, while the
// automatic cycle can still bill that date normally.
func (e *Engine) CreateManualRecord(ctx context.Context, req CreateManualRecordRequest) (*PaymentRecord, error) {
	ctx, span := billingTracer.Start(ctx, "billing.create_manual_record")
	defer span.End()

	if req.AmountCents < 0 {
		return nil, &ConfigurationError{Field: "amount_cents", Detail: "must not be negative"}
	}
	if req.DueDate.IsZero() {
		return nil, &ConfigurationError{Field: "due_date", Detail: "must be set"}
	}

	assignment, err := e.store.GetAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, err
	}
	plan, err := e.plans.Lookup(ctx, assignment.PlanID)
	if errors.Is(err, ErrPlanNotFound) {
		return nil, &ConfigurationError{Field: "plan_id", Detail: fmt.Sprintf("assignment %d references unknown plan %q", assignment.ID, assignment.PlanID)}
	}
	if err != nil {
		return nil, &TransientStoreError{Op: "plan_lookup", Err: err}
	}

	dueDate := DateOnly(req.DueDate)
	record := &PaymentRecord{
		UserID:         assignment.UserID,
		OrganizationID: assignment.OrganizationID,
		AssignmentID:   assignment.ID,
		PlanID:         assignment.PlanID,
		Status:         RecordStatusPending,
		Source:         RecordSourceManual,
		AmountCents:    req.AmountCents,
		Currency:       plan.Currency,
		DueDate:        dueDate,
		IdempotencyKey: IdempotencyKey(RecordSourceManual, assignment.UserID, assignment.ID, dueDate),
		Note:           req.Note,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.CreatePaymentRecord(ctx, record); err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"record_id":     record.ID,
		"assignment_id": record.AssignmentID,
		"due_date":      dueDate.Format(time.DateOnly),
		"amount_cents":  record.AmountCents,
	}).Info("manual payment record created")

	e.emit(ctx, EventRecordCreated, recordEventData(record))
	if err := e.audit.LogRecordMutation(ctx, audit.EventRecordCreated, &record.UserID, record.ID, nil,
		"manual record created"); err != nil {
		e.logger.WithError(err).Debug("audit write failed")
	}
	return record, nil
}

// GetPaymentRecord loads one payment record by ID.
func (e *Engine) GetPaymentRecord(ctx context.Context, recordID int64) (*PaymentRecord, error) {
	return e.store.GetPaymentRecord(ctx, recordID)
}

// ListPaymentRecords returns records matching the filter, newest due first.
func (e *Engine) ListPaymentRecords(ctx context.Context, filter RecordFilter) ([]*PaymentRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return e.store.ListPaymentRecords(ctx, filter)
}
