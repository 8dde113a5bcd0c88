package billing

import (
	"context"
	"time"
)

// CycleClaim describes one optimistic attempt to advance an assignment's
// billing cursor. A store applies the claim atomically: the cursor advances
// only when CycleIndex still equals ObservedCycleIndex, and the pending
// record is created in the same transaction. A claim lost to a concurrent
// worker, or a duplicate idempotency key, yields ErrConcurrencyConflict and
// leaves the assignment untouched.
type CycleClaim struct {
	AssignmentID       int64
	ObservedCycleIndex int64
	// AsOfDate becomes the assignment's fee_due_date.
	AsOfDate time.Time
	// DueDate becomes the assignment's last_billing_date and the record's
	// due date.
	DueDate time.Time
	// NextBillingDate is the precomputed date of the following cycle.
	NextBillingDate time.Time
	// Record is the pending obligation to create alongside the cursor
	// advance. The store assigns its ID and timestamps.
	Record *PaymentRecord
}

// AssignmentFilter narrows assignment listings. Zero fields are ignored.
type AssignmentFilter struct {
	UserID         int64
	OrganizationID *int64
	ActiveOnly     bool
	Limit          int
	Offset         int
}

// RecordFilter narrows payment record listings. Zero fields are ignored.
type RecordFilter struct {
	UserID         int64
	AssignmentID   int64
	OrganizationID *int64
	Status         RecordStatus
	Limit          int
	Offset         int
}

// Store is the persistence contract of the billing engine. Implementations
// return ErrAssignmentNotFound and ErrPaymentRecordNotFound for missing
// rows, and ErrConcurrencyConflict for lost optimistic claims and duplicate
// idempotency keys. All other failures are reported as-is and treated by
// callers as transient.
type Store interface {
	// CreateAssignment persists a new assignment and fills its ID and
	// timestamps.
	CreateAssignment(ctx context.Context, a *SubscriptionAssignment) error

	// GetAssignment loads one assignment by ID.
	GetAssignment(ctx context.Context, id int64) (*SubscriptionAssignment, error)

	// ListAssignments returns assignments matching the filter, ordered by ID.
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]*SubscriptionAssignment, error)

	// DeactivateAssignment removes an assignment from billing selection
	// without deleting its history.
	DeactivateAssignment(ctx context.Context, id int64) error

	// DueAssignments returns the next page of active assignments whose
	// next billing date is on or before asOf, ordered by ID and starting
	// after afterID. Active assignments missing an anchor or next billing
	// date are included so callers can flag them.
	DueAssignments(ctx context.Context, asOf time.Time, organizationID *int64, afterID int64, limit int) ([]*SubscriptionAssignment, error)

	// ClaimCycle atomically advances the billing cursor and creates the
	// pending record described by the claim. It returns the created record,
	// or ErrConcurrencyConflict when the cursor has already moved.
	ClaimCycle(ctx context.Context, claim CycleClaim) (*PaymentRecord, error)

	// CreatePaymentRecord persists a record created outside the automatic
	// cycle and fills its ID and timestamps. A duplicate idempotency key
	// yields ErrConcurrencyConflict.
	CreatePaymentRecord(ctx context.Context, r *PaymentRecord) error

	// GetPaymentRecord loads one payment record by ID.
	GetPaymentRecord(ctx context.Context, id int64) (*PaymentRecord, error)

	// ListPaymentRecords returns records matching the filter, ordered by
	// due date descending.
	ListPaymentRecords(ctx context.Context, filter RecordFilter) ([]*PaymentRecord, error)

	// DuePendingRecords returns the next page of pending records whose due
	// date is strictly before asOf, ordered by ID and starting after
	// afterID.
	DuePendingRecords(ctx context.Context, asOf time.Time, organizationID *int64, afterID int64, limit int) ([]*PaymentRecord, error)

	// MarkRecordOverdue moves a pending record to overdue and, when the
	// record is the assignment's current fee-due obligation, cascades the
	// overdue status to the assignment in the same transaction. It reports
	// whether the cascade applied. A record no longer pending yields
	// ErrConcurrencyConflict.
	MarkRecordOverdue(ctx context.Context, recordID, assignmentID int64, dueDate time.Time) (cascaded bool, err error)

	// MarkRecordPaid settles a pending or overdue record and, when it is
	// the assignment's current fee-due obligation, returns the assignment
	// to active standing in the same transaction. A record in any other
	// state yields ErrConcurrencyConflict so callers can re-read and decide.
	MarkRecordPaid(ctx context.Context, recordID int64, method, gatewayReference string, paidAt time.Time) (record *PaymentRecord, cascaded bool, err error)

	// CancelRecord voids a pending or overdue record with the same cascade
	// rules as MarkRecordPaid.
	CancelRecord(ctx context.Context, recordID int64) (record *PaymentRecord, cascaded bool, err error)

	// SaveRunReport persists the outcome of one engine run.
	SaveRunReport(ctx context.Context, report *RunReport) error

	// ListRunReports returns recent run reports for a job, newest first.
	// An empty job returns reports for all jobs.
	ListRunReports(ctx context.Context, job RunJob, limit int) ([]*RunReport, error)

	// Ping verifies the underlying datastore is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
