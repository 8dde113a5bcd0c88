package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/duetrack/duetrack/pkg/billing"
	"github.com/duetrack/duetrack/pkg/storage"
)

var tracer = otel.Tracer("duetrack/storage/postgres")

// uniqueViolation is the PostgreSQL error code for a violated unique
// constraint. On the payment_records idempotency index it means the cycle's
// obligation already exists.
const uniqueViolation = "23505"

// Store implements billing.Store on PostgreSQL. All coordination between
// concurrent engine runs is expressed as conditional UPDATEs and the partial
// unique index on payment_records.idempotency_key; the store never takes
// advisory locks.
type Store struct {
	db *sql.DB
}

// NewStore connects to PostgreSQL, applies pending migrations and returns a
// ready store.
func NewStore(ctx context.Context, cfg storage.Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresMinConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing database handle. The caller owns the
// handle's lifecycle and schema; tests use this with sqlmock.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for collaborators that share the
// connection pool, such as the audit logger and the stats aggregator.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

const assignmentColumns = `
	id, user_id, organization_id, plan_id, cycle_type, active, payment_status,
	anchor_date, cycle_index, next_billing_date, last_billing_date, fee_due_date,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssignment(scanner rowScanner) (*billing.SubscriptionAssignment, error) {
	var a billing.SubscriptionAssignment
	var anchor, next, last, feeDue sql.NullTime
	err := scanner.Scan(
		&a.ID, &a.UserID, &a.OrganizationID, &a.PlanID, &a.CycleType, &a.Active, &a.PaymentStatus,
		&anchor, &a.CycleIndex, &next, &last, &feeDue,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.AnchorDate = nullableDate(anchor)
	a.NextBillingDate = nullableDate(next)
	a.LastBillingDate = nullableDate(last)
	a.FeeDueDate = nullableDate(feeDue)
	return &a, nil
}

const recordColumns = `
	id, user_id, organization_id, assignment_id, plan_id, status, source,
	amount_cents, currency, due_date, idempotency_key, method, gateway_reference,
	paid_at, note, created_at, updated_at`

func scanRecord(scanner rowScanner) (*billing.PaymentRecord, error) {
	var r billing.PaymentRecord
	var paidAt sql.NullTime
	err := scanner.Scan(
		&r.ID, &r.UserID, &r.OrganizationID, &r.AssignmentID, &r.PlanID, &r.Status, &r.Source,
		&r.AmountCents, &r.Currency, &r.DueDate, &r.IdempotencyKey, &r.Method, &r.GatewayReference,
		&paidAt, &r.Note, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		t := paidAt.Time
		r.PaidAt = &t
	}
	return &r, nil
}

func nullableDate(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	d := billing.DateOnly(t.Time)
	return &d
}

func dateArg(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return billing.DateOnly(*t)
}

// CreateAssignment persists a new subscription assignment.
func (s *Store) CreateAssignment(ctx context.Context, a *billing.SubscriptionAssignment) error {
	query := `
		INSERT INTO subscription_assignments (
			user_id, organization_id, plan_id, cycle_type, active, payment_status,
			anchor_date, cycle_index, next_billing_date, last_billing_date, fee_due_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		a.UserID, a.OrganizationID, a.PlanID, string(a.CycleType), a.Active, string(a.PaymentStatus),
		dateArg(a.AnchorDate), a.CycleIndex, dateArg(a.NextBillingDate), dateArg(a.LastBillingDate), dateArg(a.FeeDueDate),
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// GetAssignment loads one assignment by ID.
func (s *Store) GetAssignment(ctx context.Context, id int64) (*billing.SubscriptionAssignment, error) {
	query := `SELECT` + assignmentColumns + ` FROM subscription_assignments WHERE id = $1`
	a, err := scanAssignment(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, billing.ErrAssignmentNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// ListAssignments returns assignments matching the filter, ordered by ID.
func (s *Store) ListAssignments(ctx context.Context, filter billing.AssignmentFilter) ([]*billing.SubscriptionAssignment, error) {
	query := `SELECT` + assignmentColumns + ` FROM subscription_assignments WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.UserID > 0 {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, filter.UserID)
		argIndex++
	}
	if filter.OrganizationID != nil {
		query += fmt.Sprintf(" AND organization_id = $%d", argIndex)
		args = append(args, *filter.OrganizationID)
		argIndex++
	}
	if filter.ActiveOnly {
		query += " AND active"
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*billing.SubscriptionAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// DeactivateAssignment removes an assignment from billing selection.
func (s *Store) DeactivateAssignment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE subscription_assignments SET active = FALSE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	if affected == 0 {
		return billing.ErrAssignmentNotFound
	}
	return nil
}

// DueAssignments returns the next page of active assignments due by asOf,
// ordered by ID. Assignments with a NULL next_billing_date are included so
// the processor can flag them as integrity violations.
func (s *Store) DueAssignments(ctx context.Context, asOf time.Time, organizationID *int64, afterID int64, limit int) ([]*billing.SubscriptionAssignment, error) {
	query := `SELECT` + assignmentColumns + `
		FROM subscription_assignments
		WHERE active AND id > $1
		AND (next_billing_date <= $2 OR next_billing_date IS NULL OR anchor_date IS NULL)`
	args := []interface{}{afterID, billing.DateOnly(asOf)}
	if organizationID != nil {
		query += " AND organization_id = $3"
		args = append(args, *organizationID)
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select due assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*billing.SubscriptionAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// ClaimCycle advances an assignment's billing cursor and creates the pending
// payment record in one transaction. The conditional UPDATE on cycle_index
// is the optimistic claim; the partial unique index on idempotency_key backs
// it up, so a retry after a partial failure can never produce a second
// record for the same cycle.
func (s *Store) ClaimCycle(ctx context.Context, claim billing.CycleClaim) (*billing.PaymentRecord, error) {
	ctx, span := tracer.Start(ctx, "store.claim_cycle")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("billing.assignment_id", claim.AssignmentID),
		attribute.Int64("billing.observed_cycle_index", claim.ObservedCycleIndex),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start claim transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE subscription_assignments
		SET cycle_index = cycle_index + 1,
			payment_status = 'fee_due',
			fee_due_date = $1,
			last_billing_date = $2,
			next_billing_date = $3,
			updated_at = NOW()
		WHERE id = $4 AND cycle_index = $5 AND active
	`, billing.DateOnly(claim.AsOfDate), billing.DateOnly(claim.DueDate), billing.DateOnly(claim.NextBillingDate),
		claim.AssignmentID, claim.ObservedCycleIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to advance billing cursor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to advance billing cursor: %w", err)
	}
	if affected == 0 {
		span.SetStatus(codes.Ok, "claim lost")
		return nil, billing.ErrConcurrencyConflict
	}

	record := *claim.Record
	err = tx.QueryRowContext(ctx, `
		INSERT INTO payment_records (
			user_id, organization_id, assignment_id, plan_id, status, source,
			amount_cents, currency, due_date, idempotency_key, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`, record.UserID, record.OrganizationID, record.AssignmentID, record.PlanID,
		string(record.Status), string(record.Source), record.AmountCents, record.Currency,
		billing.DateOnly(record.DueDate), record.IdempotencyKey, record.Note,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
	if isUniqueViolation(err) {
		// The record and the cursor advance commit together, so a unique hit
		// here means a non-cancelled record for this cycle exists without the
		// cursor reflecting it. That only happens after out-of-band writes,
		// such as an operator resetting cycle_index. Surrender the claim and
		// keep the existing record.
		span.SetStatus(codes.Ok, "duplicate obligation")
		return nil, billing.ErrConcurrencyConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return &record, nil
}

// CreatePaymentRecord persists a record created outside the automatic cycle.
func (s *Store) CreatePaymentRecord(ctx context.Context, r *billing.PaymentRecord) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payment_records (
			user_id, organization_id, assignment_id, plan_id, status, source,
			amount_cents, currency, due_date, idempotency_key, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`, r.UserID, r.OrganizationID, r.AssignmentID, r.PlanID,
		string(r.Status), string(r.Source), r.AmountCents, r.Currency,
		billing.DateOnly(r.DueDate), r.IdempotencyKey, r.Note,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if isUniqueViolation(err) {
		return billing.ErrConcurrencyConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create payment record: %w", err)
	}
	return nil
}

// GetPaymentRecord loads one payment record by ID.
func (s *Store) GetPaymentRecord(ctx context.Context, id int64) (*billing.PaymentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM payment_records WHERE id = $1`
	r, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, billing.ErrPaymentRecordNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get payment record: %w", err)
	}
	return r, nil
}

// ListPaymentRecords returns records matching the filter, newest due first.
func (s *Store) ListPaymentRecords(ctx context.Context, filter billing.RecordFilter) ([]*billing.PaymentRecord, error) {
	query := `SELECT` + recordColumns + ` FROM payment_records WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.UserID > 0 {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, filter.UserID)
		argIndex++
	}
	if filter.AssignmentID > 0 {
		query += fmt.Sprintf(" AND assignment_id = $%d", argIndex)
		args = append(args, filter.AssignmentID)
		argIndex++
	}
	if filter.OrganizationID != nil {
		query += fmt.Sprintf(" AND organization_id = $%d", argIndex)
		args = append(args, *filter.OrganizationID)
		argIndex++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(filter.Status))
		argIndex++
	}
	query += " ORDER BY due_date DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment records: %w", err)
	}
	defer rows.Close()

	var records []*billing.PaymentRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DuePendingRecords returns the next page of pending records whose due date
// is strictly before asOf, ordered by ID.
func (s *Store) DuePendingRecords(ctx context.Context, asOf time.Time, organizationID *int64, afterID int64, limit int) ([]*billing.PaymentRecord, error) {
	query := `SELECT` + recordColumns + `
		FROM payment_records
		WHERE status = 'pending' AND due_date < $1 AND id > $2`
	args := []interface{}{billing.DateOnly(asOf), afterID}
	if organizationID != nil {
		query += " AND organization_id = $3"
		args = append(args, *organizationID)
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select due pending records: %w", err)
	}
	defer rows.Close()

	var records []*billing.PaymentRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// MarkRecordOverdue ages a pending record into overdue and, when the record
// is the assignment's most recent fee-due obligation, cascades the status to
// the assignment. Both updates are guarded so re-runs and races are no-ops.
func (s *Store) MarkRecordOverdue(ctx context.Context, recordID, assignmentID int64, dueDate time.Time) (bool, error) {
	ctx, span := tracer.Start(ctx, "store.mark_record_overdue")
	defer span.End()
	span.SetAttributes(attribute.Int64("billing.record_id", recordID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start sweep transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE payment_records
		SET status = 'overdue', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, recordID)
	if err != nil {
		return false, fmt.Errorf("failed to mark record overdue: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark record overdue: %w", err)
	}
	if affected == 0 {
		return false, billing.ErrConcurrencyConflict
	}

	// Only the record produced by the assignment's latest cycle may drag the
	// assignment into overdue; an older record aging out must not supersede a
	// newer cycle's standing.
	res, err = tx.ExecContext(ctx, `
		UPDATE subscription_assignments
		SET payment_status = 'overdue', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'fee_due' AND last_billing_date = $2
	`, assignmentID, billing.DateOnly(dueDate))
	if err != nil {
		return false, fmt.Errorf("failed to cascade overdue status: %w", err)
	}
	cascadedRows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to cascade overdue status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit sweep: %w", err)
	}
	return cascadedRows > 0, nil
}

// MarkRecordPaid settles a pending or overdue record and, when it is the
// assignment's current fee-due obligation, restores the assignment to
// active standing.
func (s *Store) MarkRecordPaid(ctx context.Context, recordID int64, method, gatewayReference string, paidAt time.Time) (*billing.PaymentRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "store.mark_record_paid")
	defer span.End()
	span.SetAttributes(attribute.Int64("billing.record_id", recordID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start settle transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE payment_records
		SET status = 'paid', method = $2, gateway_reference = $3, paid_at = $4, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'overdue')
		RETURNING` + recordColumns
	record, err := scanRecord(tx.QueryRowContext(ctx, query, recordID, method, gatewayReference, paidAt))
	if err == sql.ErrNoRows {
		return nil, false, billing.ErrConcurrencyConflict
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to mark record paid: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE subscription_assignments
		SET payment_status = 'active', fee_due_date = NULL, updated_at = NOW()
		WHERE id = $1 AND payment_status IN ('fee_due', 'overdue') AND last_billing_date = $2
	`, record.AssignmentID, billing.DateOnly(record.DueDate))
	if err != nil {
		return nil, false, fmt.Errorf("failed to cascade paid status: %w", err)
	}
	cascadedRows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to cascade paid status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit settle: %w", err)
	}
	return record, cascadedRows > 0, nil
}

// CancelRecord voids a pending or overdue record. Cancelling the current
// fee-due obligation returns the assignment to active standing, since the
// debt it represented no longer exists.
func (s *Store) CancelRecord(ctx context.Context, recordID int64) (*billing.PaymentRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "store.cancel_record")
	defer span.End()
	span.SetAttributes(attribute.Int64("billing.record_id", recordID))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start cancel transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE payment_records
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'overdue')
		RETURNING` + recordColumns
	record, err := scanRecord(tx.QueryRowContext(ctx, query, recordID))
	if err == sql.ErrNoRows {
		return nil, false, billing.ErrConcurrencyConflict
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to cancel record: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE subscription_assignments
		SET payment_status = 'active', fee_due_date = NULL, updated_at = NOW()
		WHERE id = $1 AND payment_status IN ('fee_due', 'overdue') AND last_billing_date = $2
	`, record.AssignmentID, billing.DateOnly(record.DueDate))
	if err != nil {
		return nil, false, fmt.Errorf("failed to cascade cancel status: %w", err)
	}
	cascadedRows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to cascade cancel status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit cancel: %w", err)
	}
	return record, cascadedRows > 0, nil
}

// SaveRunReport persists the outcome of one engine run.
func (s *Store) SaveRunReport(ctx context.Context, report *billing.RunReport) error {
	errorsJSON, err := json.Marshal(report.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal run errors: %w", err)
	}
	var orgID interface{}
	if report.OrganizationID != nil {
		orgID = *report.OrganizationID
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO billing_runs (
			run_id, job, as_of_date, organization_id, started_at, finished_at,
			processed, skipped, errored, errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, report.RunID, string(report.Job), billing.DateOnly(report.AsOfDate), orgID,
		report.StartedAt, report.FinishedAt, report.Processed, report.Skipped, report.Errored,
		string(errorsJSON))
	if err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}
	return nil
}

// ListRunReports returns recent run reports, newest first. An empty job
// returns reports from all jobs.
func (s *Store) ListRunReports(ctx context.Context, job billing.RunJob, limit int) ([]*billing.RunReport, error) {
	query := `
		SELECT run_id, job, as_of_date, organization_id, started_at, finished_at,
			processed, skipped, errored, errors
		FROM billing_runs`
	args := []interface{}{}
	if job != "" {
		query += " WHERE job = $1"
		args = append(args, string(job))
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run reports: %w", err)
	}
	defer rows.Close()

	var reports []*billing.RunReport
	for rows.Next() {
		var report billing.RunReport
		var orgID sql.NullInt64
		var errorsJSON []byte
		err := rows.Scan(&report.RunID, &report.Job, &report.AsOfDate, &orgID,
			&report.StartedAt, &report.FinishedAt,
			&report.Processed, &report.Skipped, &report.Errored, &errorsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run report: %w", err)
		}
		if orgID.Valid {
			v := orgID.Int64
			report.OrganizationID = &v
		}
		if len(errorsJSON) > 0 {
			if err := json.Unmarshal(errorsJSON, &report.Errors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal run errors: %w", err)
			}
		}
		reports = append(reports, &report)
	}
	return reports, rows.Err()
}
