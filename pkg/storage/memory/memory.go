// Package memory provides an in-memory implementation of the billing store
// for tests and local development. It honors the same conditional-write and
// idempotency-key semantics as the postgres store, so engine concurrency
// tests can run against it without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/duetrack/duetrack/pkg/billing"
)

// Store is a mutex-guarded in-memory billing.Store.
type Store struct {
	mu               sync.Mutex
	assignments      map[int64]*billing.SubscriptionAssignment
	records          map[int64]*billing.PaymentRecord
	reports          []*billing.RunReport
	nextAssignmentID int64
	nextRecordID     int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		assignments:      make(map[int64]*billing.SubscriptionAssignment),
		records:          make(map[int64]*billing.PaymentRecord),
		nextAssignmentID: 1,
		nextRecordID:     1,
	}
}

func copyAssignment(a *billing.SubscriptionAssignment) *billing.SubscriptionAssignment {
	c := *a
	return &c
}

func copyRecord(r *billing.PaymentRecord) *billing.PaymentRecord {
	c := *r
	return &c
}

// keyTaken reports whether a non-cancelled record already holds the
// idempotency key. Mirrors the postgres partial unique index.
func (s *Store) keyTaken(key string) bool {
	for _, r := range s.records {
		if r.IdempotencyKey == key && r.Status != billing.RecordStatusCancelled {
			return true
		}
	}
	return false
}

// CreateAssignment persists a new assignment.
func (s *Store) CreateAssignment(ctx context.Context, a *billing.SubscriptionAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = s.nextAssignmentID
	s.nextAssignmentID++
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.assignments[a.ID] = copyAssignment(a)
	return nil
}

// GetAssignment loads one assignment by ID.
func (s *Store) GetAssignment(ctx context.Context, id int64) (*billing.SubscriptionAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok {
		return nil, billing.ErrAssignmentNotFound
	}
	return copyAssignment(a), nil
}

// ListAssignments returns assignments matching the filter, ordered by ID.
func (s *Store) ListAssignments(ctx context.Context, filter billing.AssignmentFilter) ([]*billing.SubscriptionAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*billing.SubscriptionAssignment
	for _, a := range s.assignments {
		if filter.UserID > 0 && a.UserID != filter.UserID {
			continue
		}
		if filter.OrganizationID != nil && a.OrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.ActiveOnly && !a.Active {
			continue
		}
		out = append(out, copyAssignment(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	out = paginate(out, filter.Offset, filter.Limit)
	return out, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// DeactivateAssignment removes an assignment from billing selection.
func (s *Store) DeactivateAssignment(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok {
		return billing.ErrAssignmentNotFound
	}
	a.Active = false
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// DueAssignments returns the next page of active assignments due by asOf.
func (s *Store) DueAssignments(ctx context.Context, asOf time.Time, organizationID *int64, afterID int64, limit int) ([]*billing.SubscriptionAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asOfDate := billing.DateOnly(asOf)
	var out []*billing.SubscriptionAssignment
	for _, a := range s.assignments {
		if !a.Active || a.ID <= afterID {
			continue
		}
		if organizationID != nil && a.OrganizationID != *organizationID {
			continue
		}
		missing := a.AnchorDate == nil || a.NextBillingDate == nil
		if !missing && billing.DateOnly(*a.NextBillingDate).After(asOfDate) {
			continue
		}
		out = append(out, copyAssignment(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimCycle atomically advances the billing cursor and creates the pending
// record, mirroring the postgres claim transaction.
func (s *Store) ClaimCycle(ctx context.Context, claim billing.CycleClaim) (*billing.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[claim.AssignmentID]
	if !ok {
		return nil, billing.ErrAssignmentNotFound
	}
	if !a.Active || a.CycleIndex != claim.ObservedCycleIndex {
		return nil, billing.ErrConcurrencyConflict
	}
	if s.keyTaken(claim.Record.IdempotencyKey) {
		return nil, billing.ErrConcurrencyConflict
	}

	now := time.Now().UTC()
	asOf := billing.DateOnly(claim.AsOfDate)
	due := billing.DateOnly(claim.DueDate)
	next := billing.DateOnly(claim.NextBillingDate)

	a.CycleIndex++
	a.PaymentStatus = billing.PaymentStatusFeeDue
	a.FeeDueDate = &asOf
	a.LastBillingDate = &due
	a.NextBillingDate = &next
	a.UpdatedAt = now

	record := copyRecord(claim.Record)
	record.ID = s.nextRecordID
	s.nextRecordID++
	record.CreatedAt = now
	record.UpdatedAt = now
	s.records[record.ID] = copyRecord(record)
	return record, nil
}

// CreatePaymentRecord persists a manually created record.
func (s *Store) CreatePaymentRecord(ctx context.Context, r *billing.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keyTaken(r.IdempotencyKey) {
		return billing.ErrConcurrencyConflict
	}
	r.ID = s.nextRecordID
	s.nextRecordID++
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.records[r.ID] = copyRecord(r)
	return nil
}

// GetPaymentRecord loads one payment record by ID.
func (s *Store) GetPaymentRecord(ctx context.Context, id int64) (*billing.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, billing.ErrPaymentRecordNotFound
	}
	return copyRecord(r), nil
}

// ListPaymentRecords returns records matching the filter, newest due first.
func (s *Store) ListPaymentRecords(ctx context.Context, filter billing.RecordFilter) ([]*billing.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*billing.PaymentRecord
	for _, r := range s.records {
		if filter.UserID > 0 && r.UserID != filter.UserID {
			continue
		}
		if filter.AssignmentID > 0 && r.AssignmentID != filter.AssignmentID {
			continue
		}
		if filter.OrganizationID != nil && r.OrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.After(out[j].DueDate)
		}
		return out[i].ID > out[j].ID
	})
	out = paginate(out, filter.Offset, filter.Limit)
	return out, nil
}

// DuePendingRecords returns the next page of pending records due strictly
// before asOf.
func (s *Store) DuePendingRecords(ctx context.Context, asOf time.Time, organizationID *int64, afterID int64, limit int) ([]*billing.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asOfDate := billing.DateOnly(asOf)
	var out []*billing.PaymentRecord
	for _, r := range s.records {
		if r.Status != billing.RecordStatusPending || r.ID <= afterID {
			continue
		}
		if organizationID != nil && r.OrganizationID != *organizationID {
			continue
		}
		if !billing.DateOnly(r.DueDate).Before(asOfDate) {
			continue
		}
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cascadeToAssignment applies a guarded assignment status change when the
// record is the assignment's current fee-due obligation.
func (s *Store) cascadeToAssignment(assignmentID int64, dueDate time.Time, from []billing.PaymentStatus, to billing.PaymentStatus, clearFeeDue bool) bool {
	a, ok := s.assignments[assignmentID]
	if !ok || a.LastBillingDate == nil || !billing.SameDate(*a.LastBillingDate, dueDate) {
		return false
	}
	for _, status := range from {
		if a.PaymentStatus == status {
			a.PaymentStatus = to
			if clearFeeDue {
				a.FeeDueDate = nil
			}
			a.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// MarkRecordOverdue ages a pending record into overdue with the current
// fee-due cascade.
func (s *Store) MarkRecordOverdue(ctx context.Context, recordID, assignmentID int64, dueDate time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recordID]
	if !ok || r.Status != billing.RecordStatusPending {
		return false, billing.ErrConcurrencyConflict
	}
	r.Status = billing.RecordStatusOverdue
	r.UpdatedAt = time.Now().UTC()

	cascaded := s.cascadeToAssignment(assignmentID, dueDate,
		[]billing.PaymentStatus{billing.PaymentStatusFeeDue}, billing.PaymentStatusOverdue, false)
	return cascaded, nil
}

// MarkRecordPaid settles a pending or overdue record.
func (s *Store) MarkRecordPaid(ctx context.Context, recordID int64, method, gatewayReference string, paidAt time.Time) (*billing.PaymentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recordID]
	if !ok {
		return nil, false, billing.ErrPaymentRecordNotFound
	}
	if r.Status != billing.RecordStatusPending && r.Status != billing.RecordStatusOverdue {
		return nil, false, billing.ErrConcurrencyConflict
	}
	r.Status = billing.RecordStatusPaid
	r.Method = method
	r.GatewayReference = gatewayReference
	r.PaidAt = &paidAt
	r.UpdatedAt = time.Now().UTC()

	cascaded := s.cascadeToAssignment(r.AssignmentID, r.DueDate,
		[]billing.PaymentStatus{billing.PaymentStatusFeeDue, billing.PaymentStatusOverdue},
		billing.PaymentStatusActive, true)
	return copyRecord(r), cascaded, nil
}

// CancelRecord voids a pending or overdue record.
func (s *Store) CancelRecord(ctx context.Context, recordID int64) (*billing.PaymentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recordID]
	if !ok {
		return nil, false, billing.ErrPaymentRecordNotFound
	}
	if r.Status != billing.RecordStatusPending && r.Status != billing.RecordStatusOverdue {
		return nil, false, billing.ErrConcurrencyConflict
	}
	r.Status = billing.RecordStatusCancelled
	r.UpdatedAt = time.Now().UTC()

	cascaded := s.cascadeToAssignment(r.AssignmentID, r.DueDate,
		[]billing.PaymentStatus{billing.PaymentStatusFeeDue, billing.PaymentStatusOverdue},
		billing.PaymentStatusActive, true)
	return copyRecord(r), cascaded, nil
}

// SaveRunReport appends a run report.
func (s *Store) SaveRunReport(ctx context.Context, report *billing.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *report
	s.reports = append(s.reports, &c)
	return nil
}

// ListRunReports returns recent run reports, newest first.
func (s *Store) ListRunReports(ctx context.Context, job billing.RunJob, limit int) ([]*billing.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*billing.RunReport
	for i := len(s.reports) - 1; i >= 0; i-- {
		r := s.reports[i]
		if job != "" && r.Job != job {
			continue
		}
		c := *r
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
