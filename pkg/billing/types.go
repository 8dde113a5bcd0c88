package billing

import (
	"fmt"
	"strings"
	"time"
)

// PaymentStatus represents the standing of a subscription assignment with
// respect to its most recent billing cycle.
type PaymentStatus string

const (
	PaymentStatusActive  PaymentStatus = "active"
	PaymentStatusFeeDue  PaymentStatus = "fee_due"
	PaymentStatusOverdue PaymentStatus = "overdue"
)

// RecordStatus represents the lifecycle state of a payment record.
type RecordStatus string

const (
	RecordStatusPending   RecordStatus = "pending"
	RecordStatusPaid      RecordStatus = "paid"
	RecordStatusOverdue   RecordStatus = "overdue"
	RecordStatusCancelled RecordStatus = "cancelled"
)

// CanTransitionTo reports whether a record may move from its current status
// to target. Paid and cancelled are terminal.
func (s RecordStatus) CanTransitionTo(target RecordStatus) bool {
	switch s {
	case RecordStatusPending:
		return target == RecordStatusPaid || target == RecordStatusOverdue || target == RecordStatusCancelled
	case RecordStatusOverdue:
		return target == RecordStatusPaid || target == RecordStatusCancelled
	}
	return false
}

// RecordSource identifies how a payment record came into existence.
type RecordSource string

const (
	RecordSourceBillingCycle RecordSource = "billing_cycle"
	RecordSourceManual       RecordSource = "manual"
)

// SubscriptionAssignment links a user to a billing plan and carries the
// cursor state the cycle engine advances. AnchorDate is the immutable
// reference for all date math; CycleIndex counts the cycles already claimed;
// NextBillingDate is denormalized from the two so due assignments can be
// selected with a range scan.
type SubscriptionAssignment struct {
	ID              int64         `json:"id"`
	UserID          int64         `json:"user_id"`
	OrganizationID  int64         `json:"organization_id"`
	PlanID          string        `json:"plan_id"`
	CycleType       CycleType     `json:"cycle_type"`
	Active          bool          `json:"active"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	AnchorDate      *time.Time    `json:"anchor_date,omitempty"`
	CycleIndex      int64         `json:"cycle_index"`
	NextBillingDate *time.Time    `json:"next_billing_date,omitempty"`
	LastBillingDate *time.Time    `json:"last_billing_date,omitempty"`
	FeeDueDate      *time.Time    `json:"fee_due_date,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Validate checks the shape required to persist an assignment.
func (a *SubscriptionAssignment) Validate() error {
	if a.UserID <= 0 {
		return &ConfigurationError{Field: "user_id", Detail: "must be a positive identifier"}
	}
	if strings.TrimSpace(a.PlanID) == "" {
		return &ConfigurationError{Field: "plan_id", Detail: "must not be empty"}
	}
	if !a.CycleType.Valid() {
		return &ConfigurationError{Field: "cycle_type", Detail: fmt.Sprintf("unrecognized cycle type %q", a.CycleType)}
	}
	switch a.PaymentStatus {
	case PaymentStatusActive, PaymentStatusFeeDue, PaymentStatusOverdue:
	default:
		return &ConfigurationError{Field: "payment_status", Detail: fmt.Sprintf("unrecognized payment status %q", a.PaymentStatus)}
	}
	return nil
}

// CycleFields returns the anchor and next billing date needed to process a
// cycle, or a DataIntegrityViolation when an active assignment is missing
// either one.
func (a *SubscriptionAssignment) CycleFields() (anchor, next time.Time, err error) {
	if a.AnchorDate == nil || a.AnchorDate.IsZero() {
		return time.Time{}, time.Time{}, &DataIntegrityViolation{
			Entity:   "subscription_assignment",
			EntityID: a.ID,
			Field:    "anchor_date",
			Detail:   "is not set on an active assignment",
		}
	}
	if a.NextBillingDate == nil || a.NextBillingDate.IsZero() {
		return time.Time{}, time.Time{}, &DataIntegrityViolation{
			Entity:   "subscription_assignment",
			EntityID: a.ID,
			Field:    "next_billing_date",
			Detail:   "is not set on an active assignment",
		}
	}
	return DateOnly(*a.AnchorDate), DateOnly(*a.NextBillingDate), nil
}

// HasCurrentFeeRecord reports whether a payment record is the one produced
// by this assignment's most recent billing cycle. Only the current record
// cascades its status changes back to the assignment.
func (a *SubscriptionAssignment) HasCurrentFeeRecord(r *PaymentRecord) bool {
	if r == nil || a.LastBillingDate == nil {
		return false
	}
	return r.AssignmentID == a.ID && SameDate(r.DueDate, *a.LastBillingDate)
}

// PaymentRecord represents a single billing obligation. Records created by
// the cycle engine snapshot the plan amount at claim time so later plan
// edits do not rewrite history.
type PaymentRecord struct {
	ID               int64        `json:"id"`
	UserID           int64        `json:"user_id"`
	OrganizationID   int64        `json:"organization_id"`
	AssignmentID     int64        `json:"assignment_id"`
	PlanID           string       `json:"plan_id"`
	Status           RecordStatus `json:"status"`
	Source           RecordSource `json:"source"`
	AmountCents      int64        `json:"amount_cents"`
	Currency         string       `json:"currency"`
	DueDate          time.Time    `json:"due_date"`
	IdempotencyKey   string       `json:"idempotency_key"`
	Method           string       `json:"method,omitempty"`
	GatewayReference string       `json:"gateway_reference,omitempty"`
	PaidAt           *time.Time   `json:"paid_at,omitempty"`
	Note             string       `json:"note,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Validate checks the shape required to persist a payment record.
func (r *PaymentRecord) Validate() error {
	if r.UserID <= 0 {
		return &ConfigurationError{Field: "user_id", Detail: "must be a positive identifier"}
	}
	if r.AssignmentID <= 0 {
		return &ConfigurationError{Field: "assignment_id", Detail: "must be a positive identifier"}
	}
	if r.AmountCents < 0 {
		return &ConfigurationError{Field: "amount_cents", Detail: "must not be negative"}
	}
	if r.DueDate.IsZero() {
		return &ConfigurationError{Field: "due_date", Detail: "must be set"}
	}
	if r.IdempotencyKey == "" {
		return &ConfigurationError{Field: "idempotency_key", Detail: "must be set"}
	}
	switch r.Status {
	case RecordStatusPending, RecordStatusPaid, RecordStatusOverdue, RecordStatusCancelled:
	default:
		return &ConfigurationError{Field: "status", Detail: fmt.Sprintf("unrecognized record status %q", r.Status)}
	}
	return nil
}

// IdempotencyKey builds the natural key that makes obligation creation
// idempotent: at most one non-cancelled record may exist per source, user,
// assignment and due date. The source prefix keeps a manual obligation and
// the automatic cycle record for the same due date in separate key spaces,
// so neither can consume the other's claim.
func IdempotencyKey(source RecordSource, userID, assignmentID int64, dueDate time.Time) string {
	return fmt.Sprintf("%s:%d:%d:%s", source, userID, assignmentID, DateOnly(dueDate).Format(time.DateOnly))
}

// Plan is the engine's read-only view of a billing plan. Plans are owned by
// the plan catalog; the engine never writes them.
type Plan struct {
	ID             string    `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	CycleType      CycleType `json:"cycle_type"`
	Active         bool      `json:"active"`
}

// Validate checks the shape required of a catalog entry.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return &ConfigurationError{Field: "id", Detail: "must not be empty"}
	}
	if p.AmountCents < 0 {
		return &ConfigurationError{Field: "amount_cents", Detail: "must not be negative"}
	}
	if !p.CycleType.Valid() {
		return &ConfigurationError{Field: "cycle_type", Detail: fmt.Sprintf("unrecognized cycle type %q", p.CycleType)}
	}
	return nil
}

// User is the engine's read-only view of a directory account.
type User struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Active         bool   `json:"active"`
}

// CreateAssignmentRequest carries the inputs for enrolling a user on a plan.
// AnchorDate defaults to the current date when omitted.
type CreateAssignmentRequest struct {
	UserID     int64      `json:"user_id"`
	PlanID     string     `json:"plan_id"`
	AnchorDate *time.Time `json:"anchor_date,omitempty"`
}

// CreateManualRecordRequest carries the inputs for a hand-entered payment
// obligation outside the automatic cycle, such as a registration fee.
type CreateManualRecordRequest struct {
	AssignmentID int64     `json:"assignment_id"`
	AmountCents  int64     `json:"amount_cents"`
	DueDate      time.Time `json:"due_date"`
	Note         string    `json:"note,omitempty"`
}

// MarkPaidRequest carries the settlement details reported by an operator or
// a payment gateway callback.
type MarkPaidRequest struct {
	Method           string `json:"method"`
	GatewayReference string `json:"gateway_reference,omitempty"`
}
