package api

import (
	"context"
	"time"

	"github.com/duetrack/duetrack/pkg/analytics"
	"github.com/duetrack/duetrack/pkg/billing"
)

// BillingService is the engine surface the HTTP layer depends on. The
// billing.Engine satisfies it; tests substitute function-field mocks.
type BillingService interface {
	RunBillingCycle(ctx context.Context, asOf time.Time, organizationID *int64) (*billing.RunReport, error)
	RunOverdueSweep(ctx context.Context, asOf time.Time, organizationID *int64) (*billing.RunReport, error)
	ListRunReports(ctx context.Context, job billing.RunJob, limit int) ([]*billing.RunReport, error)

	CreateAssignment(ctx context.Context, req billing.CreateAssignmentRequest) (*billing.SubscriptionAssignment, error)
	GetAssignment(ctx context.Context, id int64) (*billing.SubscriptionAssignment, error)
	ListAssignments(ctx context.Context, filter billing.AssignmentFilter) ([]*billing.SubscriptionAssignment, error)
	DeactivateAssignment(ctx context.Context, id int64) (*billing.SubscriptionAssignment, error)

	CreateManualRecord(ctx context.Context, req billing.CreateManualRecordRequest) (*billing.PaymentRecord, error)
	GetPaymentRecord(ctx context.Context, recordID int64) (*billing.PaymentRecord, error)
	ListPaymentRecords(ctx context.Context, filter billing.RecordFilter) ([]*billing.PaymentRecord, error)
	MarkPaid(ctx context.Context, recordID int64, req billing.MarkPaidRequest) (*billing.PaymentRecord, error)
	CancelPaymentRecord(ctx context.Context, recordID int64) (*billing.PaymentRecord, error)
}

// StatsService is the analytics surface the HTTP layer depends on.
type StatsService interface {
	QueryBillingStats(ctx context.Context, q analytics.StatsQuery) (*analytics.BillingStatsResponse, error)
	GetOverview(ctx context.Context, organizationID int64) (*analytics.Overview, error)
}

// RunRequest triggers a billing cycle or overdue sweep. AsOfDate defaults
// to today; OrganizationID zero means all organizations.
type RunRequest struct {
	AsOfDate       string `json:"as_of_date,omitempty"`
	OrganizationID int64  `json:"organization_id,omitempty"`
}
