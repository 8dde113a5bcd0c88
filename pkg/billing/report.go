package billing

import (
	"sync"
	"time"
)

// RunJob identifies which engine job produced a run report.
type RunJob string

const (
	JobBillingCycle RunJob = "billing_cycle"
	JobOverdueSweep RunJob = "overdue_sweep"
)

// EntityError records one entity that could not be processed during a run.
type EntityError struct {
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
}

// RunReport aggregates the outcome of one engine run. Processed counts
// entities the run changed, Skipped counts entities claimed by someone else
// first, and Errored counts entities that failed and were left for the next
// run or for manual review.
type RunReport struct {
	RunID          string        `json:"run_id"`
	Job            RunJob        `json:"job"`
	AsOfDate       time.Time     `json:"as_of_date"`
	OrganizationID *int64        `json:"organization_id,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Processed      int           `json:"processed"`
	Skipped        int           `json:"skipped"`
	Errored        int           `json:"errored"`
	Errors         []EntityError `json:"errors,omitempty"`
}

// Duration returns the wall time the run took.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// reportBuilder accumulates run outcomes from concurrent workers.
type reportBuilder struct {
	mu     sync.Mutex
	report *RunReport
}

func newReportBuilder(runID string, job RunJob, asOf time.Time, organizationID *int64, startedAt time.Time) *reportBuilder {
	return &reportBuilder{
		report: &RunReport{
			RunID:          runID,
			Job:            job,
			AsOfDate:       asOf,
			OrganizationID: organizationID,
			StartedAt:      startedAt,
		},
	}
}

func (b *reportBuilder) processed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Processed++
}

func (b *reportBuilder) skipped() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Skipped++
}

func (b *reportBuilder) errored(entityType string, entityID int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Errored++
	b.report.Errors = append(b.report.Errors, EntityError{
		EntityType: entityType,
		EntityID:   entityID,
		Kind:       ClassifyError(err),
		Message:    err.Error(),
	})
}

// finish stamps the end time and returns the completed report.
func (b *reportBuilder) finish(finishedAt time.Time) *RunReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.FinishedAt = finishedAt
	return b.report
}
