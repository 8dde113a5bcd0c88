package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Service answers revenue statistics queries from the rollup table.
type Service struct {
	db *sql.DB
}

// NewService creates an analytics service over the billing database.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// BillingStatsRow is one day's rollup for one organization.
type BillingStatsRow struct {
	Date                 time.Time `json:"date"`
	OrganizationID       int64     `json:"organization_id"`
	RecordsCreated       int64     `json:"records_created"`
	RecordsPaid          int64     `json:"records_paid"`
	RecordsOverdue       int64     `json:"records_overdue"`
	RecordsCancelled     int64     `json:"records_cancelled"`
	AmountBilledCents    int64     `json:"amount_billed_cents"`
	AmountCollectedCents int64     `json:"amount_collected_cents"`
	AmountOverdueCents   int64     `json:"amount_overdue_cents"`
}

// StatsQuery filters a billing stats request. OrganizationID zero means all
// organizations.
type StatsQuery struct {
	Start          time.Time
	End            time.Time
	OrganizationID int64
}

// BillingStatsResponse carries the per-day rows plus range totals.
type BillingStatsResponse struct {
	Start  string             `json:"start"`
	End    string             `json:"end"`
	Rows   []*BillingStatsRow `json:"rows"`
	Totals BillingStatsTotals `json:"totals"`
}

// BillingStatsTotals sums a response's rows.
type BillingStatsTotals struct {
	RecordsCreated       int64   `json:"records_created"`
	RecordsPaid          int64   `json:"records_paid"`
	RecordsOverdue       int64   `json:"records_overdue"`
	AmountBilledCents    int64   `json:"amount_billed_cents"`
	AmountCollectedCents int64   `json:"amount_collected_cents"`
	AmountOverdueCents   int64   `json:"amount_overdue_cents"`
	CollectionRate       float64 `json:"collection_rate"`
}

// QueryBillingStats returns daily rollups in [q.Start, q.End] with totals.
func (s *Service) QueryBillingStats(ctx context.Context, q StatsQuery) (*BillingStatsResponse, error) {
	if q.End.Before(q.Start) {
		return nil, fmt.Errorf("end date %s precedes start date %s",
			q.End.Format("2006-01-02"), q.Start.Format("2006-01-02"))
	}

	query := `
		SELECT date, organization_id,
			records_created, records_paid, records_overdue, records_cancelled,
			amount_billed_cents, amount_collected_cents, amount_overdue_cents
		FROM billing_stats_daily
		WHERE date >= $1 AND date <= $2
	`
	args := []interface{}{q.Start, q.End}
	if q.OrganizationID != 0 {
		query += ` AND organization_id = $3`
		args = append(args, q.OrganizationID)
	}
	query += ` ORDER BY date, organization_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query billing stats: %w", err)
	}
	defer rows.Close()

	resp := &BillingStatsResponse{
		Start: q.Start.Format("2006-01-02"),
		End:   q.End.Format("2006-01-02"),
		Rows:  []*BillingStatsRow{},
	}
	for rows.Next() {
		var r BillingStatsRow
		if err := rows.Scan(
			&r.Date, &r.OrganizationID,
			&r.RecordsCreated, &r.RecordsPaid, &r.RecordsOverdue, &r.RecordsCancelled,
			&r.AmountBilledCents, &r.AmountCollectedCents, &r.AmountOverdueCents,
		); err != nil {
			return nil, fmt.Errorf("failed to scan billing stats row: %w", err)
		}
		resp.Rows = append(resp.Rows, &r)

		resp.Totals.RecordsCreated += r.RecordsCreated
		resp.Totals.RecordsPaid += r.RecordsPaid
		resp.Totals.RecordsOverdue += r.RecordsOverdue
		resp.Totals.AmountBilledCents += r.AmountBilledCents
		resp.Totals.AmountCollectedCents += r.AmountCollectedCents
		resp.Totals.AmountOverdueCents += r.AmountOverdueCents
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate billing stats: %w", err)
	}

	if resp.Totals.AmountBilledCents > 0 {
		resp.Totals.CollectionRate =
			float64(resp.Totals.AmountCollectedCents) / float64(resp.Totals.AmountBilledCents)
	}
	return resp, nil
}

// Overview contains live receivables KPIs read straight from
// payment_records, not the rollup, so they are current to the second.
type Overview struct {
	PendingRecords      int64 `json:"pending_records"`
	PendingAmountCents  int64 `json:"pending_amount_cents"`
	OverdueRecords      int64 `json:"overdue_records"`
	OverdueAmountCents  int64 `json:"overdue_amount_cents"`
	ActiveAssignments   int64 `json:"active_assignments"`
	CollectedTodayCents int64 `json:"collected_today_cents"`
}

// GetOverview returns live receivables KPIs, optionally scoped to one
// organization.
func (s *Service) GetOverview(ctx context.Context, organizationID int64) (*Overview, error) {
	var o Overview

	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COALESCE(SUM(amount_cents) FILTER (WHERE status = 'pending'), 0),
			COUNT(*) FILTER (WHERE status = 'overdue'),
			COALESCE(SUM(amount_cents) FILTER (WHERE status = 'overdue'), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE paid_at >= CURRENT_DATE), 0)
		FROM payment_records
	`
	args := []interface{}{}
	if organizationID != 0 {
		query += ` WHERE organization_id = $1`
		args = append(args, organizationID)
	}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&o.PendingRecords, &o.PendingAmountCents,
		&o.OverdueRecords, &o.OverdueAmountCents,
		&o.CollectedTodayCents,
	)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query receivables overview: %w", err)
	}

	query = `SELECT COUNT(*) FROM subscription_assignments WHERE active`
	args = args[:0]
	if organizationID != 0 {
		query += ` AND organization_id = $1`
		args = append(args, organizationID)
	}
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&o.ActiveAssignments)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to count active assignments: %w", err)
	}

	return &o, nil
}
