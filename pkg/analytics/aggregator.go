package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Aggregator computes daily revenue rollups into billing_stats_daily.
type Aggregator struct {
	db *sql.DB
}

// NewAggregator creates an aggregator over the billing database.
func NewAggregator(db *sql.DB) *Aggregator {
	return &Aggregator{db: db}
}

// AggregateBillingStatsDaily recomputes one day's rollup for every
// organization that had billing activity that day. Counts are attributed
// per lifecycle stage: creations to created_at, collections to paid_at,
// overdue to the missed due_date, cancellations to updated_at.
func (a *Aggregator) AggregateBillingStatsDaily(ctx context.Context, date time.Time) error {
	query := `
		INSERT INTO billing_stats_daily (
			date, organization_id,
			records_created, records_paid, records_overdue, records_cancelled,
			amount_billed_cents, amount_collected_cents, amount_overdue_cents,
			updated_at
		)
		SELECT
			$1::date AS date,
			organization_id,
			COUNT(*) FILTER (
				WHERE created_at >= $1::date AND created_at < $1::date + INTERVAL '1 day'
			) AS records_created,
			COUNT(*) FILTER (
				WHERE paid_at >= $1::date AND paid_at < $1::date + INTERVAL '1 day'
			) AS records_paid,
			COUNT(*) FILTER (
				WHERE status = 'overdue' AND due_date = $1::date
			) AS records_overdue,
			COUNT(*) FILTER (
				WHERE status = 'cancelled'
				AND updated_at >= $1::date AND updated_at < $1::date + INTERVAL '1 day'
			) AS records_cancelled,
			COALESCE(SUM(amount_cents) FILTER (
				WHERE created_at >= $1::date AND created_at < $1::date + INTERVAL '1 day'
			), 0) AS amount_billed_cents,
			COALESCE(SUM(amount_cents) FILTER (
				WHERE paid_at >= $1::date AND paid_at < $1::date + INTERVAL '1 day'
			), 0) AS amount_collected_cents,
			COALESCE(SUM(amount_cents) FILTER (
				WHERE status = 'overdue' AND due_date = $1::date
			), 0) AS amount_overdue_cents,
			NOW() AS updated_at
		FROM payment_records
		WHERE (created_at >= $1::date AND created_at < $1::date + INTERVAL '1 day')
		   OR (paid_at >= $1::date AND paid_at < $1::date + INTERVAL '1 day')
		   OR (status = 'overdue' AND due_date = $1::date)
		   OR (status = 'cancelled' AND updated_at >= $1::date AND updated_at < $1::date + INTERVAL '1 day')
		GROUP BY organization_id
		ON CONFLICT (date, organization_id) DO UPDATE SET
			records_created = EXCLUDED.records_created,
			records_paid = EXCLUDED.records_paid,
			records_overdue = EXCLUDED.records_overdue,
			records_cancelled = EXCLUDED.records_cancelled,
			amount_billed_cents = EXCLUDED.amount_billed_cents,
			amount_collected_cents = EXCLUDED.amount_collected_cents,
			amount_overdue_cents = EXCLUDED.amount_overdue_cents,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := a.db.ExecContext(ctx, query, date); err != nil {
		return fmt.Errorf("failed to aggregate billing stats for %s: %w",
			date.Format("2006-01-02"), err)
	}
	return nil
}

// AggregateRange backfills rollups for every day in [start, end].
func (a *Aggregator) AggregateRange(ctx context.Context, start, end time.Time) error {
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := a.AggregateBillingStatsDaily(ctx, day); err != nil {
			return err
		}
	}
	return nil
}
