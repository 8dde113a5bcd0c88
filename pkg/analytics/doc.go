// Package analytics maintains the billing_stats_daily rollup table and
// serves revenue statistics from it.
//
// The Aggregator is idempotent: re-running a day recomputes that day's rows
// in place, so the scheduled rollup can safely overlap a manual backfill.
// Attribution follows the record lifecycle rather than a single timestamp:
// created counts go to the creation day, collected amounts to the payment
// day, and overdue amounts to the due date that was missed.
package analytics
