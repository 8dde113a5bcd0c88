package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents one schema migration step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the billing schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations and users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(organization_id, email)
				);

				CREATE INDEX idx_users_organization_id ON users(organization_id);
			`,
		},
		{
			Version:     2,
			Description: "Create billing_plans table",
			SQL: `
				CREATE TABLE IF NOT EXISTS billing_plans (
					id VARCHAR(255) PRIMARY KEY,
					organization_id BIGINT NOT NULL DEFAULT 0,
					name VARCHAR(255) NOT NULL,
					amount_cents BIGINT NOT NULL,
					currency VARCHAR(8) NOT NULL DEFAULT 'USD',
					cycle_type VARCHAR(16) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_billing_plans_organization_id ON billing_plans(organization_id);
			`,
		},
		{
			Version:     3,
			Description: "Create subscription_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscription_assignments (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
					organization_id BIGINT NOT NULL,
					plan_id VARCHAR(255) NOT NULL,
					cycle_type VARCHAR(16) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					payment_status VARCHAR(16) NOT NULL DEFAULT 'active',
					anchor_date DATE,
					cycle_index BIGINT NOT NULL DEFAULT 0,
					next_billing_date DATE,
					last_billing_date DATE,
					fee_due_date DATE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_assignments_user_id ON subscription_assignments(user_id);
				CREATE INDEX idx_assignments_organization_id ON subscription_assignments(organization_id);
				CREATE INDEX idx_assignments_due ON subscription_assignments(next_billing_date)
					WHERE active;
			`,
		},
		{
			Version:     4,
			Description: "Create payment_records table with idempotency index",
			SQL: `
				CREATE TABLE IF NOT EXISTS payment_records (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					organization_id BIGINT NOT NULL,
					assignment_id BIGINT NOT NULL REFERENCES subscription_assignments(id) ON DELETE RESTRICT,
					plan_id VARCHAR(255) NOT NULL,
					status VARCHAR(16) NOT NULL DEFAULT 'pending',
					source VARCHAR(16) NOT NULL DEFAULT 'billing_cycle',
					amount_cents BIGINT NOT NULL,
					currency VARCHAR(8) NOT NULL DEFAULT 'USD',
					due_date DATE NOT NULL,
					idempotency_key VARCHAR(255) NOT NULL,
					method VARCHAR(64) NOT NULL DEFAULT '',
					gateway_reference VARCHAR(255) NOT NULL DEFAULT '',
					paid_at TIMESTAMP,
					note TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				-- At most one live obligation per (user, assignment, due date).
				-- Cancelled records fall out of the index so a voided cycle can
				-- be re-billed.
				CREATE UNIQUE INDEX uq_payment_records_idempotency
					ON payment_records(idempotency_key)
					WHERE status <> 'cancelled';

				CREATE INDEX idx_payment_records_user_id ON payment_records(user_id);
				CREATE INDEX idx_payment_records_assignment_id ON payment_records(assignment_id);
				CREATE INDEX idx_payment_records_pending_due ON payment_records(due_date)
					WHERE status = 'pending';
			`,
		},
		{
			Version:     5,
			Description: "Create billing_runs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS billing_runs (
					run_id VARCHAR(64) PRIMARY KEY,
					job VARCHAR(32) NOT NULL,
					as_of_date DATE NOT NULL,
					organization_id BIGINT,
					started_at TIMESTAMP NOT NULL,
					finished_at TIMESTAMP NOT NULL,
					processed INTEGER NOT NULL DEFAULT 0,
					skipped INTEGER NOT NULL DEFAULT 0,
					errored INTEGER NOT NULL DEFAULT 0,
					errors JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_billing_runs_job_started ON billing_runs(job, started_at DESC);
			`,
		},
		{
			Version:     6,
			Description: "Create billing_stats_daily rollup table",
			SQL: `
				CREATE TABLE IF NOT EXISTS billing_stats_daily (
					date DATE NOT NULL,
					organization_id BIGINT NOT NULL,
					records_created INTEGER NOT NULL DEFAULT 0,
					records_paid INTEGER NOT NULL DEFAULT 0,
					records_overdue INTEGER NOT NULL DEFAULT 0,
					records_cancelled INTEGER NOT NULL DEFAULT 0,
					amount_billed_cents BIGINT NOT NULL DEFAULT 0,
					amount_collected_cents BIGINT NOT NULL DEFAULT 0,
					amount_overdue_cents BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (date, organization_id)
				);
			`,
		},
	}
}

// RunMigrations applies all pending migrations, tracking applied versions in
// the billing_migrations table. Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS billing_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM billing_migrations")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO billing_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
