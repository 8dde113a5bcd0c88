package plans

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/duetrack/duetrack/pkg/billing"
)

// PostgresCatalog reads plans from the billing_plans table.
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog creates a catalog over an existing database handle.
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

const planColumns = `id, organization_id, name, amount_cents, currency, cycle_type, active`

func scanPlan(scanner interface{ Scan(...interface{}) error }) (*billing.Plan, error) {
	var p billing.Plan
	err := scanner.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.AmountCents, &p.Currency, &p.CycleType, &p.Active)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Lookup returns the plan with the given ID, or billing.ErrPlanNotFound.
func (c *PostgresCatalog) Lookup(ctx context.Context, planID string) (*billing.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM billing_plans WHERE id = $1`
	p, err := scanPlan(c.db.QueryRowContext(ctx, query, planID))
	if err == sql.ErrNoRows {
		return nil, billing.ErrPlanNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up plan: %w", err)
	}
	return p, nil
}

// List returns all plans ordered by ID.
func (c *PostgresCatalog) List(ctx context.Context) ([]*billing.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM billing_plans ORDER BY id`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*billing.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// Upsert creates or replaces a plan. Used by seeding tools and tests; the
// cycle engine itself never writes plans.
func (c *PostgresCatalog) Upsert(ctx context.Context, p *billing.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO billing_plans (id, organization_id, name, amount_cents, currency, cycle_type, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			amount_cents = EXCLUDED.amount_cents,
			currency = EXCLUDED.currency,
			cycle_type = EXCLUDED.cycle_type,
			active = EXCLUDED.active,
			updated_at = NOW()
	`, p.ID, p.OrganizationID, p.Name, p.AmountCents, p.Currency, string(p.CycleType), p.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}
