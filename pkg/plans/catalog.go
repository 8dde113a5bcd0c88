package plans

import (
	"context"

	"github.com/duetrack/duetrack/pkg/billing"
)

// Catalog is the full read surface of a plan source. The billing engine
// depends only on Lookup (billing.PlanCatalog); the HTTP API additionally
// lists plans.
type Catalog interface {
	// Lookup returns the plan with the given ID, or billing.ErrPlanNotFound.
	Lookup(ctx context.Context, planID string) (*billing.Plan, error)

	// List returns all plans, active or not, ordered by ID.
	List(ctx context.Context) ([]*billing.Plan, error)
}
