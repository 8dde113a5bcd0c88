package plans

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetrack/duetrack/pkg/billing"
)

const samplePlans = `
plans:
  - id: plan-basic
    name: Basic Coaching
    amount_cents: 250000
    currency: INR
    cycle_type: monthly
    active: true
  - id: plan-annual
    name: Annual Coaching
    amount_cents: 2400000
    currency: INR
    cycle_type: yearly
    active: true
  - id: plan-retired
    name: Old Batch
    amount_cents: 100000
    currency: INR
    cycle_type: monthly
    active: false
`

func writePlanFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileCatalogLookup(t *testing.T) {
	catalog, err := NewFileCatalog(writePlanFile(t, samplePlans))
	require.NoError(t, err)

	plan, err := catalog.Lookup(context.Background(), "plan-basic")
	require.NoError(t, err)
	assert.Equal(t, int64(250000), plan.AmountCents)
	assert.Equal(t, billing.CycleMonthly, plan.CycleType)

	_, err = catalog.Lookup(context.Background(), "plan-missing")
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)
}

func TestFileCatalogListOrdered(t *testing.T) {
	catalog, err := NewFileCatalog(writePlanFile(t, samplePlans))
	require.NoError(t, err)

	plans, err := catalog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "plan-annual", plans[0].ID)
	assert.Equal(t, "plan-basic", plans[1].ID)
	assert.Equal(t, "plan-retired", plans[2].ID)
}

func TestFileCatalogRejectsInvalidPlans(t *testing.T) {
	_, err := NewFileCatalog(writePlanFile(t, `
plans:
  - id: plan-bad
    name: Broken
    amount_cents: 100
    cycle_type: fortnightly
`))
	assert.Error(t, err)

	_, err = NewFileCatalog(writePlanFile(t, `
plans:
  - id: plan-dup
    name: One
    amount_cents: 100
    cycle_type: monthly
  - id: plan-dup
    name: Two
    amount_cents: 200
    cycle_type: monthly
`))
	assert.Error(t, err)
}

func TestFileCatalogReloadKeepsOldPlansOnParseError(t *testing.T) {
	path := writePlanFile(t, samplePlans)
	catalog, err := NewFileCatalog(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("plans: [not: valid: yaml"), 0644))
	assert.Error(t, catalog.Reload())

	// Previous catalog still serves.
	plan, err := catalog.Lookup(context.Background(), "plan-basic")
	require.NoError(t, err)
	assert.Equal(t, "Basic Coaching", plan.Name)
}

func TestFileCatalogReloadPicksUpChanges(t *testing.T) {
	path := writePlanFile(t, samplePlans)
	catalog, err := NewFileCatalog(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - id: plan-basic
    name: Basic Coaching
    amount_cents: 300000
    currency: INR
    cycle_type: monthly
    active: true
`), 0644))
	require.NoError(t, catalog.Reload())

	plan, err := catalog.Lookup(context.Background(), "plan-basic")
	require.NoError(t, err)
	assert.Equal(t, int64(300000), plan.AmountCents)

	_, err = catalog.Lookup(context.Background(), "plan-annual")
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)
}

func TestSaveFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "plans.yaml")
	plans := []*billing.Plan{
		{ID: "plan-a", Name: "A", AmountCents: 1000, Currency: "USD", CycleType: billing.CycleWeekly, Active: true},
	}
	require.NoError(t, SaveFile(path, plans))

	catalog, err := NewFileCatalog(path)
	require.NoError(t, err)
	plan, err := catalog.Lookup(context.Background(), "plan-a")
	require.NoError(t, err)
	assert.Equal(t, billing.CycleWeekly, plan.CycleType)
}
